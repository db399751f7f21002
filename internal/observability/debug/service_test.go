package debug

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"sendbot/pkg/logx"
)

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:6060": true,
		"[::1]:6060":     true,
		":6060":          true,
		"0.0.0.0:6060":   false,
		"10.0.0.5:6060":  false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestWithAuth(t *testing.T) {
	s := New(Config{Token: "secret"}, logx.Nop())
	h := s.withAuth(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	check := func(req *http.Request, want int) {
		t.Helper()
		rec := httptest.NewRecorder()
		h(rec, req)
		if rec.Code != want {
			t.Fatalf("status = %d, want %d", rec.Code, want)
		}
	}

	check(httptest.NewRequest("GET", "/debug/pprof/", nil), http.StatusUnauthorized)
	check(httptest.NewRequest("GET", "/debug/pprof/?token=wrong", nil), http.StatusUnauthorized)
	check(httptest.NewRequest("GET", "/debug/pprof/?token=secret", nil), http.StatusOK)

	req := httptest.NewRequest("GET", "/debug/pprof/", nil)
	req.Header.Set("Authorization", "Bearer secret")
	check(req, http.StatusOK)
}

func TestInsecureBindRefused(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, logx.Nop())
	if err := s.Run(t.Context()); err == nil {
		t.Fatal("Run accepted a public bind without a token")
	}
}
