// Package api exposes the HTTP control surface: submitting send requests,
// steering jobs, and reading queue state. It binds to loopback by default.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"sendbot/internal/config"
	"sendbot/internal/control"
	"sendbot/internal/registry"
	"sendbot/pkg/logx"
)

type Server struct {
	cfg config.APIConfig
	ctl *control.Service
	reg *registry.Registry
	log logx.Logger
}

func NewServer(cfg config.APIConfig, ctl *control.Service, reg *registry.Registry, log logx.Logger) *Server {
	return &Server{cfg: cfg, ctl: ctl, reg: reg, log: log}
}

// Handler builds the route table. Split out from Run so tests can drive it
// through httptest without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	// message is a trailing wildcard: encoded slashes and spaces pass through
	mux.HandleFunc("GET /send/{target}/{message...}", s.handleSend)
	mux.HandleFunc("GET /status/{id}", s.handleStatus)
	mux.HandleFunc("GET /cancel/{id}", s.handleCancel)
	mux.HandleFunc("GET /pause/{id}", s.handlePause)
	mux.HandleFunc("GET /resume/{id}", s.handleResume)
	mux.HandleFunc("GET /retry/{id}", s.handleRetry)
	mux.HandleFunc("GET /recover", s.handleRecover)

	mux.HandleFunc("POST /contacts", s.handleAddContact)
	mux.HandleFunc("GET /contacts/{group}", s.handleListGroup)

	return mux
}

// Run serves until ctx is canceled. A clean shutdown returns
// context.Canceled so a supervising restart loop treats it as a stop.
func (s *Server) Run(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:5000"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	read, _ := config.ParseDurationOrDefault("api.read_timeout", s.cfg.ReadTimeout, 10*time.Second)
	write, _ := config.ParseDurationOrDefault("api.write_timeout", s.cfg.WriteTimeout, 30*time.Second)
	idle, _ := config.ParseDurationOrDefault("api.idle_timeout", s.cfg.IdleTimeout, time.Minute)

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	s.log.Info("api listening", logx.String("addr", ln.Addr().String()))
	err = srv.Serve(ln)
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return context.Canceled
	}
	return err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
