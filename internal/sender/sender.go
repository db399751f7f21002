// Package sender defines the message-send capability bound to each executor
// and its Telegram implementation.
package sender

import (
	"context"
	"strings"
)

// Error codes recorded on failed targets.
const (
	CodeInvalidDestination = "invalid_destination"
	CodeSendFailed         = "send_failed"
	CodeCanceled           = "canceled"
	CodeNotReady           = "not_ready"
)

// Result is the outcome of one send attempt.
type Result struct {
	OK    bool
	Error string
}

// Sender is the capability an executor drives. Implementations are
// hot-swappable: executors re-resolve their sender before every target.
type Sender interface {
	// Ready reports whether the capability can currently deliver.
	Ready() bool

	// Send delivers one message. Domain failures come back inside Result,
	// not as an error.
	Send(ctx context.Context, destination, message string) Result
}

// NormalizeDestination strips spaces and a leading + from a numeric
// destination. Returns ("", false) if what remains is neither digits nor a
// @username.
func NormalizeDestination(dest string) (string, bool) {
	d := strings.ReplaceAll(strings.TrimSpace(dest), " ", "")
	if strings.HasPrefix(d, "@") {
		if len(d) > 1 {
			return d, true
		}
		return "", false
	}
	d = strings.TrimPrefix(d, "+")
	if d == "" {
		return "", false
	}
	for _, r := range d {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return d, true
}
