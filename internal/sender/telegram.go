package sender

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "sendbot/pkg/logx"
)

type Config struct {
	Token string

	// RatePerSec caps outbound sends. 0 defaults to 1.
	RatePerSec int

	// SendTimeout bounds a single delivery. 0 defaults to 30s.
	SendTimeout time.Duration
}

// Telegram delivers messages through the Bot API. Send-only: the bot is never
// started as a poller.
type Telegram struct {
	bot     *tele.Bot
	limiter *rate.Limiter
	timeout time.Duration
	log     logx.Logger

	ready atomic.Bool
}

func NewTelegram(cfg Config, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}

	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	t := &Telegram{
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		timeout: timeout,
		log:     log,
	}
	// NewBot already performed getMe successfully.
	t.ready.Store(true)
	return t, nil
}

func (t *Telegram) Ready() bool { return t.ready.Load() }

// Probe refreshes the readiness flag with a getMe round trip. Called
// periodically by the executor session runner.
func (t *Telegram) Probe(ctx context.Context) bool {
	done := make(chan bool, 1)
	go func() {
		_, err := t.bot.Raw("getMe", nil)
		done <- err == nil
	}()

	var ok bool
	select {
	case ok = <-done:
	case <-ctx.Done():
		ok = false
	case <-time.After(10 * time.Second):
		ok = false
	}
	if !ok && t.ready.Load() && !t.log.IsZero() {
		t.log.Warn("telegram probe failed; marking not ready")
	}
	t.ready.Store(ok)
	return ok
}

func (t *Telegram) Send(ctx context.Context, destination, message string) Result {
	if !t.ready.Load() {
		return Result{Error: CodeNotReady}
	}

	dest, ok := NormalizeDestination(destination)
	if !ok {
		return Result{Error: CodeInvalidDestination}
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return Result{Error: CodeCanceled}
	}

	sctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	to := recipientFor(dest)
	errCh := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(to, message)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			if !t.log.IsZero() {
				t.log.Warn("send failed", logx.String("destination", dest), logx.Any("err", err))
			}
			return Result{Error: CodeSendFailed}
		}
		return Result{OK: true}
	case <-sctx.Done():
		if ctx.Err() != nil {
			return Result{Error: CodeCanceled}
		}
		return Result{Error: CodeSendFailed}
	}
}

func recipientFor(dest string) tele.Recipient {
	if strings.HasPrefix(dest, "@") {
		return username(dest)
	}
	if id, err := strconv.ParseInt(dest, 10, 64); err == nil {
		return tele.ChatID(id)
	}
	return username(dest)
}

// username satisfies tele.Recipient for @channel style destinations.
type username string

func (u username) Recipient() string { return string(u) }
