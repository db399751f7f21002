// Package pool runs the executor pool: the claim arbiter, the per-executor
// run loops and capability sessions, and the capacity controller that grows
// the pool under backlog pressure.
package pool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"sendbot/internal/eventbus"
	"sendbot/internal/registry"
	"sendbot/internal/runtime/supervisor"
	"sendbot/internal/sender"
	"sendbot/internal/store"

	logx "sendbot/pkg/logx"
)

// SenderFactory builds a fresh sender for an executor session. Called again
// whenever a bound sender dies.
type SenderFactory func(ctx context.Context) (sender.Sender, error)

// prober is implemented by senders that can actively verify liveness.
type prober interface {
	Probe(ctx context.Context) bool
}

type Config struct {
	InitialExecutors int
	TasksPerExecutor int

	// MaxExecutors caps growth. 0 means unlimited.
	MaxExecutors int

	ScaleInterval time.Duration
	StartDelay    time.Duration
	IdleBackoff   time.Duration
	ProbeInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.InitialExecutors <= 0 {
		c.InitialExecutors = 1
	}
	if c.TasksPerExecutor <= 0 {
		c.TasksPerExecutor = 10
	}
	if c.ScaleInterval <= 0 {
		c.ScaleInterval = 5 * time.Second
	}
	if c.StartDelay <= 0 {
		c.StartDelay = 4 * time.Second
	}
	if c.IdleBackoff <= 0 {
		c.IdleBackoff = 2 * time.Second
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 6 * time.Second
	}
	return c
}

type Pool struct {
	cfg     Config
	st      *store.Store
	reg     *registry.Registry
	bus     eventbus.Bus
	sup     *supervisor.Supervisor
	arbiter *Arbiter
	factory SenderFactory
	log     logx.Logger

	// next numbers executors monotonically; the pool never shrinks, so ids
	// are never reused.
	next atomic.Int64
}

func New(cfg Config, st *store.Store, reg *registry.Registry, bus eventbus.Bus, sup *supervisor.Supervisor, factory SenderFactory, log logx.Logger) *Pool {
	return &Pool{
		cfg:     cfg.withDefaults(),
		st:      st,
		reg:     reg,
		bus:     bus,
		sup:     sup,
		arbiter: NewArbiter(st),
		factory: factory,
		log:     log,
	}
}

// Start spawns the initial executors and the capacity controller.
// Startup recovery must have completed before this is called.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.InitialExecutors; i++ {
		p.Spawn()
		// brief stagger so capability sessions don't all dial at once
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.StartDelay / 5):
		}
	}

	ctrl := &Controller{pool: p}
	p.sup.GoRestart("capacity-controller", ctrl.Run)
}

// Spawn starts one new executor: registers it, runs its capability session,
// and runs its claim/execute loop. Returns the executor id.
func (p *Pool) Spawn() string {
	id := fmt.Sprintf("executor_%02d", p.next.Add(1))
	p.reg.Register(id)
	p.log.Info("spawning executor", logx.String("executor", id))

	p.sup.GoRestart("session."+id, func(ctx context.Context) error {
		p.runSession(ctx, id)
		return ctx.Err()
	})

	ex := NewExecutor(id, p.st, p.reg, p.arbiter, p.bus, p.cfg.IdleBackoff, p.log.With(logx.String("executor", id)))
	p.sup.GoRestart(id, ex.Run)

	return id
}

// runSession owns an executor's sender lifecycle: build it, bind it, keep the
// readiness flag fresh, and rebuild after consecutive probe failures.
func (p *Pool) runSession(ctx context.Context, id string) {
	const rebuildAfterFailures = 3

	backoff := time.Second
	failures := 0

	for {
		if ctx.Err() != nil {
			return
		}

		snd, _ := p.reg.Resolve(id)
		if snd == nil {
			s, err := p.factory(ctx)
			if err != nil {
				p.log.Warn("sender build failed", logx.String("executor", id), logx.Any("err", err))
				if !sleepCtx(ctx, backoff) {
					return
				}
				if backoff < 30*time.Second {
					backoff *= 2
				}
				continue
			}
			backoff = time.Second
			failures = 0
			p.reg.Bind(id, s)
			p.reg.SetReady(id, s.Ready())
			p.log.Info("sender bound", logx.String("executor", id), logx.Bool("ready", s.Ready()))
			snd = s
		}

		if !sleepCtx(ctx, p.cfg.ProbeInterval) {
			return
		}

		ready := false
		if pr, ok := snd.(prober); ok {
			ready = pr.Probe(ctx)
		} else {
			ready = snd.Ready()
		}
		p.reg.SetReady(id, ready)

		if ready {
			failures = 0
			continue
		}
		failures++
		if failures >= rebuildAfterFailures {
			p.log.Warn("sender unresponsive; rebuilding", logx.String("executor", id), logx.Int("failures", failures))
			p.reg.Bind(id, nil)
			p.reg.SetReady(id, false)
			failures = 0
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
