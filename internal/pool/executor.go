package pool

import (
	"context"
	"errors"
	"time"

	"sendbot/internal/eventbus"
	"sendbot/internal/registry"
	"sendbot/internal/store"

	logx "sendbot/pkg/logx"
)

// Executor is one worker loop bound to a capacity unit. Per cycle it claims
// the next eligible job, drives its targets in ordinal order, and finalizes
// the terminal status. The sender is re-resolved before every target because
// the session runner may replace it at any time.
type Executor struct {
	id      string
	st      *store.Store
	reg     *registry.Registry
	arbiter *Arbiter
	bus     eventbus.Bus
	log     logx.Logger

	idleBackoff time.Duration
}

func NewExecutor(id string, st *store.Store, reg *registry.Registry, arb *Arbiter, bus eventbus.Bus, idleBackoff time.Duration, log logx.Logger) *Executor {
	if idleBackoff <= 0 {
		idleBackoff = 2 * time.Second
	}
	return &Executor{
		id:          id,
		st:          st,
		reg:         reg,
		arbiter:     arb,
		bus:         bus,
		log:         log,
		idleBackoff: idleBackoff,
	}
}

// Run loops until ctx is canceled. Cycle failures are logged and absorbed
// after a short delay; the loop never terminates itself.
func (e *Executor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.cycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			e.log.Error("executor cycle failed", logx.String("executor", e.id), logx.Any("err", err))
			e.sleep(ctx, e.idleBackoff)
		}
	}
}

func (e *Executor) cycle(ctx context.Context) error {
	snd, ready := e.reg.Resolve(e.id)
	if snd == nil || !ready {
		e.sleep(ctx, e.idleBackoff)
		return nil
	}

	job, err := e.arbiter.Claim(ctx, e.id)
	if err != nil {
		return err
	}
	if job == nil {
		e.sleep(ctx, e.idleBackoff)
		return nil
	}

	e.publish("job.claimed", eventbus.JobEvent{JobID: job.ID, Executor: e.id})
	e.log.Info("job claimed", logx.String("executor", e.id), logx.String("job", job.ID))

	if err := e.runTargets(ctx, job.ID); err != nil {
		return err
	}

	final, err := e.st.FinalizeJob(ctx, job.ID)
	if err != nil {
		return err
	}
	switch final {
	case store.JobDone:
		e.publish("job.done", eventbus.JobEvent{JobID: job.ID, Executor: e.id})
		e.log.Info("job done", logx.String("executor", e.id), logx.String("job", job.ID))
	case store.JobFailed:
		e.publish("job.failed", eventbus.JobEvent{JobID: job.ID, Executor: e.id})
		e.log.Warn("job failed", logx.String("executor", e.id), logx.String("job", job.ID))
	}
	return nil
}

// runTargets walks the job's targets in ordinal order. Before each target the
// latest job record and sender are re-read: cancellation, operator pause, and
// capability loss are all observed at target boundaries.
func (e *Executor) runTargets(ctx context.Context, jobID string) error {
	targets, err := e.st.Targets(ctx, jobID)
	if err != nil {
		return err
	}

	for _, t := range targets {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		snd, ready := e.reg.Resolve(e.id)
		if snd == nil {
			if err := e.st.MarkJobPaused(ctx, jobID, "Paused: sender missing"); err != nil {
				return err
			}
			e.publish("job.paused", eventbus.JobEvent{JobID: jobID, Executor: e.id, Detail: "sender missing"})
			return nil
		}

		job, err := e.st.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Canceled {
			if _, err := e.st.CancelRemainingTargets(ctx, jobID); err != nil {
				return err
			}
			e.publish("job.canceled", eventbus.JobEvent{JobID: jobID, Executor: e.id})
			return nil
		}
		if job.Paused || !ready {
			if err := e.st.MarkJobPaused(ctx, jobID, "Paused: sender not ready"); err != nil {
				return err
			}
			e.publish("job.paused", eventbus.JobEvent{JobID: jobID, Executor: e.id, Detail: "sender not ready"})
			return nil
		}

		// Re-read the target's status rather than trusting the snapshot:
		// terminal targets from a prior partial run are skipped, and a
		// concurrent retry reset is picked up. Resume is idempotent.
		status, err := e.st.TargetStatus(ctx, t.ID)
		if err != nil {
			return err
		}
		if status.Terminal() {
			continue
		}

		if err := e.st.MarkTargetRunning(ctx, t.ID); err != nil {
			return err
		}

		res := snd.Send(ctx, t.Destination, t.Message)
		if res.OK {
			if err := e.st.MarkTargetSent(ctx, jobID, t.ID, t.Destination); err != nil {
				return err
			}
			e.publish("target.sent", eventbus.JobEvent{JobID: jobID, Executor: e.id, Destination: t.Destination})
		} else {
			if err := e.st.MarkTargetFailed(ctx, jobID, t.ID, t.Destination, res.Error); err != nil {
				return err
			}
			e.publish("target.failed", eventbus.JobEvent{JobID: jobID, Executor: e.id, Destination: t.Destination, Detail: res.Error})
		}
	}
	return nil
}

func (e *Executor) publish(typ string, data eventbus.JobEvent) {
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
