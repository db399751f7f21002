package pool

import (
	"context"

	"sendbot/internal/eventbus"

	logx "sendbot/pkg/logx"
)

// Controller grows the executor pool under backlog pressure.
//
// Each cycle: pending eligible targets vs ready capacity (ready executors ×
// tasks per executor). At most one spawn per cycle, followed by a settle
// delay so the next evaluation sees its effect. The pool never shrinks, and
// nothing is spawned while zero executors are ready.
type Controller struct {
	pool *Pool
}

func (c *Controller) Run(ctx context.Context) error {
	p := c.pool
	for {
		if !sleepCtx(ctx, p.cfg.ScaleInterval) {
			return ctx.Err()
		}
		spawned, err := c.evaluate(ctx)
		if err != nil {
			p.log.Warn("capacity check failed", logx.Any("err", err))
			continue
		}
		if spawned {
			if !sleepCtx(ctx, p.cfg.StartDelay) {
				return ctx.Err()
			}
		}
	}
}

// evaluate runs one capacity decision. Returns whether an executor was
// spawned.
func (c *Controller) evaluate(ctx context.Context) (bool, error) {
	p := c.pool

	pending, err := p.st.CountPendingTargets(ctx)
	if err != nil {
		return false, err
	}
	current := p.reg.Count()
	ready := p.reg.ReadyCount()
	readyCapacity := ready * p.cfg.TasksPerExecutor

	p.log.Debug("capacity check",
		logx.Int("pending", pending),
		logx.Int("executors", current),
		logx.Int("ready", ready),
		logx.Int("ready_capacity", readyCapacity),
	)

	if ready == 0 {
		// never bootstrap without at least one ready executor
		return false, nil
	}
	if pending <= readyCapacity {
		return false, nil
	}
	if p.cfg.MaxExecutors > 0 && current >= p.cfg.MaxExecutors {
		p.log.Debug("growth ceiling reached", logx.Int("max_executors", p.cfg.MaxExecutors))
		return false, nil
	}

	id := p.Spawn()
	p.log.Info("scaled up",
		logx.String("executor", id),
		logx.Int("pending", pending),
		logx.Int("ready_capacity", readyCapacity),
	)
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: "pool.scaled", Data: eventbus.JobEvent{Executor: id}})
	}
	return true, nil
}
