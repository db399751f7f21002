// Package app assembles the daemon: config, logging, the job store, the
// executor pool, the HTTP control surface, and maintenance cron.
package app

import (
	"context"
	"fmt"
	"time"

	"sendbot/internal/api"
	"sendbot/internal/config"
	"sendbot/internal/control"
	"sendbot/internal/eventbus"
	"sendbot/internal/maintenance"
	"sendbot/internal/observability/debug"
	"sendbot/internal/pool"
	"sendbot/internal/registry"
	"sendbot/internal/runtime/supervisor"
	"sendbot/internal/sender"
	"sendbot/internal/store"
	"sendbot/pkg/logx"
	"sendbot/pkg/systemd"
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	bus eventbus.Bus
	st  *store.Store
	reg *registry.Registry
	ctl *control.Service

	pool  *pool.Pool
	api   *api.Server
	maint *maintenance.Service
	debug *debug.Service

	sup    *supervisor.Supervisor
	cfgSub chan *config.Config
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return config.Validate(c)
	})

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{Path: cfg.Storage.Path, BusyTimeout: busyTimeout},
		log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	bus := eventbus.New()
	reg := registry.New()
	ctl := control.NewService(st, bus, log.With(logx.String("comp", "control")))

	a := &App{
		cfgm: cfgm,
		logs: logs,
		log:  log,
		bus:  bus,
		st:   st,
		reg:  reg,
		ctl:  ctl,
	}

	if cfg.API.Enabled {
		a.api = api.NewServer(cfg.API, ctl, reg, log.With(logx.String("comp", "api")))
	}
	if mc := maintenanceConfig(cfg); mc.Enabled {
		a.maint = maintenance.New(mc, st, log.With(logx.String("comp", "maintenance")))
	}
	if dc := cfg.Debug; dc != nil && dc.Enabled {
		a.debug = debug.New(debug.Config{
			Enabled:       true,
			Addr:          dc.Addr,
			Token:         dc.Token,
			AllowInsecure: dc.AllowInsecure,
		}, log.With(logx.String("comp", "debug")))
	}
	return a, nil
}

// maintenanceConfig defaults to enabled when the section is omitted.
func maintenanceConfig(cfg *config.Config) config.MaintenanceConfig {
	if cfg.Maintenance == nil {
		return config.MaintenanceConfig{Enabled: true}
	}
	return *cfg.Maintenance
}

func poolConfig(cfg *config.Config) (pool.Config, error) {
	scale, err := config.ParseDurationOrDefault("pool.scale_interval", cfg.Pool.ScaleInterval, 5*time.Second)
	if err != nil {
		return pool.Config{}, err
	}
	delay, err := config.ParseDurationOrDefault("pool.start_delay", cfg.Pool.StartDelay, 4*time.Second)
	if err != nil {
		return pool.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("pool.idle_backoff", cfg.Pool.IdleBackoff, 2*time.Second)
	if err != nil {
		return pool.Config{}, err
	}
	probe, err := config.ParseDurationOrDefault("telegram.probe_interval", cfg.Telegram.ProbeInterval, 6*time.Second)
	if err != nil {
		return pool.Config{}, err
	}
	return pool.Config{
		InitialExecutors: cfg.Pool.InitialExecutors,
		TasksPerExecutor: cfg.Pool.TasksPerExecutor,
		MaxExecutors:     cfg.Pool.MaxExecutors,
		ScaleInterval:    scale,
		StartDelay:       delay,
		IdleBackoff:      idle,
		ProbeInterval:    probe,
	}, nil
}

// senderFactory builds a Telegram sender from the config current at build
// time, so a token rotated via hot reload is picked up on the next rebuild.
func (a *App) senderFactory(_ context.Context) (sender.Sender, error) {
	cfg := a.cfgm.Get()
	return sender.NewTelegram(sender.Config{
		Token:      cfg.Telegram.Token,
		RatePerSec: cfg.Telegram.RatePerSec,
	}, a.log.With(logx.String("comp", "sender")))
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()

	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	// Requeue anything the previous process left running before any
	// executor can claim.
	recovered, err := a.st.RecoverStartup(ctx)
	if err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}
	if recovered > 0 {
		a.log.Info("recovered interrupted jobs", logx.Int("jobs", recovered))
	}

	pcfg, err := poolConfig(cfg)
	if err != nil {
		return err
	}
	a.pool = pool.New(pcfg, a.st, a.reg, a.bus, a.sup, a.senderFactory,
		a.log.With(logx.String("comp", "pool")))
	a.pool.Start(a.sup.Context())

	if a.api != nil {
		a.sup.GoRestart("api", a.api.Run)
	}
	if a.maint != nil {
		if err := a.maint.Start(); err != nil {
			return fmt.Errorf("start maintenance: %w", err)
		}
	}
	if a.debug != nil {
		a.sup.GoRestart("debug", a.debug.Run)
	}

	events, unsub := a.bus.Subscribe(64)
	a.sup.Go0("event-log", func(ctx context.Context) {
		defer unsub()
		eventLogLoop(ctx, events, a.log.With(logx.String("comp", "events")))
	})

	a.sup.GoRestart("config-watch", a.cfgm.Watch)
	a.cfgSub = a.cfgm.Subscribe(4)
	a.sup.Go0("config-apply", a.applyConfigUpdates)

	if wd, _ := systemd.WatchdogInterval(); wd > 0 {
		a.sup.Go0("watchdog", func(ctx context.Context) { watchdogLoop(ctx, wd/2) })
	}

	_, _ = systemd.NotifyReady()
	a.log.Info("started")
	return nil
}

// applyConfigUpdates reacts to hot reloads. Only logging changes apply
// live; everything else takes effect on restart (or, for the sender
// token, on the next session rebuild).
func (a *App) applyConfigUpdates(ctx context.Context) {
	var last *config.Config
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.cfgSub:
			if !ok {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			changed, attrs := config.SummarizeChange(last, cfg)
			if len(changed) > 0 {
				a.log.Info("config reloaded", attrs...)
			}
			last = cfg
		}
	}
}

// eventLogLoop mirrors bus traffic into the structured log, so every job
// and pool transition is observable without querying the store.
func eventLogLoop(ctx context.Context, events <-chan eventbus.Event, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			fields := []logx.Field{logx.String("type", ev.Type)}
			if je, ok := ev.Data.(eventbus.JobEvent); ok {
				if je.JobID != "" {
					fields = append(fields, logx.String("job", je.JobID))
				}
				if je.Executor != "" {
					fields = append(fields, logx.String("executor", je.Executor))
				}
				if je.Detail != "" {
					fields = append(fields, logx.String("detail", je.Detail))
				}
			}
			log.Debug("event", fields...)
		}
	}
}

func watchdogLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = systemd.NotifyWatchdog()
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = systemd.NotifyStopping()
	a.log.Info("stopping")

	if a.sup != nil {
		_ = a.sup.Stop(ctx)
	}
	if a.maint != nil {
		a.maint.Stop()
	}
	if a.cfgSub != nil {
		a.cfgm.Unsubscribe(a.cfgSub)
	}

	err := a.st.Close()
	_ = a.logs.Close()
	return err
}
