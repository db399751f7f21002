// Package maintenance runs the periodic housekeeping jobs: WAL checkpoints
// and a daily queue-stats log line. Schedules are standard 5-field cron
// expressions.
package maintenance

import (
	"context"

	"github.com/robfig/cron/v3"

	"sendbot/internal/config"
	"sendbot/internal/store"
	"sendbot/pkg/logx"
)

type Service struct {
	cfg    config.MaintenanceConfig
	st     *store.Store
	log    logx.Logger
	parser cron.Parser
	c      *cron.Cron
}

func New(cfg config.MaintenanceConfig, st *store.Store, log logx.Logger) *Service {
	return &Service{
		cfg:    cfg,
		st:     st,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start registers the schedules and starts the cron runner. Invalid
// expressions are reported up front instead of silently never firing.
func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}

	s.c = cron.New(cron.WithParser(s.parser))

	checkpoint := s.cfg.CheckpointSchedule
	if checkpoint == "" {
		checkpoint = "*/30 * * * *"
	}
	if _, err := s.c.AddFunc(checkpoint, s.checkpoint); err != nil {
		return err
	}

	stats := s.cfg.StatsSchedule
	if stats == "" {
		stats = "0 0 * * *"
	}
	if _, err := s.c.AddFunc(stats, s.logStats); err != nil {
		return err
	}

	s.c.Start()
	s.log.Info("maintenance started",
		logx.String("checkpoint", checkpoint),
		logx.String("stats", stats))
	return nil
}

func (s *Service) Stop() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
}

func (s *Service) checkpoint() {
	if err := s.st.Checkpoint(context.Background()); err != nil {
		s.log.Warn("wal checkpoint failed", logx.Err(err))
		return
	}
	s.log.Debug("wal checkpoint done")
}

func (s *Service) logStats() {
	counts, err := s.st.CountsSnapshot(context.Background())
	if err != nil {
		s.log.Warn("stats snapshot failed", logx.Err(err))
		return
	}
	s.log.Info("queue stats",
		logx.Int("queued_jobs", counts.QueuedJobs),
		logx.Int("running_jobs", counts.RunningJobs),
		logx.Int("pending_targets", counts.PendingTargets))
}
