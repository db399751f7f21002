package config

import (
	"fmt"
	"strings"
)

// Validate checks a parsed config for values that would break the daemon at
// startup. It does not apply defaults; zero values mean "use the default".
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if cfg.Telegram.RatePerSec < 0 {
		return fmt.Errorf("telegram.rate_per_sec must be >= 0")
	}
	if _, err := ParseDurationField("telegram.probe_interval", cfg.Telegram.ProbeInterval); err != nil {
		return err
	}
	if cfg.Pool.InitialExecutors < 0 {
		return fmt.Errorf("pool.initial_executors must be >= 0")
	}
	if cfg.Pool.TasksPerExecutor < 0 {
		return fmt.Errorf("pool.tasks_per_executor must be >= 0")
	}
	if cfg.Pool.MaxExecutors < 0 {
		return fmt.Errorf("pool.max_executors must be >= 0")
	}
	for _, f := range []struct{ path, raw string }{
		{"pool.scale_interval", cfg.Pool.ScaleInterval},
		{"pool.start_delay", cfg.Pool.StartDelay},
		{"pool.idle_backoff", cfg.Pool.IdleBackoff},
		{"api.read_timeout", cfg.API.ReadTimeout},
		{"api.write_timeout", cfg.API.WriteTimeout},
		{"api.idle_timeout", cfg.API.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}
