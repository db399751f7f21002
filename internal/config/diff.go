package config

import (
	"reflect"
	"sort"
	"strings"

	logx "sendbot/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (the bot token) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	// Telegram (never log token)
	if (strings.TrimSpace(oldCfg.Telegram.Token) != "") != (strings.TrimSpace(newCfg.Telegram.Token) != "") ||
		oldCfg.Telegram.RatePerSec != newCfg.Telegram.RatePerSec ||
		strings.TrimSpace(oldCfg.Telegram.ProbeInterval) != strings.TrimSpace(newCfg.Telegram.ProbeInterval) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Int("telegram.rate_per_sec", newCfg.Telegram.RatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Pool, newCfg.Pool) {
		changed = append(changed, "pool")
		attrs = append(attrs,
			logx.Int("pool.initial_executors", newCfg.Pool.InitialExecutors),
			logx.Int("pool.tasks_per_executor", newCfg.Pool.TasksPerExecutor),
			logx.Int("pool.max_executors", newCfg.Pool.MaxExecutors),
			logx.String("pool.scale_interval", strings.TrimSpace(newCfg.Pool.ScaleInterval)),
		)
	}

	if !reflect.DeepEqual(oldCfg.API, newCfg.API) {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", newCfg.API.Enabled),
			logx.String("api.addr", strings.TrimSpace(newCfg.API.Addr)),
		)
	}

	oldM, newM := oldCfg.Maintenance, newCfg.Maintenance
	if (oldM == nil) != (newM == nil) || (oldM != nil && newM != nil && *oldM != *newM) {
		changed = append(changed, "maintenance")
		if newM != nil {
			attrs = append(attrs, logx.Bool("maintenance.enabled", newM.Enabled))
		}
	}

	// Debug (never log token)
	oldD, newD := oldCfg.Debug, newCfg.Debug
	if (oldD == nil) != (newD == nil) || (oldD != nil && newD != nil && *oldD != *newD) {
		changed = append(changed, "debug")
		if newD != nil {
			attrs = append(attrs,
				logx.Bool("debug.enabled", newD.Enabled),
				logx.Bool("debug.token_set", strings.TrimSpace(newD.Token) != ""),
			)
		}
	}

	sort.Strings(changed)
	return changed, attrs
}
