package config

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Telegram TelegramConfig `json:"telegram"`
	Pool     PoolConfig     `json:"pool"`
	API      APIConfig      `json:"api"`

	// Maintenance controls the background cron jobs (WAL checkpoint,
	// daily queue stats). If omitted, maintenance defaults to enabled.
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`

	// Debug controls the pprof listener. Off unless configured.
	Debug *DebugConfig `json:"debug,omitempty"`
}

// DebugConfig controls the separate pprof listener.
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:6060"

	// Token protects the endpoints; required for non-loopback binds
	// unless allow_insecure is set.
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the SQLite job store.
type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (e.g. "5s").
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// RatePerSec caps outbound sends per executor. 0 keeps the default of 1.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// ProbeInterval is a Go duration string controlling how often a bound
	// sender is liveness-probed. Use "0s" for the default.
	ProbeInterval string `json:"probe_interval,omitempty"`
}

// PoolConfig controls the executor pool and its growth.
//
// All durations are Go duration strings (e.g. "500ms", "5s").
//
// Defaults (when fields are omitted/zero):
//   - initial_executors: 1
//   - tasks_per_executor: 10
//   - scale_interval: "5s"
//   - start_delay: "4s"
//   - max_executors: 0 (unlimited)
//   - idle_backoff: "2s"
type PoolConfig struct {
	InitialExecutors int `json:"initial_executors,omitempty"`

	// TasksPerExecutor is the pending-target capacity credited per ready executor.
	TasksPerExecutor int `json:"tasks_per_executor,omitempty"`

	ScaleInterval string `json:"scale_interval,omitempty"`

	// StartDelay is the settle pause after spawning an executor, so the next
	// capacity check sees its effect before growing again.
	StartDelay string `json:"start_delay,omitempty"`

	// MaxExecutors caps pool growth. 0 means unlimited.
	MaxExecutors int `json:"max_executors,omitempty"`

	// IdleBackoff is the sleep between claim attempts when the queue is empty.
	IdleBackoff string `json:"idle_backoff,omitempty"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:5000"

	// Server timeouts (Go duration strings). Zero keeps Go defaults.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// MaintenanceConfig controls scheduled upkeep.
//
// Schedules are cron expressions (robfig/cron, standard 5-field).
type MaintenanceConfig struct {
	Enabled            bool   `json:"enabled"`
	CheckpointSchedule string `json:"checkpoint_schedule,omitempty"` // default: "*/30 * * * *"
	StatsSchedule      string `json:"stats_schedule,omitempty"`      // default: "0 0 * * *"
}
