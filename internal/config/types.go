package config

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Admin     AdminConfig     `json:"admin"`
	Jobs      []JobConfig     `json:"jobs"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`

	// Components overrides the level per subsystem: app, config, scheduler,
	// engine, storage, recorder, admin, command.
	Components map[string]string `json:"components"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig sizes the dispatch controller. Worker count, timeout and
// rate limits take effect at the next controller start.
type SchedulerConfig struct {
	MaxWorkers  int               `json:"max_workers"`
	Timeout     string            `json:"timeout"` // Go duration; empty means the engine default
	RateLimits  []RateLimitConfig `json:"rate_limits"`
	Timezone    string            `json:"timezone"` // IANA name for cron triggers; empty means Local
	HistorySize int               `json:"history_size"`
}

type RateLimitConfig struct {
	MaxCount int    `json:"max_count"`
	Window   string `json:"window"`
}

type StorageConfig struct {
	Driver      string `json:"driver"` // none|file|sqlite
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout"` // sqlite only
}

// AdminConfig controls the local HTTP admin endpoint (status, run history,
// manual trigger firing and optional pprof).
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr"` // default 127.0.0.1:6060
	Token         string `json:"token"`
	AllowInsecure bool   `json:"allow_insecure"`

	Pprof       bool   `json:"pprof"`
	PprofPrefix string `json:"pprof_prefix"`

	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	IdleTimeout  string `json:"idle_timeout"`

	MutexProfileFraction int `json:"mutex_profile_fraction"`
	BlockProfileRate     int `json:"block_profile_rate"`
}

// JobConfig declares an external command job.
//
// Schedule accepts cron expressions, descriptors (@hourly, @every 1h) and
// HH:MM daily times. A job without a schedule only runs when RunOnStart is set.
type JobConfig struct {
	Name       string   `json:"name"`
	Command    string   `json:"command"`
	Schedule   string   `json:"schedule"`
	Dir        string   `json:"dir"`
	Env        []string `json:"env"`
	RunOnStart bool     `json:"run_on_start"`
}
