package engine

import (
	"time"

	"fifosched/internal/job"
	"fifosched/internal/task/window"
)

const (
	DefaultWorkers      = 5
	DefaultTimeout      = 5 * time.Minute
	DefaultPollInterval = 500 * time.Millisecond
	DefaultDrainTimeout = 500 * time.Millisecond
)

// TimeoutPolicy bounds how long a single job may run. The zero value means
// DefaultTimeout.
type TimeoutPolicy struct {
	d time.Duration
}

func NewTimeoutPolicy(d time.Duration) TimeoutPolicy { return TimeoutPolicy{d: d} }

func (p TimeoutPolicy) Duration() time.Duration {
	if p.d <= 0 {
		return DefaultTimeout
	}
	return p.d
}

func (p TimeoutPolicy) String() string { return p.Duration().String() }

// Config is fixed for the lifetime of one Controller.
type Config struct {
	Workers  int
	Limiters []*window.Limiter
	Timeout  TimeoutPolicy

	// PollInterval bounds each wait of the dispatch loop (slot and queue).
	PollInterval time.Duration
	// DrainTimeout is the grace given to running jobs before their contexts
	// are cancelled on shutdown.
	DrainTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	return c
}

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Outcome describes one finished run, as seen by the worker that ran it.
type Outcome struct {
	RunID    string
	Key      string
	Job      job.Job
	Started  time.Time
	Duration time.Duration
	Err      error

	// TimedOut and Interrupted tell whether the watchdog cancelled the run.
	TimedOut    bool
	Interrupted bool
}

// LimiterStats is a point-in-time view of one attached limiter.
type LimiterStats struct {
	Config    window.Config `json:"config"`
	InWindow  int           `json:"in_window"`
	Remaining int           `json:"remaining"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	State       State          `json:"state"`
	Workers     int            `json:"workers"`
	Busy        int            `json:"busy"`
	Outstanding int            `json:"outstanding"`
	Dispatched  uint64         `json:"dispatched"`
	Timeout     time.Duration  `json:"timeout"`
	Limiters    []LimiterStats `json:"limiters,omitempty"`
}
