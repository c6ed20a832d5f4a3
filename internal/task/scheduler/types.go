package scheduler

import (
	"errors"
	"time"

	"fifosched/internal/task/engine"
	"fifosched/internal/task/window"
)

const DefaultHistorySize = 200

var ErrWaitTimeout = errors.New("timed out waiting for scheduler to stop")

// Config is applied at the next controller start.
type Config struct {
	MaxWorkers  int
	RateLimits  []window.Config
	Timeout     time.Duration
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = engine.DefaultWorkers
	}
	if c.Timeout <= 0 {
		c.Timeout = engine.DefaultTimeout
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	c.RateLimits = append([]window.Config(nil), c.RateLimits...)
	return c
}

type state int32

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRunning:
		return "running"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// HistoryItem is one finished run.
type HistoryItem struct {
	RunID       string        `json:"run_id,omitempty"`
	Key         string        `json:"key"`
	Status      string        `json:"status,omitempty"`
	Started     time.Time     `json:"started"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
	TimedOut    bool          `json:"timed_out,omitempty"`
	Interrupted bool          `json:"interrupted,omitempty"`
}

type ScheduleInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next,omitempty"`
	Prev time.Time `json:"prev,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	State      string           `json:"state"`
	QueueLen   int              `json:"queue_len"`
	QueueCap   int              `json:"queue_cap"`
	InFlight   int              `json:"in_flight"`
	Runs       uint64           `json:"runs"`
	Rejected   uint64           `json:"rejected"`
	Workers    int              `json:"workers"`
	Timeout    time.Duration    `json:"timeout"`
	RateLimits []window.Config  `json:"rate_limits,omitempty"`
	Controller *engine.Snapshot `json:"controller,omitempty"`
	History    []HistoryItem    `json:"history,omitempty"`
}
