package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

var timeNow = time.Now

// DefaultRetain is how many runs a store keeps before pruning the oldest.
const DefaultRetain = 10000

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file, compacted when it grows past Retain records
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Retain      int           // 0 means DefaultRetain
}

func (c Config) retain() int {
	if c.Retain <= 0 {
		return DefaultRetain
	}
	return c.Retain
}

// Outcome values of RunRecord.Outcome.
const (
	OutcomeFinished  = "finished"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)

// RunRecord is one finished run. Keep it compact and schema-stable.
type RunRecord struct {
	RunID    string        `json:"run_id,omitempty"`
	Key      string        `json:"key"`
	Outcome  string        `json:"outcome"`
	Status   string        `json:"status,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
}
