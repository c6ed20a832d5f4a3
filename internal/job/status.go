package job

import (
	"errors"
	"strings"
)

// Status is the outcome a job records for itself.
type Status string

const (
	StatusNone         Status = ""
	StatusError        Status = "ERROR"
	StatusFailInit     Status = "FAIL_INIT"
	StatusMissingParam Status = "MISSING_PARAM"
	StatusDataNotFound Status = "DATA_NOT_FOUND"
	StatusCancel       Status = "CANCEL"
	StatusPending      Status = "PENDING"
	StatusOK           Status = "OK"
)

var ErrUnknownStatus = errors.New("unknown job status")

// Terminal reports whether s marks a finished job.
func (s Status) Terminal() bool {
	return s != StatusNone && s != StatusPending
}

func (s Status) String() string {
	if s == StatusNone {
		return "NONE"
	}
	return string(s)
}

// ParseStatus accepts the canonical names case-insensitively.
func ParseStatus(raw string) (Status, error) {
	v := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch v {
	case StatusError, StatusFailInit, StatusMissingParam, StatusDataNotFound,
		StatusCancel, StatusPending, StatusOK:
		return v, nil
	case "", "NONE":
		return StatusNone, nil
	}
	return StatusNone, ErrUnknownStatus
}
