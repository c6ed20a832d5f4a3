// Package scheduler is the public face of the job scheduler.
//
// Service accepts jobs into a bounded deduplicating queue and runs a
// dispatch controller over it; the controller stops when the queue drains
// and Start runs a fresh one. Triggers resubmit jobs on cron or interval
// schedules and restart a drained Service as needed.
package scheduler
