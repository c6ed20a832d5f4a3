// Package queue holds jobs waiting for the dispatch loop.
//
// Admission is non-blocking: Add either accepts, silently rejects a
// duplicate key, or fails with ErrQueueFull.
package queue
