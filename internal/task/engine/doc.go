// Package engine runs the dispatch loop over a queue.
//
// A Controller takes jobs one at a time in FIFO order, but only when a
// worker is idle. Each dispatched run is guarded by a watchdog that cancels
// its context once the TimeoutPolicy expires. Attached window limiters pace
// the loop itself. Cancellation is cooperative: a job that ignores its
// context keeps its worker until it returns.
package engine
