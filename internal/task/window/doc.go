// Package window implements the sliding-window admission limiter used by the
// dispatch loop. Several limiters may be attached to one controller; each one
// throttles the loop itself, not individual jobs.
package window
