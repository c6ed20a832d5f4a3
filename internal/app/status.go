package app

import (
	"fmt"
	"strings"
	"time"

	"fifosched/internal/task/scheduler"

	"github.com/dustin/go-humanize"
)

// statusLine renders a one-line summary for logs and systemd STATUS=.
func statusLine(snap scheduler.Snapshot, triggers []scheduler.ScheduleInfo, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s; queue %d/%d, in flight %d, runs %s",
		snap.State, snap.QueueLen, snap.QueueCap, snap.InFlight, humanize.Comma(int64(snap.Runs)))
	if snap.Rejected > 0 {
		fmt.Fprintf(&b, ", rejected %s", humanize.Comma(int64(snap.Rejected)))
	}
	if n := len(snap.History); n > 0 {
		last := snap.History[n-1]
		fmt.Fprintf(&b, "; last %s %s", last.Key, humanize.RelTime(last.Started.Add(last.Duration), now, "ago", "from now"))
	}
	if name, next, ok := nextTrigger(triggers); ok {
		fmt.Fprintf(&b, "; next %s %s", name, humanize.RelTime(next, now, "ago", "from now"))
	}
	return b.String()
}

func nextTrigger(triggers []scheduler.ScheduleInfo) (string, time.Time, bool) {
	var (
		name string
		next time.Time
	)
	for _, t := range triggers {
		if t.Next.IsZero() {
			continue
		}
		if next.IsZero() || t.Next.Before(next) {
			name, next = t.Name, t.Next
		}
	}
	return name, next, !next.IsZero()
}
