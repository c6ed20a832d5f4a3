package scheduler

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		raw   string
		kind  SpecKind
		every time.Duration
		str   string
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, str: "*/5 * * * *"},
		{name: "cron with seconds", raw: "*/10 * * * * *", kind: SpecCron, str: "*/10 * * * * *"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, str: "0 0 * * *"},
		{name: "descriptor", raw: "@hourly", kind: SpecCron, str: "@hourly"},
		{name: "duration", raw: "10m", kind: SpecInterval, every: 10 * time.Minute, str: "@every 10m0s"},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, every: 45 * time.Second},
		{name: "every prefix", raw: "every: 2h", kind: SpecInterval, every: 2 * time.Hour},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, every: 90 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if tt.kind == SpecInterval && got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
			if tt.str != "" && got.String() != tt.str {
				t.Fatalf("String() = %q, want %q", got.String(), tt.str)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "0s", "00:00", "01:75", "cron:", "61 * * * *", "-5m"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q): expected error", raw)
		}
	}
}
