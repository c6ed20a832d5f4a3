package window

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFake() *fakeClock { return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)} }

func TestPurgeDropsExpired(t *testing.T) {
	clk := newFake()
	l := NewCount(3, time.Second, WithClock(clk.Now))

	l.Record()
	clk.Advance(600 * time.Millisecond)
	l.Record()
	clk.Advance(600 * time.Millisecond)
	l.Record()

	l.Purge()
	if got := l.Len(); got != 2 {
		t.Fatalf("Len after purge = %d, want 2", got)
	}
	if !l.UnderLimit() {
		t.Fatalf("2 of 3 should be under limit")
	}
}

func TestUnderLimitBoundary(t *testing.T) {
	clk := newFake()
	l := NewCount(2, time.Second, WithClock(clk.Now))
	l.Record()
	if !l.UnderLimit() {
		t.Fatalf("1 of 2 should be under limit")
	}
	l.Record()
	if l.UnderLimit() {
		t.Fatalf("2 of 2 should be at limit")
	}
}

func TestDelayFormula(t *testing.T) {
	tests := []struct {
		name    string
		max     int
		window  time.Duration
		offsets []time.Duration // record times relative to start
		want    time.Duration
	}{
		{name: "single slot", max: 1, window: 300 * time.Millisecond, offsets: []time.Duration{0}, want: 300 * time.Millisecond},
		{name: "spread", max: 2, window: time.Second, offsets: []time.Duration{0, 400 * time.Millisecond}, want: 1400 * time.Millisecond},
		{name: "under limit", max: 3, window: time.Second, offsets: []time.Duration{0}, want: 0},
		{name: "empty", max: 1, window: time.Second, offsets: nil, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := newFake()
			l := NewCount(tt.max, tt.window, WithClock(clk.Now))
			var last time.Duration
			for _, off := range tt.offsets {
				clk.Advance(off - last)
				last = off
				l.Record()
			}
			if got := l.Delay(); got != tt.want {
				t.Fatalf("Delay = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckAndWaitSleepsOnlyWhenFull(t *testing.T) {
	clk := newFake()
	var slept []time.Duration
	sleeper := func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		clk.Advance(d)
		return nil
	}
	l := NewCount(1, 300*time.Millisecond, WithClock(clk.Now), WithSleeper(sleeper))

	if err := l.CheckAndWait(context.Background()); err != nil {
		t.Fatalf("CheckAndWait empty: %v", err)
	}
	if len(slept) != 0 {
		t.Fatalf("slept on empty limiter")
	}

	l.Record()
	if err := l.CheckAndWait(context.Background()); err != nil {
		t.Fatalf("CheckAndWait full: %v", err)
	}
	if len(slept) != 1 || slept[0] != 300*time.Millisecond {
		t.Fatalf("slept = %v, want [300ms]", slept)
	}

	// At oldest+Window the admission is still retained; one tick later it is gone.
	clk.Advance(time.Millisecond)
	l.Purge()
	if l.Len() != 0 {
		t.Fatalf("expired admission was not purged")
	}
}

func TestWaitIsInterruptible(t *testing.T) {
	l := NewCount(1, time.Hour)
	l.Record()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := l.Wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait err = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("Wait did not return promptly after cancel")
	}
}

func TestWaitRealClockSpacing(t *testing.T) {
	l := NewCount(1, 100*time.Millisecond)
	l.Record()
	start := time.Now()
	if err := l.CheckAndWait(context.Background()); err != nil {
		t.Fatalf("CheckAndWait: %v", err)
	}
	if el := time.Since(start); el < 90*time.Millisecond {
		t.Fatalf("waited %v, want about 100ms", el)
	}
}

func TestStatsAndConfigValidate(t *testing.T) {
	clk := newFake()
	l := NewCount(2, time.Second, WithClock(clk.Now))
	l.Record()
	in, rem := l.Stats()
	if in != 1 || rem != 1 {
		t.Fatalf("Stats = (%d, %d), want (1, 1)", in, rem)
	}
	clk.Advance(2 * time.Second)
	in, rem = l.Stats()
	if in != 0 || rem != 2 {
		t.Fatalf("Stats after expiry = (%d, %d)", in, rem)
	}

	if err := (Config{MaxCount: 0, Window: time.Second}).Validate(); err == nil {
		t.Fatalf("expected error for max_count 0")
	}
	if err := (Config{MaxCount: 1}).Validate(); err == nil {
		t.Fatalf("expected error for zero window")
	}
	if err := (Config{MaxCount: 1, Window: time.Second}).Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
