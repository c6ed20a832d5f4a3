package job

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestBasePercentNotifiesListeners(t *testing.T) {
	b := NewBase("k")
	var got []Change
	remove := b.OnChange(func(c Change) { got = append(got, c) })

	b.SetPercent(40)
	b.SetPercent(140)
	remove()
	b.SetPercent(10)

	if len(got) != 2 {
		t.Fatalf("got %d changes, want 2", len(got))
	}
	if got[0].Old != 0 || got[0].New != 40 {
		t.Fatalf("first change = %+v", got[0])
	}
	if got[1].New != 100 {
		t.Fatalf("percent not clamped: %+v", got[1])
	}
	if b.Percent() != 10 {
		t.Fatalf("Percent = %d, want 10", b.Percent())
	}
}

func TestBaseFinishAndElapsed(t *testing.T) {
	b := NewBase("k")
	if b.Elapsed() != 0 {
		t.Fatalf("elapsed before start should be 0")
	}
	b.MarkStarted()
	time.Sleep(5 * time.Millisecond)
	if b.Elapsed() != 0 {
		t.Fatalf("elapsed while running should be 0")
	}
	b.Finish(StatusOK, 42)

	r := b.Report()
	if r.Status != StatusOK || r.Result != 42 {
		t.Fatalf("report = %+v", r)
	}
	if r.Elapsed() < 5*time.Millisecond {
		t.Fatalf("elapsed = %v", r.Elapsed())
	}
	if !strings.Contains(r.ID, "_#_") {
		t.Fatalf("unexpected id format %q", r.ID)
	}
}

func TestBaseMessagesAreCopied(t *testing.T) {
	b := NewBase("k")
	b.AddMessage("step %d", 1)
	b.AddMessage("plain")
	msgs := b.Messages()
	msgs[0] = "mutated"
	if b.Messages()[0] != "step 1" {
		t.Fatalf("Messages returned internal slice")
	}
}

func TestFuncRunsWithBase(t *testing.T) {
	f := NewFunc("sum", func(ctx context.Context, b *Base) error {
		b.SetPercent(50)
		b.Finish(StatusOK, 3)
		return nil
	})
	if err := f.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := ResultOf(f)
	if res.Status != StatusOK || res.Value != 3 {
		t.Fatalf("ResultOf = %+v", res)
	}
	if f.Started().IsZero() {
		t.Fatalf("Started not stamped")
	}
}

func TestFuncNilFails(t *testing.T) {
	f := NewFunc("nil", nil)
	if err := f.Run(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if f.Status() != StatusFailInit {
		t.Fatalf("status = %v", f.Status())
	}
}

func TestStatusParseAndTerminal(t *testing.T) {
	tests := []struct {
		raw      string
		want     Status
		terminal bool
	}{
		{"ok", StatusOK, true},
		{" cancel ", StatusCancel, true},
		{"PENDING", StatusPending, false},
		{"", StatusNone, false},
		{"data_not_found", StatusDataNotFound, true},
	}
	for _, tt := range tests {
		got, err := ParseStatus(tt.raw)
		if err != nil {
			t.Fatalf("ParseStatus(%q): %v", tt.raw, err)
		}
		if got != tt.want || got.Terminal() != tt.terminal {
			t.Fatalf("ParseStatus(%q) = %v terminal=%v", tt.raw, got, got.Terminal())
		}
	}
	if _, err := ParseStatus("nope"); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
}
