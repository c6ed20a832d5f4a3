package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fifosched/internal/job"
)

type keyJob string

func (k keyJob) Key() string                 { return string(k) }
func (k keyJob) Run(ctx context.Context) error { return nil }

func TestAddRejectsDuplicateKey(t *testing.T) {
	q := New(0)
	ok, err := q.Add(keyJob("a"))
	if !ok || err != nil {
		t.Fatalf("first Add = (%v, %v)", ok, err)
	}
	ok, err = q.Add(keyJob("a"))
	if ok || err != nil {
		t.Fatalf("duplicate Add = (%v, %v), want (false, nil)", ok, err)
	}
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1", q.Len())
	}
	if !q.Contains(keyJob("a")) || q.Contains(keyJob("b")) {
		t.Fatalf("Contains mismatch")
	}
}

func TestAddCapacity(t *testing.T) {
	q := New(0)
	if q.Cap() != DefaultCapacity {
		t.Fatalf("Cap = %d, want %d", q.Cap(), DefaultCapacity)
	}
	for i := 0; i < DefaultCapacity; i++ {
		if ok, err := q.Add(keyJob(fmt.Sprintf("j%d", i))); !ok || err != nil {
			t.Fatalf("Add #%d = (%v, %v)", i, ok, err)
		}
	}
	ok, err := q.Add(keyJob("overflow"))
	if ok || !errors.Is(err, ErrQueueFull) {
		t.Fatalf("overflow Add = (%v, %v), want ErrQueueFull", ok, err)
	}
	// A duplicate of a queued job is still a silent reject, not a capacity error.
	if ok, err := q.Add(keyJob("j0")); ok || err != nil {
		t.Fatalf("duplicate on full queue = (%v, %v)", ok, err)
	}
}

func TestAddInvalid(t *testing.T) {
	q := New(1)
	if _, err := q.Add(nil); !errors.Is(err, ErrInvalidJob) {
		t.Fatalf("nil job err = %v", err)
	}
	if _, err := q.Add(keyJob("  ")); !errors.Is(err, ErrInvalidJob) {
		t.Fatalf("blank key err = %v", err)
	}
}

func TestTakeIsFIFOAndKeepsKeyUntilDone(t *testing.T) {
	q := New(4)
	for _, k := range []string{"a", "b", "c"} {
		_, _ = q.Add(keyJob(k))
	}

	j, ok := q.TryTake()
	if !ok || j.Key() != "a" {
		t.Fatalf("first take = %v, %v", j, ok)
	}
	if q.Len() != 2 || q.InFlightLen() != 1 {
		t.Fatalf("Len=%d InFlight=%d", q.Len(), q.InFlightLen())
	}
	// In flight: a re-submission is a duplicate.
	if ok, _ := q.Add(keyJob("a")); ok {
		t.Fatalf("in-flight key was re-admitted")
	}

	snap := q.Snapshot()
	got := make([]string, 0, len(snap))
	for _, s := range snap {
		got = append(got, s.Key())
	}
	if fmt.Sprint(got) != "[b c a]" {
		t.Fatalf("Snapshot order = %v, want [b c a]", got)
	}
	if len(q.Pending()) != 2 {
		t.Fatalf("Pending = %d", len(q.Pending()))
	}

	q.Done("a")
	if q.ContainsKey("a") {
		t.Fatalf("key still tracked after Done")
	}
	if ok, _ := q.Add(keyJob("a")); !ok {
		t.Fatalf("key not admissible after Done")
	}

	j, _ = q.TryTake()
	if j.Key() != "b" {
		t.Fatalf("second take = %s, want b", j.Key())
	}
}

func TestTakeWaitsBounded(t *testing.T) {
	q := New(1)
	start := time.Now()
	if _, ok := q.Take(context.Background(), 50*time.Millisecond); ok {
		t.Fatalf("take on empty queue succeeded")
	}
	if el := time.Since(start); el < 40*time.Millisecond {
		t.Fatalf("Take returned after %v, want ~50ms", el)
	}
}

func TestTakeWakesOnAdd(t *testing.T) {
	q := New(1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = q.Add(keyJob("late"))
	}()
	j, ok := q.Take(context.Background(), 2*time.Second)
	if !ok || j.Key() != "late" {
		t.Fatalf("Take = %v, %v", j, ok)
	}
}

func TestTakeReturnsOnContextCancel(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if _, ok := q.Take(ctx, time.Second); ok {
		t.Fatalf("take succeeded on empty queue")
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Fatalf("Take ignored cancelled context")
	}
}

func TestConcurrentAddSingleAdmission(t *testing.T) {
	q := New(0)
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := q.Add(keyJob("same")); ok {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if accepted != 1 {
		t.Fatalf("accepted %d times, want 1", accepted)
	}
}

func TestBaseJobsDedupByKey(t *testing.T) {
	q := New(2)
	a := job.NewFunc("same", nil)
	b := job.NewFunc("same", nil)
	if ok, _ := q.Add(a); !ok {
		t.Fatalf("first add rejected")
	}
	if ok, _ := q.Add(b); ok {
		t.Fatalf("distinct job value with equal key admitted")
	}
}

func TestRequeuePutsJobBackAtHead(t *testing.T) {
	q := New(3)
	_, _ = q.Add(keyJob("a"))
	_, _ = q.Add(keyJob("b"))

	j, _ := q.TryTake()
	if !q.Requeue(j.Key()) {
		t.Fatalf("Requeue of taken key failed")
	}
	if q.Requeue("a") {
		t.Fatalf("second Requeue should find nothing in flight")
	}
	if q.Len() != 2 || q.InFlightLen() != 0 {
		t.Fatalf("Len=%d InFlight=%d", q.Len(), q.InFlightLen())
	}
	j, _ = q.TryTake()
	if j.Key() != "a" {
		t.Fatalf("head after requeue = %s, want a", j.Key())
	}
}
