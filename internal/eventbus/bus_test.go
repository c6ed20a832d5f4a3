package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unA := b.Subscribe(4)
	c, unC := b.Subscribe(4)
	defer unA()
	defer unC()

	b.Publish(Event{Type: TopicJobStarted, Data: JobEvent{Key: "k"}})

	for i, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != TopicJobStarted || e.Time.IsZero() {
				t.Fatalf("sub %d got %+v", i, e)
			}
			if je, ok := e.Data.(JobEvent); !ok || je.Key != "k" {
				t.Fatalf("sub %d payload %#v", i, e.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("sub %d received nothing", i)
		}
	}
}

func TestSubscribeFiltersTopics(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(8, OutcomeTopics()...)
	defer unsub()

	for _, topic := range []string{TopicJobStarted, TopicJobProgress, TopicJobFailed, TopicControllerStopped, TopicJobFinished} {
		b.Publish(Event{Type: topic})
	}

	var got []string
	for len(ch) > 0 {
		got = append(got, (<-ch).Type)
	}
	if len(got) != 2 || got[0] != TopicJobFailed || got[1] != TopicJobFinished {
		t.Fatalf("delivered %v, want [%s %s]", got, TopicJobFailed, TopicJobFinished)
	}
	if _, drop := Stats(b); drop != 0 {
		t.Fatalf("filtered events counted as drops: %d", drop)
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "x"})
	b.Publish(Event{Type: "x"})
	b.Publish(Event{Type: "x"})

	pub, drop := Stats(b)
	if pub != 3 || drop != 2 {
		t.Fatalf("Stats = (%d, %d), want (3, 2)", pub, drop)
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: "x"})
}

func TestNilSafePublish(t *testing.T) {
	Publish(nil, TopicJobFailed, nil)
}

func TestOutcomeTopics(t *testing.T) {
	seen := map[string]bool{}
	for _, topic := range OutcomeTopics() {
		if seen[topic] {
			t.Fatalf("duplicate outcome topic %q", topic)
		}
		seen[topic] = true
	}
	for _, topic := range []string{TopicJobStarted, TopicJobDispatched, TopicJobProgress, TopicJobRejected} {
		if seen[topic] {
			t.Fatalf("%q listed as an outcome", topic)
		}
	}
	if len(seen) != 4 {
		t.Fatalf("OutcomeTopics = %v", OutcomeTopics())
	}
}
