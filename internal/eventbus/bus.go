package eventbus

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Event decouples the scheduler from its observers (run recorder, admin
// status, tests). Publish never blocks: a subscriber whose buffer is full
// loses the event and the drop is counted.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe returns a buffered channel of events. With topics given,
	// only those event types are delivered. unsubscribe closes the channel
	// and may be called more than once.
	Subscribe(buffer int, topics ...string) (ch <-chan Event, unsubscribe func())
}

const defaultBuffer = 8

type subscriber struct {
	ch     chan Event
	topics []string // empty means every topic
}

func (s *subscriber) wants(topic string) bool {
	return len(s.topics) == 0 || slices.Contains(s.topics, topic)
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: make(map[uint64]*subscriber)}
}

type memBus struct {
	// mu is read-held during delivery so unsubscribe cannot close a channel
	// mid-send. Sends never block, so the hold is short.
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  uint64

	published atomic.Uint64
	dropped   atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, topics ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &subscriber{ch: make(chan Event, buffer), topics: slices.Clone(topics)}

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = s
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; !ok {
			return
		}
		delete(b.subs, id)
		close(s.ch)
	}
	return s.ch, unsub
}

// Stats reports published events and deliveries dropped on full
// subscribers. Buses not created by New report zeros.
func Stats(b Bus) (published, dropped uint64) {
	mb, ok := b.(*memBus)
	if !ok || mb == nil {
		return 0, 0
	}
	return mb.published.Load(), mb.dropped.Load()
}

// Publish is a nil-safe helper for optional buses.
func Publish(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Data: data})
}
