package events

import (
	"sync"
	"sync/atomic"
)

const subscriberBuffer = 16

// Filter narrows a subscription. Zero values match everything.
type Filter struct {
	Source string
	Types  []string
}

func (f Filter) Match(e Event) bool {
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == e.Type {
			return true
		}
	}
	return false
}

// Subscription receives the events matching its filter on C until it is closed.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	filter  Filter
	dropped atomic.Int64
}

// Dropped counts events this subscriber missed because its buffer was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Hub fans run events out to stream subscribers. Slow subscribers miss events
// rather than block the runner.
type Hub struct {
	mu   sync.Mutex
	seq  uint64
	subs map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

func (h *Hub) Subscribe(f Filter) *Subscription {
	ch := make(chan Event, subscriberBuffer)
	s := &Subscription{C: ch, ch: ch, filter: f}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unsubscribe closes s.C. Calling it twice is a no-op.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	h.mu.Unlock()
	if ok {
		close(s.ch)
	}
}

// Publish stamps e with the next sequence number and delivers it to every
// matching subscriber. It returns the number of subscribers that received it.
func (h *Hub) Publish(e Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	e.Seq = h.seq

	n := 0
	for s := range h.subs {
		if !s.filter.Match(e) {
			continue
		}
		select {
		case s.ch <- e:
			n++
		default:
			s.dropped.Add(1)
		}
	}
	return n
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
