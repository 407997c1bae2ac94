package status

import (
	"sync"
	"sync/atomic"
)

// Sink receives status events.
type Sink interface {
	Publish(Event)
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Channel hands events from a single producer to a single consumer.
// Publish never blocks: when the buffer is full a transient event is
// dropped, and any other event evicts the oldest queued one.
type Channel struct {
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

func NewChannel(size int) *Channel {
	if size < 1 {
		size = 1
	}
	return &Channel{ch: make(chan Event, size)}
}

func (c *Channel) Publish(e Event) {
	select {
	case c.ch <- e:
		return
	default:
	}

	if e.Transient() {
		c.dropped.Add(1)
		return
	}

	// Only the producer sends, so after evicting one slot the send succeeds
	// unless the consumer raced us for it, in which case there is room anyway.
	select {
	case <-c.ch:
		c.dropped.Add(1)
	default:
	}
	select {
	case c.ch <- e:
	default:
		c.dropped.Add(1)
	}
}

// Events is the consumer side. It is closed by Close.
func (c *Channel) Events() <-chan Event {
	return c.ch
}

// Close must only be called by the producer once it stops publishing.
func (c *Channel) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *Channel) Dropped() uint64 {
	return c.dropped.Load()
}

// Collector keeps every published event in memory.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *Collector) Publish(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// Kinds lists the kinds of collected events, skipping frames.
func (c *Collector) Kinds() []Kind {
	var out []Kind
	for _, e := range c.Events() {
		if e.Kind != KindFrame {
			out = append(out, e.Kind)
		}
	}
	return out
}

// Last returns the most recent event of the given kind.
func (c *Collector) Last(kind Kind) (Event, bool) {
	events := c.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == kind {
			return events[i], true
		}
	}
	return Event{}, false
}
