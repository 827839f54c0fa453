// Package status carries a run's ordered step events to live observers.
// The pipeline only appends; delivery to subscribers is fan-out with a
// drop-on-full policy so a slow consumer can never stall a run.
package status

import (
	"sync"

	"storyreel-pipeline/types"
)

// Bus stores recent events for one run and provides incremental reads and
// channel subscriptions.
type Bus struct {
	mu        sync.RWMutex
	maxEvents int
	events    []types.StepEvent
	subs      map[int]chan types.StepEvent
	nextSub   int
	closed    bool
}

// NewBus creates a bounded in-memory event buffer.
func NewBus(maxEvents int) *Bus {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &Bus{
		maxEvents: maxEvents,
		events:    make([]types.StepEvent, 0, maxEvents),
		subs:      make(map[int]chan types.StepEvent),
	}
}

// Publish appends one event and fans it out. Never blocks: subscribers
// whose buffers are full miss the event and catch up via Since.
func (b *Bus) Publish(ev types.StepEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.events = append(b.events, ev)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]types.StepEvent(nil), b.events[trim:]...)
	}

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Since returns events with sequence strictly greater than seq, in order.
func (b *Bus) Since(seq int64) []types.StepEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]types.StepEvent, 0, len(b.events))
	for _, ev := range b.events {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribe registers a buffered live feed. The returned cancel func must
// be called to release the subscription; the channel is closed when the
// bus closes.
func (b *Bus) Subscribe(buffer int) (<-chan types.StepEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan types.StepEvent, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Close ends the stream: all subscriber channels are closed and further
// publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
