package worker

import (
	"sync"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/models"
)

// EventBus fans out operator-visible JobEvents to every subscriber
// in-process, adapted from the teacher's JobWSHub broadcast loop but
// without the WebSocket transport: HTTP surfaces subscribe and relay to
// their own clients however they see fit.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan models.JobEvent]struct{}
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan models.JobEvent]struct{})}
}

// Subscribe returns a channel of future events and an unsubscribe func.
func (b *EventBus) Subscribe() (<-chan models.JobEvent, func()) {
	ch := make(chan models.JobEvent, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish delivers event to every current subscriber, dropping it for any
// subscriber whose channel is full rather than blocking the worker pool.
func (b *EventBus) Publish(event models.JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
