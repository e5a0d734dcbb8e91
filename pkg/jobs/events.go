package jobs

import (
	"sync"

	"alephauto/pkg/jobs/models"
)

// wildcardType subscribes a listener to every event type.
const wildcardType = models.EventType("*")

// eventBus fans out Events to subscribers, per-type or wildcard. Publish
// never blocks on a slow subscriber: each subscriber channel is buffered,
// and a full channel simply drops the event for that one subscriber rather
// than stalling the dispatcher.
type eventBus struct {
	mu   sync.RWMutex
	subs map[models.EventType][]chan models.Event
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[models.EventType][]chan models.Event)}
}

// Subscribe registers ch for eventType (or wildcardType for every event).
// Returns an unsubscribe func.
func (b *eventBus) Subscribe(eventType models.EventType, ch chan models.Event) func() {
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[eventType]
		for i, c := range list {
			if c == ch {
				b.subs[eventType] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers evt to every subscriber of evt.Type and to every
// wildcard subscriber, in that order, on the calling goroutine. Every send
// is non-blocking: a subscriber whose channel cannot take the event at that
// moment (full, or unbuffered with no waiting receiver) misses it.
func (b *eventBus) Publish(evt models.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[evt.Type] {
		select {
		case ch <- evt:
		default:
		}
	}
	for _, ch := range b.subs[wildcardType] {
		select {
		case ch <- evt:
		default:
		}
	}
}
