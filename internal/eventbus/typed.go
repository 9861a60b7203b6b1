package eventbus

import "sync"

// DefaultBuffer is the subscriber channel capacity used by NewTyped.
const DefaultBuffer = 8

// TypedBus is a type-safe publish/subscribe bus for events of type T.
// Slow subscribers lose events rather than block publishers.
type TypedBus[T any] struct {
	mu     sync.RWMutex
	subs   []chan T
	buffer int
	closed bool
}

// NewTyped creates a new TypedBus with DefaultBuffer.
func NewTyped[T any]() *TypedBus[T] { return NewTypedBuffered[T](DefaultBuffer) }

// NewTypedBuffered creates a TypedBus whose subscriber channels hold size events.
func NewTypedBuffered[T any](size int) *TypedBus[T] {
	if size < 0 {
		size = 0
	}
	return &TypedBus[T]{buffer: size}
}

// Publish sends the event to all subscribers. Delivery is non-blocking; it
// returns the number of subscribers that were full and missed e.
func (b *TypedBus[T]) Publish(e T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	dropped := 0
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			dropped++
		}
	}
	return dropped
}

// Subscribe registers a subscriber and returns its channel.
func (b *TypedBus[T]) Subscribe() <-chan T {
	ch := make(chan T, b.buffer)
	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subs = append(b.subs, ch)
	}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *TypedBus[T]) Unsubscribe(sub <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ch := range b.subs {
		if ch == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			if !b.closed {
				close(ch)
			}
			return
		}
	}
}

// Subscribers reports the number of active subscribers.
func (b *TypedBus[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes the bus and all subscriber channels.
func (b *TypedBus[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	b.mu.Unlock()
}
