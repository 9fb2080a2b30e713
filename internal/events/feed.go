// Package events provides a typed observer feed. Subscriptions are scoped
// to the subscriber's lifetime through the returned cancel func, so a
// component that dies without unsubscribing cannot leak a listener past its
// owner closing the feed.
package events

import "sync"

// Feed fans values out to subscribers. Publish never blocks; a listener
// whose buffer is full misses the value.
type Feed[T any] struct {
	mu        sync.Mutex
	listeners map[chan T]struct{}
	closed    bool
}

func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{listeners: make(map[chan T]struct{})}
}

// Subscribe registers a listener and returns its channel plus a cancel func.
// Cancel is idempotent and safe to call after Close.
func (f *Feed[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 32)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	f.listeners[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.listeners[ch]; ok {
			delete(f.listeners, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers v to every listener that has buffer room.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.listeners {
		select {
		case ch <- v:
		default:
		}
	}
}

// Close drops and closes all listeners. Further publishes are no-ops and
// further subscribes return a closed channel.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.listeners {
		close(ch)
		delete(f.listeners, ch)
	}
}
