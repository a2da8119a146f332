// Package watch provides a single-slot latest-value broadcast channel: any
// number of subscribers can read the most recently published value, and a
// subscriber that is slow never blocks the publisher or sees stale history
// beyond the one most recent update. This generalizes the embassy-sync
// Watch primitive the firmware uses for MONITORS_CHANGED-style "current
// state" signals, as distinct from pubsub's queued, lag-sensitive stream.
//
// No such "latest value, drop intermediate updates" broadcast primitive
// exists in the example corpus, so this is a minimal stdlib-only
// implementation guarded by a mutex and condition variable.
package watch

import (
	"context"
	"sync"
)

// Watch holds the latest value of T and lets subscribers wait for updates.
type Watch[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	value    T
	version  uint64
	hasValue bool
}

// New constructs an empty Watch.
func New[T any]() *Watch[T] {
	w := &Watch[T]{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Publish stores value and wakes every blocked subscriber.
func (w *Watch[T]) Publish(value T) {
	w.mu.Lock()
	w.value = value
	w.hasValue = true
	w.version++
	w.mu.Unlock()
	w.cond.Broadcast()
}

// TryGet returns the latest published value without blocking.
func (w *Watch[T]) TryGet() (value T, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value, w.hasValue
}

// Subscriber tracks the last version a caller has observed, so repeated
// Next calls only return once a new value has actually been published.
type Subscriber[T any] struct {
	w        *Watch[T]
	lastSeen uint64
}

// Subscribe returns a Subscriber starting from "no value observed yet",
// meaning the first Next call returns immediately if any value has ever
// been published.
func (w *Watch[T]) Subscribe() *Subscriber[T] {
	return &Subscriber[T]{w: w}
}

// Next blocks until a value newer than the last one this subscriber
// observed is published, or ctx is cancelled (returning ok=false).
func (s *Subscriber[T]) Next(ctx context.Context) (value T, ok bool) {
	w := s.w

	// sync.Cond has no channel-based wait, so a watcher goroutine
	// translates ctx cancellation into a Broadcast wakeup.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			w.cond.Broadcast()
		case <-stop:
		}
	}()

	w.mu.Lock()
	defer w.mu.Unlock()
	for w.version == s.lastSeen {
		if ctx.Err() != nil {
			return value, false
		}
		w.cond.Wait()
	}
	if ctx.Err() != nil {
		return value, false
	}
	value = w.value
	s.lastSeen = w.version
	return value, true
}
