package hub

import "sync/atomic"

// Subscription is one consumer's view of the hub. Frames must be read by a
// single goroutine.
type Subscription struct {
	id     string
	hub    *Hub
	frames chan []byte

	// closed is guarded by hub.mu.
	closed  bool
	dropped atomic.Uint64
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Frames yields published frames until the subscription or the hub is closed.
func (s *Subscription) Frames() <-chan []byte {
	return s.frames
}

// Dropped returns how many frames this subscriber lost to queue overflow.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes from the hub.
func (s *Subscription) Close() {
	s.hub.Unsubscribe(s)
}
