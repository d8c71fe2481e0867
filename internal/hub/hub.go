// Package hub implements the broadcast fan-out point shared by every
// connection. Each subscriber owns a bounded queue; publishers never block
// on a slow subscriber, the oldest queued frame is discarded instead.
package hub

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultBuffer is the per-subscriber queue capacity used when none is given.
const DefaultBuffer = 256

// Hub fans published frames out to all current subscriptions. Publishes are
// serialized by a single mutex, so every subscriber observes frames from
// one Publish call before frames from the next.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]*Subscription
	buffer int
	closed bool
	log    *zap.Logger

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-subscriber queue capacity.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithLogger sets the logger used to report dropped frames.
func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// New creates a Hub ready to accept subscriptions.
func New(opts ...Option) *Hub {
	h := &Hub{
		subs:   make(map[string]*Subscription),
		buffer: DefaultBuffer,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe creates a new delivery queue. Subscribing to a closed hub yields
// a subscription whose Frames channel is already closed.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		id:     uuid.NewString(),
		hub:    h,
		frames: make(chan []byte, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(sub.frames)
		sub.closed = true
		return sub
	}
	h.subs[sub.id] = sub
	h.log.Debug("subscription added", zap.String("subscription", sub.id), zap.Int("subscribers", len(h.subs)))
	return sub
}

// Unsubscribe releases sub and closes its Frames channel. It is safe to call
// more than once and with a nil subscription.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.closed {
		return
	}
	delete(h.subs, sub.id)
	sub.closed = true
	close(sub.frames)
	h.log.Debug("subscription removed", zap.String("subscription", sub.id), zap.Int("subscribers", len(h.subs)))
}

// Publish queues frame for every current subscriber and returns how many
// subscribers it was queued for. A subscriber whose queue is full loses its
// oldest queued frame; it stays subscribed.
func (h *Hub) Publish(frame []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0
	}

	for _, sub := range h.subs {
		h.deliverLocked(sub, frame)
	}
	h.published.Add(1)
	return len(h.subs)
}

// deliverLocked pushes frame into sub's queue, evicting from the head until
// there is room. Only publishers write to the queue and they hold h.mu, so
// at most one eviction is needed in practice.
func (h *Hub) deliverLocked(sub *Subscription, frame []byte) {
	for {
		select {
		case sub.frames <- frame:
			return
		default:
		}

		select {
		case <-sub.frames:
			n := sub.dropped.Add(1)
			total := h.dropped.Add(1)
			if n == 1 {
				h.log.Warn("subscriber queue full, dropping oldest frames",
					zap.String("subscription", sub.id),
					zap.Int("buffer", cap(sub.frames)),
					zap.Uint64("dropped_total", total))
			} else {
				h.log.Debug("dropped oldest frame",
					zap.String("subscription", sub.id),
					zap.Uint64("dropped", n))
			}
		default:
		}
	}
}

// Close tears the hub down. Every subscription's Frames channel is closed
// and later publishes are discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.closed = true
		close(sub.frames)
	}
	h.log.Info("hub closed")
}

// Len returns the number of active subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Published returns the number of frames accepted by Publish.
func (h *Hub) Published() uint64 {
	return h.published.Load()
}

// Dropped returns the number of frames evicted from subscriber queues.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
