// Package events is a small publish/subscribe bus with a bounded queue per
// subscriber. When a subscriber falls behind, the oldest queued value is
// dropped so the newest is always delivered.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the per-subscriber queue length when none is given.
const DefaultQueueSize = 64

var (
	ErrBusClosed          = errors.New("events: bus is closed")
	ErrSubscriberExists   = errors.New("events: subscriber already exists")
	ErrSubscriberNotFound = errors.New("events: subscriber not found")
)

// SubscriberStats counts deliveries for one subscriber.
type SubscriberStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Panics  uint64 `json:"panics"`
}

// Bus fans values out to subscribers in publish order.
type Bus[T any] struct {
	mu        sync.RWMutex
	subs      map[string]*Subscription[T]
	size      int
	closed    bool
	published atomic.Uint64
	log       *slog.Logger
}

// New creates a bus whose subscribers each get a queue of size values.
func New[T any](size int, log *slog.Logger) *Bus[T] {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bus[T]{
		subs: make(map[string]*Subscription[T]),
		size: size,
		log:  log,
	}
}

// Subscribe registers a new subscriber under id.
func (b *Bus[T]) Subscribe(id string) (*Subscription[T], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, exists := b.subs[id]; exists {
		return nil, ErrSubscriberExists
	}
	s := &Subscription[T]{id: id, ch: make(chan T, b.size), log: b.log}
	b.subs[id] = s
	return s, nil
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus[T]) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.subs[id]
	if !ok {
		return ErrSubscriberNotFound
	}
	delete(b.subs, id)
	s.close()
	return nil
}

// Publish delivers v to every subscriber without blocking.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)
	for _, s := range b.subs {
		s.offer(v)
	}
}

// Published returns the number of values published since creation.
func (b *Bus[T]) Published() uint64 {
	return b.published.Load()
}

// Stats returns delivery counters for a subscriber.
func (b *Bus[T]) Stats(id string) (SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.subs[id]
	if !ok {
		return SubscriberStats{}, ErrSubscriberNotFound
	}
	return s.Stats(), nil
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		s.close()
	}
	b.subs = nil
}

// Subscription is one subscriber's bounded queue.
type Subscription[T any] struct {
	id     string
	mu     sync.Mutex
	ch     chan T
	closed bool
	log    *slog.Logger

	sent    atomic.Uint64
	dropped atomic.Uint64
	panics  atomic.Uint64
}

// ID returns the subscriber id.
func (s *Subscription[T]) ID() string {
	return s.id
}

// C returns the receive side of the queue. It is closed on Unsubscribe or bus Close.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Stats returns a snapshot of the delivery counters.
func (s *Subscription[T]) Stats() SubscriberStats {
	return SubscriberStats{
		Sent:    s.sent.Load(),
		Dropped: s.dropped.Load(),
		Panics:  s.panics.Load(),
	}
}

func (s *Subscription[T]) offer(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- v:
		s.sent.Add(1)
		return
	default:
	}

	// Queue full: evict the oldest value, then retry once.
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- v:
		s.sent.Add(1)
	default:
		s.dropped.Add(1)
	}
}

func (s *Subscription[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Each calls fn for every value until ctx is done or the subscription is
// closed. A panic in fn is recovered and logged; delivery continues with the
// next value.
func (s *Subscription[T]) Each(ctx context.Context, fn func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-s.ch:
			if !ok {
				return
			}
			s.call(fn, v)
		}
	}
}

func (s *Subscription[T]) call(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			s.log.Error("subscriber panicked", "subscriber", s.id, "panic", r)
		}
	}()
	fn(v)
}
