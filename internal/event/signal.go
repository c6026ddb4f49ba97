package event

import (
	"sync"
)

// DefaultBuffer is the per-subscriber buffer used when none is given.
const DefaultBuffer = 16

// Signal is a bounded multi-producer, multi-consumer broadcast.
type Signal[T any] struct {
	mu     sync.Mutex
	name   string
	nextID uint64
	subs   map[uint64]chan T
	buffer int
	closed bool
}

// NewSignal creates a Signal. A buffer <= 0 uses DefaultBuffer.
func NewSignal[T any](name string, buffer int) *Signal[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Signal[T]{
		name:   name,
		subs:   make(map[uint64]chan T),
		buffer: buffer,
	}
}

// Name returns the signal name used in logs.
func (s *Signal[T]) Name() string {
	return s.name
}

// Subscribe returns a receive channel and a stop function. The stop function
// must be called exactly once; it closes the channel.
func (s *Signal[T]) Subscribe() (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan T, s.buffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		sub, ok := s.subs[id]
		if !ok {
			return
		}
		delete(s.subs, id)
		close(sub)
	}
}

// Emit broadcasts v to every subscriber without blocking and returns how many
// subscribers received it. Subscribers with a full buffer are skipped.
func (s *Signal[T]) Emit(v T) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	delivered := 0
	for _, ch := range s.subs {
		select {
		case ch <- v:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers returns the number of live subscriptions.
func (s *Signal[T]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close closes every subscriber channel. Later subscriptions receive an
// already-closed channel and later emits are dropped.
func (s *Signal[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
