// Package router holds the channels connecting card readers to the decision
// engine and the decision engine to the remote link and telemetry.
package router

import (
	"context"
	"sync"
)

// Signal is a single-slot mailbox. A value signalled before the previous one
// was taken replaces it.
type Signal[T any] struct {
	mu      sync.Mutex
	value   T
	pending bool
	ready   chan struct{}
}

func NewSignal[T any]() *Signal[T] {
	return &Signal[T]{ready: make(chan struct{}, 1)}
}

// Signal stores v, overwriting any value not yet taken. It never blocks.
func (s *Signal[T]) Signal(v T) {
	s.mu.Lock()
	s.value = v
	s.pending = true
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// TryTake removes and returns the pending value, if any.
func (s *Signal[T]) TryTake() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	if !s.pending {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.pending = false
	return v, true
}

// Ready fires after Signal. It can fire spuriously, so receivers must follow
// up with TryTake.
func (s *Signal[T]) Ready() <-chan struct{} { return s.ready }

// Wait blocks until a value is pending or ctx is done.
func (s *Signal[T]) Wait(ctx context.Context) (T, error) {
	for {
		if v, ok := s.TryTake(); ok {
			return v, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-s.ready:
		}
	}
}

// Reset discards any pending value.
func (s *Signal[T]) Reset() {
	s.mu.Lock()
	var zero T
	s.value = zero
	s.pending = false
	s.mu.Unlock()

	select {
	case <-s.ready:
	default:
	}
}

// Pending reports whether a value is waiting to be taken.
func (s *Signal[T]) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}
