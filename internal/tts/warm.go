package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrWarmClosed is returned by Get after Close.
var ErrWarmClosed = errors.New("warm resource already closed")

// Warm is a process-wide resource that is initialized on first successful use,
// reused by later requests and torn down at shutdown. A failed initialization is
// retried on the next Get.
type Warm[T any] struct {
	mu       sync.Mutex
	name     string
	init     func(ctx context.Context) (T, error)
	teardown func(T) error
	value    T
	ready    bool
	closed   bool
}

// NewWarm describes a lazily initialized resource. teardown may be nil.
func NewWarm[T any](name string, init func(ctx context.Context) (T, error), teardown func(T) error) *Warm[T] {
	return &Warm[T]{name: name, init: init, teardown: teardown}
}

// Get returns the resource, initializing it if this is the first successful call.
func (w *Warm[T]) Get(ctx context.Context) (T, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var zero T

	if w.closed {
		return zero, fmt.Errorf("%w: %s", ErrWarmClosed, w.name)
	}

	if w.ready {
		return w.value, nil
	}

	value, err := w.init(ctx)
	if err != nil {
		return zero, fmt.Errorf("failed to initialize %s: %w", w.name, err)
	}

	w.value = value
	w.ready = true

	return value, nil
}

// Ready reports whether the resource has been initialized.
func (w *Warm[T]) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.ready
}

// Close tears the resource down. It is safe to call more than once.
func (w *Warm[T]) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true

	if !w.ready || w.teardown == nil {
		return nil
	}

	var zero T

	value := w.value
	w.value = zero
	w.ready = false

	err := w.teardown(value)
	if err != nil {
		return fmt.Errorf("failed to tear down %s: %w", w.name, err)
	}

	return nil
}
