package provider

import (
	"sync/atomic"
)

// Holder lazily constructs a value once per runtime boundary and hands the
// same instance to every caller afterwards.
//
// Concurrent first calls may both construct; the last one stored wins. The
// constructed values must therefore be interchangeable. Failed constructions
// are not cached.
type Holder[T any] struct {
	build func() (T, error)
	value atomic.Pointer[T]
}

func NewHolder[T any](build func() (T, error)) *Holder[T] {
	return &Holder[T]{build: build}
}

// Get returns the cached value, constructing it on first use.
func (h *Holder[T]) Get() (T, error) {
	if v := h.value.Load(); v != nil {
		return *v, nil
	}

	v, err := h.build()
	if err != nil {
		var zero T
		return zero, err
	}

	h.value.Store(&v)

	return v, nil
}

// Set replaces the held value. Tests use it to inject a fake.
func (h *Holder[T]) Set(v T) {
	h.value.Store(&v)
}
