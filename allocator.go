package gcptr

import (
	"unsafe"
)

// Allocator is the raw allocate/deallocate facility a Registry reclaims through.
// Implementations are substitutable; the registry never looks past the
// addresses they return.
type Allocator[T any] interface {
	// New returns storage for a single element
	New() (*T, error)
	// NewArray returns the first element of n contiguous elements
	NewArray(n int) (*T, error)
	// Delete releases storage obtained from New
	Delete(p *T) error
	// DeleteArray releases storage obtained from NewArray(n)
	DeleteArray(p *T, n int) error
}

// Heap allocates from the Go heap. Delete and DeleteArray zero the storage so
// a stale view observes zero values instead of the old contents; the memory
// itself is left to the Go runtime.
type Heap[T any] struct{}

// New allocates a single zeroed element.
func (Heap[T]) New() (*T, error) {
	return new(T), nil
}

// NewArray allocates n zeroed contiguous elements.
func (Heap[T]) NewArray(n int) (*T, error) {
	if n <= 0 {
		return nil, ErrInvalidLength
	}
	s := make([]T, n)
	return &s[0], nil
}

// Delete zeroes p.
func (Heap[T]) Delete(p *T) error {
	if p != nil {
		var zero T
		*p = zero
	}
	return nil
}

// DeleteArray zeroes the n elements starting at p.
func (Heap[T]) DeleteArray(p *T, n int) error {
	if p != nil && n > 0 {
		clear(unsafe.Slice(p, n))
	}
	return nil
}
