package gcptr

import (
	"fmt"
	"unsafe"
)

// Handle is a reference-counted pointer into a Registry. Handles must be
// released exactly like the allocations they replace: every Empty, Wrap, New,
// NewValue and Clone is paired with a Release.
//
// The zero Handle is not usable; obtain handles from a Registry.
type Handle[T any] struct {
	reg     *Registry[T]
	addr    *T
	isArray bool
	length  int
	gen     uint64
}

// Empty returns a handle that points at nothing.
func (r *Registry[T]) Empty() *Handle[T] {
	r.touch()
	return &Handle[T]{reg: r, gen: r.gen}
}

// Wrap returns a handle over p. If p is already tracked its refcount is
// incremented, otherwise a record with refcount 1 is created. Wrap never
// sweeps. A nil p yields a handle that points at nothing.
//
// For a registry of size n > 0, p must be the first of n contiguous elements
// obtained from the registry's allocator.
func (r *Registry[T]) Wrap(p *T) *Handle[T] {
	r.touch()
	h := &Handle[T]{
		reg:     r,
		addr:    p,
		isArray: r.key.Size > 0,
		length:  r.key.Size,
		gen:     r.gen,
	}
	r.retain(p)
	return h
}

// New allocates storage from the registry's allocator and wraps it: a single
// element for scalar registries, Size() elements otherwise.
func (r *Registry[T]) New() (*Handle[T], error) {
	var (
		p   *T
		err error
	)
	if r.key.Size > 0 {
		p, err = r.allocator.NewArray(r.key.Size)
	} else {
		p, err = r.allocator.New()
	}
	if err != nil {
		return nil, fmt.Errorf("gcptr: allocate %s: %w", r.key, err)
	}
	return r.Wrap(p), nil
}

// NewValue is New followed by storing v in every element.
func (r *Registry[T]) NewValue(v T) (*Handle[T], error) {
	h, err := r.New()
	if err != nil {
		return nil, err
	}
	s := h.Slice()
	for i := range s {
		s[i] = v
	}
	return h, nil
}

// Clone returns a new handle to the same target, incrementing its refcount.
// Clone never sweeps. A clone of a handle that outlived Shutdown owns nothing
// either.
func (h *Handle[T]) Clone() *Handle[T] {
	h.reg.touch()
	c := &Handle[T]{
		reg:     h.reg,
		addr:    h.addr,
		isArray: h.isArray,
		length:  h.length,
		gen:     h.gen,
	}
	if c.owns() {
		h.reg.incref(c.addr)
	}
	return c
}

// Release drops this handle's reference and sweeps the registry. The handle
// points at nothing afterwards, so releasing it again only sweeps.
func (h *Handle[T]) Release() error {
	if h.owns() {
		h.reg.decref(h.addr)
	}
	h.addr = nil
	h.isArray = false
	h.length = 0
	_, err := h.reg.collect()
	return err
}

// Set retargets the handle at p: the old target is decremented, p is
// incremented or tracked, then the registry is swept.
func (h *Handle[T]) Set(p *T) error {
	if h.owns() {
		h.reg.decref(h.addr)
	}
	h.reg.retain(p)
	h.gen = h.reg.gen
	h.addr = p
	h.isArray = h.reg.key.Size > 0
	h.length = h.reg.key.Size
	_, err := h.reg.collect()
	return err
}

// Assign retargets the handle at src's target, then sweeps. Assigning a handle
// to itself does nothing. Handles from another registry are rejected.
func (h *Handle[T]) Assign(src *Handle[T]) error {
	if h == src {
		return nil
	}
	if src.reg != h.reg {
		return fmt.Errorf("%w: %s into %s", ErrRegistryMismatch, src.reg.key, h.reg.key)
	}
	if h.owns() {
		h.reg.decref(h.addr)
	}
	if src.owns() {
		h.reg.incref(src.addr)
	}
	h.addr = src.addr
	h.isArray = src.isArray
	h.length = src.length
	h.gen = src.gen
	_, err := h.reg.collect()
	return err
}

// owns reports whether the handle's reference is still counted, i.e. the
// registry has not been shut down since the handle was constructed.
func (h *Handle[T]) owns() bool { return h.gen == h.reg.gen }

// Deref returns the target address without checking it; nil for an empty
// handle.
func (h *Handle[T]) Deref() *T { return h.addr }

// Value returns the target element. It panics on an empty handle.
func (h *Handle[T]) Value() T { return *h.addr }

// At returns the i-th element of the target. Indexing outside the target
// panics; use a Cursor for checked access.
func (h *Handle[T]) At(i int) *T { return &h.Slice()[i] }

// Addr exposes the raw address for code that works with plain pointers.
func (h *Handle[T]) Addr() *T { return h.addr }

// Slice returns the target as a slice of Len() elements, nil when empty.
func (h *Handle[T]) Slice() []T {
	if h.addr == nil {
		return nil
	}
	return unsafe.Slice(h.addr, h.Len())
}

// IsNil reports whether the handle points at nothing.
func (h *Handle[T]) IsNil() bool { return h.addr == nil }

// IsArray reports whether the handle targets an array.
func (h *Handle[T]) IsArray() bool { return h.isArray }

// Len returns the number of elements the handle spans: the array length, or 1
// for a scalar target. An empty handle spans nothing.
func (h *Handle[T]) Len() int {
	switch {
	case h.addr == nil:
		return 0
	case h.isArray:
		return h.length
	default:
		return 1
	}
}

// Registry returns the registry this handle belongs to.
func (h *Handle[T]) Registry() *Registry[T] { return h.reg }

// Begin returns a cursor on the first element.
func (h *Handle[T]) Begin() Cursor[T] {
	return newCursor(h.Slice(), 0)
}

// End returns a cursor one past the last element.
func (h *Handle[T]) End() Cursor[T] {
	s := h.Slice()
	return newCursor(s, len(s))
}
