package gcptr

import (
	"unsafe"
)

// Cursor is a bounds-checked position over a handle's range [begin, end).
// Cursors do not hold references: once the target is reclaimed a cursor over
// it is stale, and reading through it is a caller error.
//
// Arithmetic has value semantics. Add and Sub return a moved copy; only Next,
// Prev, PostInc and PostDec move the receiver.
type Cursor[T any] struct {
	span []T
	pos  int // current - begin, may leave [0, len(span)]
}

func newCursor[T any](span []T, pos int) Cursor[T] {
	return Cursor[T]{span: span, pos: pos}
}

// Len returns end - begin.
func (c Cursor[T]) Len() int { return len(c.span) }

// Pos returns current - begin.
func (c Cursor[T]) Pos() int { return c.pos }

// Get returns the current element, or a *BoundsError when the cursor is
// outside [begin, end).
func (c Cursor[T]) Get() (*T, error) {
	if c.pos < 0 || c.pos >= len(c.span) {
		return nil, &BoundsError{Op: "Get", Pos: c.pos, Len: len(c.span)}
	}
	return &c.span[c.pos], nil
}

// Value returns a copy of the current element, or a *BoundsError when the
// cursor is outside [begin, end).
func (c Cursor[T]) Value() (T, error) {
	if c.pos < 0 || c.pos >= len(c.span) {
		var zero T
		return zero, &BoundsError{Op: "Value", Pos: c.pos, Len: len(c.span)}
	}
	return c.span[c.pos], nil
}

// Next advances the cursor and returns it.
func (c *Cursor[T]) Next() *Cursor[T] {
	c.pos++
	return c
}

// Prev moves the cursor back and returns it.
func (c *Cursor[T]) Prev() *Cursor[T] {
	c.pos--
	return c
}

// PostInc advances the cursor and returns a copy at the old position.
func (c *Cursor[T]) PostInc() Cursor[T] {
	old := *c
	c.pos++
	return old
}

// PostDec moves the cursor back and returns a copy at the old position.
func (c *Cursor[T]) PostDec() Cursor[T] {
	old := *c
	c.pos--
	return old
}

// Add returns a copy moved n elements forward.
func (c Cursor[T]) Add(n int) Cursor[T] {
	c.pos += n
	return c
}

// Sub returns a copy moved n elements back.
func (c Cursor[T]) Sub(n int) Cursor[T] {
	c.pos -= n
	return c
}

// Diff returns the signed element distance c - o.
func (c Cursor[T]) Diff(o Cursor[T]) int {
	if c.sameSpan(o) {
		return c.pos - o.pos
	}
	size := unsafe.Sizeof(*new(T))
	if size == 0 {
		return c.pos - o.pos
	}
	return int(int64(c.addr()-o.addr()) / int64(size))
}

// Compare returns -1, 0 or +1 as c's current address is below, at or above o's.
func (c Cursor[T]) Compare(o Cursor[T]) int {
	if c.sameSpan(o) {
		switch {
		case c.pos < o.pos:
			return -1
		case c.pos > o.pos:
			return 1
		}
		return 0
	}
	a, b := c.addr(), o.addr()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Equal reports whether c and o are at the same element.
func (c Cursor[T]) Equal(o Cursor[T]) bool { return c.Compare(o) == 0 }

// Less reports whether c is before o.
func (c Cursor[T]) Less(o Cursor[T]) bool { return c.Compare(o) < 0 }

// LessEq reports whether c is before or at o.
func (c Cursor[T]) LessEq(o Cursor[T]) bool { return c.Compare(o) <= 0 }

// Greater reports whether c is after o.
func (c Cursor[T]) Greater(o Cursor[T]) bool { return c.Compare(o) > 0 }

// GreaterEq reports whether c is after or at o.
func (c Cursor[T]) GreaterEq(o Cursor[T]) bool { return c.Compare(o) >= 0 }

func (c Cursor[T]) sameSpan(o Cursor[T]) bool {
	return unsafe.SliceData(c.span) == unsafe.SliceData(o.span)
}

// addr is the current address as an integer. It is never converted back to a
// pointer, so positions outside the span are fine.
func (c Cursor[T]) addr() uintptr {
	base := uintptr(unsafe.Pointer(unsafe.SliceData(c.span)))
	return base + uintptr(c.pos)*unsafe.Sizeof(*new(T))
}
