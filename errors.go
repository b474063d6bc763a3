package gcptr

import (
	"errors"
	"fmt"
)

// Predefined errors
var (
	ErrBoundsExceeded   = errors.New("gcptr: cursor out of range")
	ErrRegistryMismatch = errors.New("gcptr: handle belongs to a different registry")
	ErrInvalidSize      = errors.New("gcptr: registry size must not be negative")
	ErrAllocatorType    = errors.New("gcptr: allocator element type does not match registry")
	ErrInvalidLength    = errors.New("gcptr: array length must be positive")
)

// BoundsError reports a cursor dereference outside [begin, end).
type BoundsError struct {
	Op  string
	Pos int
	Len int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("gcptr: cursor out of range in %s: position %d, length %d", e.Op, e.Pos, e.Len)
}

// Is makes errors.Is(err, ErrBoundsExceeded) hold for every BoundsError.
func (e *BoundsError) Is(target error) bool {
	return target == ErrBoundsExceeded
}
