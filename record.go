package gcptr

// TrackedAllocation describes one allocation owned by a Registry.
// Length is meaningful only when IsArray is set.
type TrackedAllocation[T any] struct {
	Addr     *T
	Refcount int
	IsArray  bool
	Length   int
}

// Equal compares addresses only.
func (a TrackedAllocation[T]) Equal(other TrackedAllocation[T]) bool {
	return a.Addr == other.Addr
}

