//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package slab

// mapPool allocates the pool on the heap when mmap is not available.
func mapPool[T any](n int) ([]T, func() error, error) {
	return make([]T, n), nil, nil
}
