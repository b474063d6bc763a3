//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package slab

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mapPool maps n zeroed elements of anonymous private memory.
func mapPool[T any](n int) ([]T, func() error, error) {
	size := int(unsafe.Sizeof(*new(T))) * n
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("slab: mmap %d bytes: %w", size, err)
	}
	pool := unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(data))), n)
	unmap := func() error {
		err := unix.Munmap(data)
		if errors.Is(err, unix.EINVAL) {
			// Treat double-unmap as no-op for callers.
			return nil
		}
		return err
	}
	return pool, unmap, nil
}
