package slab

import (
	"log/slog"
)

// Option configures an Allocator.
type Option func(*allocatorConfig)

type allocatorConfig struct {
	enableSecure   bool
	enableBitGuard bool
	enableFallback bool
	enableDebug    bool
	enableMmap     bool
	logger         *slog.Logger
}

func defaultAllocatorConfig() allocatorConfig {
	return allocatorConfig{
		enableSecure:   false,
		enableBitGuard: false,
		enableFallback: false,
		enableDebug:    false,
		enableMmap:     false,
		logger:         nil,
	}
}

// WithSecure zeroes slots on deallocation.
func WithSecure() Option {
	return func(c *allocatorConfig) {
		c.enableSecure = true
	}
}

// WithBitGuard places canary-filled guard elements after every slot and
// verifies them, together with the unused tail of the slot, on deallocation.
// The element type must not contain pointers.
func WithBitGuard() Option {
	return func(c *allocatorConfig) {
		c.enableBitGuard = true
	}
}

// WithHeapFallback serves allocations from the Go heap once the pool is full
// or when an array does not fit in a slot.
func WithHeapFallback() Option {
	return func(c *allocatorConfig) {
		c.enableFallback = true
	}
}

// WithDebug captures a stack trace for every allocation.
func WithDebug() Option {
	return func(c *allocatorConfig) {
		c.enableDebug = true
	}
}

// WithMmap places the pool in an anonymous memory mapping instead of the Go
// heap. The element type must not contain pointers. Platforms without mmap
// fall back to a heap pool.
func WithMmap() Option {
	return func(c *allocatorConfig) {
		c.enableMmap = true
	}
}

// WithLogger sets a structured logger for leak reports and fallback events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *allocatorConfig) {
		c.logger = logger
	}
}
