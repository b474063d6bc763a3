package gcptr

import (
	"log/slog"
)

// Option configures a Registry when it is created.
type Option func(*registryConfig)

type registryConfig struct {
	allocator any // Allocator[T], checked when the registry is built
	indexed   bool
	logger    *slog.Logger
	name      string
}

func defaultRegistryConfig() registryConfig {
	return registryConfig{
		allocator: nil, // Heap[T]
		indexed:   false,
		logger:    nil,
		name:      "",
	}
}

// WithAllocator sets the allocator records are reclaimed through. The
// allocator's element type must match the registry's.
func WithAllocator[T any](a Allocator[T]) Option {
	return func(c *registryConfig) {
		c.allocator = a
	}
}

// WithIndex keeps an address-keyed index next to the ordered records so every
// refcount update finds its record in O(1) instead of scanning.
func WithIndex() Option {
	return func(c *registryConfig) {
		c.indexed = true
	}
}

// WithLogger sets a structured logger for registry events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *registryConfig) {
		c.logger = logger
	}
}

// WithName overrides the element type name shown by Showlist and in logs.
func WithName(name string) Option {
	return func(c *registryConfig) {
		c.name = name
	}
}

// SpaceOption configures a Space.
type SpaceOption func(*spaceConfig)

type spaceConfig struct {
	logger   *slog.Logger
	defaults []Option
}

// WithSpaceLogger sets the logger for space events. Registries created in the
// space inherit it unless they set their own.
func WithSpaceLogger(logger *slog.Logger) SpaceOption {
	return func(c *spaceConfig) {
		c.logger = logger
	}
}

// WithRegistryDefaults applies opts to every registry the space creates,
// before the options passed to RegistryOf.
func WithRegistryDefaults(opts ...Option) SpaceOption {
	return func(c *spaceConfig) {
		c.defaults = append(c.defaults, opts...)
	}
}
