package gcptr

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// registrant is the type-erased view a Space keeps of its registries.
type registrant interface {
	Key() Key
	Len() int
	Shutdown() error
}

// Space owns one Registry per (element type, size) pair and tears them down
// together. A registry joins the shutdown list when its first handle is
// constructed.
type Space struct {
	id         uuid.UUID
	logger     *slog.Logger
	defaults   []Option
	registries map[Key]registrant
	enlisted   []registrant
}

var defaultSpace = NewSpace()

// NewSpace creates an empty Space.
func NewSpace(opts ...SpaceOption) *Space {
	var config spaceConfig
	for _, opt := range opts {
		opt(&config)
	}
	return &Space{
		id:         uuid.New(),
		logger:     config.logger,
		defaults:   config.defaults,
		registries: make(map[Key]registrant),
	}
}

// Default returns the process-wide Space.
func Default() *Space { return defaultSpace }

// Shutdown shuts down the process-wide Space.
func Shutdown() error { return defaultSpace.Shutdown() }

// ID returns the space's unique identifier.
func (s *Space) ID() uuid.UUID { return s.id }

// RegistryOf returns the registry for (T, size) in s, creating it on first use.
// Options only take effect when the registry is created.
func RegistryOf[T any](s *Space, size int, opts ...Option) (*Registry[T], error) {
	if size < 0 {
		return nil, ErrInvalidSize
	}
	key := Key{Type: reflect.TypeFor[T](), Size: size}
	if existing, ok := s.registries[key]; ok {
		return existing.(*Registry[T]), nil
	}
	r, err := newRegistry[T](s, size, opts)
	if err != nil {
		return nil, err
	}
	s.registries[key] = r
	if s.logger != nil {
		s.logger.Debug("gcptr: registry created",
			slog.String("space", s.id.String()),
			slog.String("registry", key.String()),
			slog.String("registry_id", r.id.String()))
	}
	return r, nil
}

// MustRegistryOf is RegistryOf that panics on error.
func MustRegistryOf[T any](s *Space, size int, opts ...Option) *Registry[T] {
	r, err := RegistryOf[T](s, size, opts...)
	if err != nil {
		panic(fmt.Sprintf("gcptr: registry %v: %v", Key{Type: reflect.TypeFor[T](), Size: size}, err))
	}
	return r
}

// Keys returns the keys of every registry created in s.
func (s *Space) Keys() []Key {
	keys := make([]Key, 0, len(s.registries))
	for k := range s.registries {
		keys = append(keys, k)
	}
	return keys
}

// Enlisted returns the keys of the registries Shutdown will visit, in the
// order they were first used.
func (s *Space) Enlisted() []Key {
	keys := make([]Key, len(s.enlisted))
	for i, r := range s.enlisted {
		keys[i] = r.Key()
	}
	return keys
}

// Shutdown reclaims everything tracked by every enlisted registry, most
// recently enlisted first, whatever the outstanding refcounts. Every registry
// is visited even if an earlier one fails; the errors are combined.
func (s *Space) Shutdown() error {
	var err error
	for i := len(s.enlisted) - 1; i >= 0; i-- {
		r := s.enlisted[i]
		n := r.Len()
		if rerr := r.Shutdown(); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("gcptr: shutdown %s: %w", r.Key(), rerr))
		}
		if s.logger != nil && n > 0 {
			s.logger.Info("gcptr: reclaimed at shutdown",
				slog.String("space", s.id.String()),
				slog.String("registry", r.Key().String()),
				slog.Int("records", n))
		}
	}
	return err
}

func (s *Space) enlist(r registrant) {
	s.enlisted = append(s.enlisted, r)
}
