package gcptr

import (
	"fmt"
	"io"
	"log/slog"
	"reflect"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// Key identifies a registry: element type plus fixed size.
type Key struct {
	Type reflect.Type
	Size int
}

func (k Key) String() string {
	return fmt.Sprintf("%v, %d", k.Type, k.Size)
}

// Stats contains registry usage counters.
type Stats struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Size          int    `json:"size"`
	Records       int    `json:"records"`
	References    int    `json:"references"`
	Tracked       uint64 `json:"tracked"`
	Reclaimed     uint64 `json:"reclaimed"`
	Sweeps        uint64 `json:"sweeps"`
	ReclaimErrors uint64 `json:"reclaim_errors"`
	ScanSteps     uint64 `json:"scan_steps"`
	Generation    uint64 `json:"generation"`
	Indexed       bool   `json:"indexed"`
}

// Registry holds the tracked allocations for one (element type, size) pair,
// in insertion order. It is not safe for concurrent use.
type Registry[T any] struct {
	id        uuid.UUID
	key       Key
	name      string
	allocator Allocator[T]
	logger    *slog.Logger

	records []*TrackedAllocation[T]
	index   map[*T]*TrackedAllocation[T] // nil unless WithIndex

	space *Space
	first bool   // no handle constructed yet
	gen   uint64 // bumped by Shutdown; handles from older generations own nothing

	tracked       uint64
	reclaimed     uint64
	sweeps        uint64
	reclaimErrors uint64
	scanSteps     uint64
}

// NewRegistry creates a standalone registry that belongs to no Space. Its
// owner is responsible for calling Shutdown.
func NewRegistry[T any](size int, opts ...Option) (*Registry[T], error) {
	return newRegistry[T](nil, size, opts)
}

func newRegistry[T any](space *Space, size int, opts []Option) (*Registry[T], error) {
	if size < 0 {
		return nil, ErrInvalidSize
	}

	config := defaultRegistryConfig()
	if space != nil {
		config.logger = space.logger
		for _, opt := range space.defaults {
			opt(&config)
		}
	}
	for _, opt := range opts {
		opt(&config)
	}

	var allocator Allocator[T] = Heap[T]{}
	if config.allocator != nil {
		a, ok := config.allocator.(Allocator[T])
		if !ok {
			return nil, fmt.Errorf("%w: %T", ErrAllocatorType, config.allocator)
		}
		allocator = a
	}

	key := Key{Type: reflect.TypeFor[T](), Size: size}
	name := config.name
	if name == "" {
		name = key.Type.String()
	}

	r := &Registry[T]{
		id:        uuid.New(),
		key:       key,
		name:      name,
		allocator: allocator,
		logger:    config.logger,
		space:     space,
		first:     true,
	}
	if config.indexed {
		r.index = make(map[*T]*TrackedAllocation[T])
	}
	return r, nil
}

// ID returns the registry's unique identifier.
func (r *Registry[T]) ID() uuid.UUID { return r.id }

// Key returns the (element type, size) pair this registry tracks.
func (r *Registry[T]) Key() Key { return r.key }

// Size returns the fixed array length of this registry, 0 for scalars.
func (r *Registry[T]) Size() int { return r.key.Size }

// Len returns the number of live records.
func (r *Registry[T]) Len() int { return len(r.records) }

// Allocator returns the allocator records are reclaimed through.
func (r *Registry[T]) Allocator() Allocator[T] { return r.allocator }

// Refcount returns the recorded count for p and whether p is tracked.
func (r *Registry[T]) Refcount(p *T) (int, bool) {
	if rec := r.find(p); rec != nil {
		return rec.Refcount, true
	}
	return 0, false
}

// Records returns a copy of the records in insertion order.
func (r *Registry[T]) Records() []TrackedAllocation[T] {
	out := make([]TrackedAllocation[T], len(r.records))
	for i, rec := range r.records {
		out[i] = *rec
	}
	return out
}

// Collect reclaims every record whose refcount dropped to zero or below and
// reports whether anything was reclaimed. Reclamation errors are logged; use
// Sweep to receive them.
func (r *Registry[T]) Collect() bool {
	freed, err := r.collect()
	if err != nil && r.logger != nil {
		r.logger.Warn("gcptr: reclamation failed",
			slog.String("registry", r.key.String()),
			slog.Any("error", err))
	}
	return freed
}

// Sweep is Collect returning the aggregated reclamation errors.
func (r *Registry[T]) Sweep() (bool, error) {
	return r.collect()
}

// Shutdown forces every record's refcount to zero and reclaims them all. It is
// a no-op on an empty registry. Handles that are still live keep their
// addresses but no longer own anything: releasing or reassigning them never
// touches records created after Shutdown, even when the allocator hands the
// same address out again.
func (r *Registry[T]) Shutdown() error {
	if len(r.records) == 0 {
		return nil
	}
	r.gen++
	outstanding := 0
	for _, rec := range r.records {
		outstanding += rec.Refcount
		rec.Refcount = 0
	}
	if r.logger != nil {
		r.logger.Debug("gcptr: registry shutdown",
			slog.String("registry", r.key.String()),
			slog.Int("records", len(r.records)),
			slog.Int("outstanding_refs", outstanding))
	}
	_, err := r.collect()
	return err
}

// Stats returns registry counters.
func (r *Registry[T]) Stats() *Stats {
	refs := 0
	for _, rec := range r.records {
		refs += rec.Refcount
	}
	return &Stats{
		ID:            r.id.String(),
		Type:          r.name,
		Size:          r.key.Size,
		Records:       len(r.records),
		References:    refs,
		Tracked:       r.tracked,
		Reclaimed:     r.reclaimed,
		Sweeps:        r.sweeps,
		ReclaimErrors: r.reclaimErrors,
		ScanSteps:     r.scanSteps,
		Generation:    r.gen,
		Indexed:       r.index != nil,
	}
}

// Showlist writes the records in insertion order:
//
//	registry<int, 0>:
//	address refcount value
//	[0xc000012080] 2 42
//
// An empty registry prints "  container is empty" instead of records.
func (r *Registry[T]) Showlist(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "registry<%s, %d>:\naddress refcount value\n", r.name, r.key.Size); err != nil {
		return err
	}
	if len(r.records) == 0 {
		_, err := fmt.Fprint(w, "  container is empty\n\n")
		return err
	}
	for _, rec := range r.records {
		value := "---"
		if rec.Addr != nil {
			value = fmt.Sprint(*rec.Addr)
		}
		if _, err := fmt.Fprintf(w, "[%p] %d %s\n", rec.Addr, rec.Refcount, value); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

// touch marks the registry as used. The first call enlists it with its space
// so the space's Shutdown reaches it.
func (r *Registry[T]) touch() {
	if !r.first {
		return
	}
	r.first = false
	if r.space != nil {
		r.space.enlist(r)
	}
}

func (r *Registry[T]) find(p *T) *TrackedAllocation[T] {
	if p == nil {
		return nil
	}
	if r.index != nil {
		return r.index[p]
	}
	for _, rec := range r.records {
		r.scanSteps++
		if rec.Addr == p {
			return rec
		}
	}
	return nil
}

// retain increments p's record, creating it when p is not tracked yet.
func (r *Registry[T]) retain(p *T) {
	if p == nil {
		return
	}
	if rec := r.find(p); rec != nil {
		rec.Refcount++
		return
	}
	rec := &TrackedAllocation[T]{
		Addr:     p,
		Refcount: 1,
		IsArray:  r.key.Size > 0,
		Length:   r.key.Size,
	}
	r.records = append(r.records, rec)
	if r.index != nil {
		r.index[p] = rec
	}
	r.tracked++
	if r.logger != nil {
		r.logger.Debug("gcptr: tracking allocation",
			slog.String("registry", r.key.String()),
			slog.String("address", fmt.Sprintf("%p", p)))
	}
}

// incref increments p's record only if p is already tracked.
func (r *Registry[T]) incref(p *T) {
	if rec := r.find(p); rec != nil {
		rec.Refcount++
	}
}

func (r *Registry[T]) decref(p *T) {
	if rec := r.find(p); rec != nil {
		rec.Refcount--
	}
}

func (r *Registry[T]) collect() (bool, error) {
	r.sweeps++
	var err error
	freed := false
	kept := r.records[:0]
	for _, rec := range r.records {
		if rec.Refcount > 0 {
			kept = append(kept, rec)
			continue
		}
		if rerr := r.reclaim(rec); rerr != nil {
			r.reclaimErrors++
			err = multierr.Append(err, rerr)
		}
		if r.index != nil {
			delete(r.index, rec.Addr)
		}
		r.reclaimed++
		freed = true
	}
	clear(r.records[len(kept):])
	r.records = kept
	return freed, err
}

func (r *Registry[T]) reclaim(rec *TrackedAllocation[T]) error {
	var err error
	if rec.IsArray {
		err = r.allocator.DeleteArray(rec.Addr, rec.Length)
	} else {
		err = r.allocator.Delete(rec.Addr)
	}
	if r.logger != nil {
		r.logger.Debug("gcptr: reclaimed allocation",
			slog.String("registry", r.key.String()),
			slog.String("address", fmt.Sprintf("%p", rec.Addr)),
			slog.Bool("array", rec.IsArray),
			slog.Int("length", rec.Length))
	}
	if err != nil {
		return fmt.Errorf("gcptr: reclaim %p: %w", rec.Addr, err)
	}
	return nil
}
