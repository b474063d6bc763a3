// Package leakcheck records where tracked storage was allocated so leaks and
// mismatched deallocations can be traced back to a call site.
//
// A Tracer wraps any gcptr.Allocator. It forwards every call and remembers, per
// live allocation, the first caller outside this module, whether it was an
// array and its length.
//
//	tr := leakcheck.New[int](gcptr.Heap[int]{})
//	reg := gcptr.MustRegistryOf[int](space, 0, gcptr.WithAllocator[int](tr))
//	...
//	if err := tr.Check(); err != nil {
//		tr.Report(os.Stderr)
//	}
package leakcheck

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"unsafe"

	"github.com/xDarkicex/gcptr"
)

const modulePath = "github.com/xDarkicex/gcptr"

// Predefined errors
var (
	ErrUnknownPointer   = errors.New("leakcheck: pointer was not allocated through this tracer")
	ErrMismatchedDelete = errors.New("leakcheck: scalar/array deallocation does not match allocation")
	ErrLeaked           = errors.New("leakcheck: allocations outstanding")
)

// Allocation is one live allocation and the place it came from.
type Allocation struct {
	Seq      uint64
	Addr     uintptr
	Array    bool
	Length   int
	File     string
	Line     int
	Function string
}

func (a Allocation) String() string {
	kind := "scalar"
	if a.Array {
		kind = fmt.Sprintf("array[%d]", a.Length)
	}
	return fmt.Sprintf("#%d %s at %s:%d (%s)", a.Seq, kind, filepath.Base(a.File), a.Line, a.Function)
}

// Option configures a Tracer.
type Option func(*tracerConfig)

type tracerConfig struct {
	logger *slog.Logger
	skip   []string
}

// WithLogger sets the logger mismatches and unknown pointers are reported to.
func WithLogger(logger *slog.Logger) Option {
	return func(c *tracerConfig) {
		c.logger = logger
	}
}

// WithSkip treats functions whose name starts with prefix as internal, so
// call sites are attributed to their callers instead.
func WithSkip(prefix string) Option {
	return func(c *tracerConfig) {
		c.skip = append(c.skip, prefix)
	}
}

// Tracer is a gcptr.Allocator that records the call site of every live
// allocation made through it.
type Tracer[T any] struct {
	next   gcptr.Allocator[T]
	logger *slog.Logger
	skip   []string

	mu   sync.Mutex
	live map[*T]*Allocation
	seq  uint64
}

var _ gcptr.Allocator[int] = (*Tracer[int])(nil)

// New wraps next; a nil next traces gcptr.Heap.
func New[T any](next gcptr.Allocator[T], opts ...Option) *Tracer[T] {
	config := tracerConfig{
		skip: []string{
			modulePath + ".",
			modulePath + "/leakcheck.",
			modulePath + "/slab.",
			"runtime.",
		},
	}
	for _, opt := range opts {
		opt(&config)
	}
	if next == nil {
		next = gcptr.Heap[T]{}
	}
	return &Tracer[T]{
		next:   next,
		logger: config.logger,
		skip:   config.skip,
		live:   make(map[*T]*Allocation),
	}
}

// New allocates one element through the wrapped allocator.
func (t *Tracer[T]) New() (*T, error) {
	p, err := t.next.New()
	if err != nil {
		return nil, err
	}
	t.record(p, false, 1)
	return p, nil
}

// NewArray allocates n elements through the wrapped allocator.
func (t *Tracer[T]) NewArray(n int) (*T, error) {
	p, err := t.next.NewArray(n)
	if err != nil {
		return nil, err
	}
	t.record(p, true, n)
	return p, nil
}

// Delete forwards a scalar deallocation after checking it matches.
func (t *Tracer[T]) Delete(p *T) error {
	if err := t.check(p, false, 1); err != nil {
		return err
	}
	if err := t.next.Delete(p); err != nil {
		return err
	}
	t.forget(p)
	return nil
}

// DeleteArray forwards an array deallocation after checking it matches.
func (t *Tracer[T]) DeleteArray(p *T, n int) error {
	if err := t.check(p, true, n); err != nil {
		return err
	}
	if err := t.next.DeleteArray(p, n); err != nil {
		return err
	}
	t.forget(p)
	return nil
}

// Len returns the number of live allocations.
func (t *Tracer[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// Outstanding returns the live allocations in allocation order.
func (t *Tracer[T]) Outstanding() []Allocation {
	t.mu.Lock()
	out := make([]Allocation, 0, len(t.live))
	for _, a := range t.live {
		out = append(out, *a)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Report writes one line per live allocation.
func (t *Tracer[T]) Report(w io.Writer) error {
	out := t.Outstanding()
	if _, err := fmt.Fprintf(w, "leakcheck: %d outstanding allocation(s)\n", len(out)); err != nil {
		return err
	}
	for _, a := range out {
		if _, err := fmt.Fprintf(w, "  %s\n", a); err != nil {
			return err
		}
	}
	return nil
}

// Check returns ErrLeaked while any allocation is live.
func (t *Tracer[T]) Check() error {
	out := t.Outstanding()
	if len(out) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d, first %s", ErrLeaked, len(out), out[0])
}

func (t *Tracer[T]) record(p *T, array bool, n int) {
	frame := t.caller()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	t.live[p] = &Allocation{
		Seq:      t.seq,
		Addr:     uintptr(unsafe.Pointer(p)),
		Array:    array,
		Length:   n,
		File:     frame.File,
		Line:     frame.Line,
		Function: frame.Function,
	}
}

func (t *Tracer[T]) check(p *T, array bool, n int) error {
	t.mu.Lock()
	a, ok := t.live[p]
	t.mu.Unlock()

	if !ok {
		if t.logger != nil {
			t.logger.Warn("leakcheck: unknown pointer freed",
				slog.String("address", fmt.Sprintf("%p", p)))
		}
		return fmt.Errorf("%w: %p", ErrUnknownPointer, p)
	}
	if a.Array != array || (array && a.Length != n) {
		if t.logger != nil {
			t.logger.Warn("leakcheck: mismatched deallocation",
				slog.String("allocation", a.String()),
				slog.Bool("freed_as_array", array),
				slog.Int("freed_length", n))
		}
		return fmt.Errorf("%w: %s", ErrMismatchedDelete, a)
	}
	return nil
}

func (t *Tracer[T]) forget(p *T) {
	t.mu.Lock()
	delete(t.live, p)
	t.mu.Unlock()
}

// caller returns the first frame outside the skipped prefixes.
func (t *Tracer[T]) caller() runtime.Frame {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !more || !t.internal(frame.Function) {
			return frame
		}
	}
}

func (t *Tracer[T]) internal(fn string) bool {
	for _, prefix := range t.skip {
		if strings.HasPrefix(fn, prefix) {
			return true
		}
	}
	return false
}
