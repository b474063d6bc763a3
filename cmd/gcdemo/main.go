// Command gcdemo walks through the handle lifecycle scenarios and prints the
// registry after every step.
//
//	gcdemo run all --alloc slab --trace
package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/xDarkicex/gcptr"
	"github.com/xDarkicex/gcptr/leakcheck"
	"github.com/xDarkicex/gcptr/slab"
)

const arrayLen = 5

func main() {
	execute()
}

func run(w io.Writer, logger *slog.Logger, scenario, alloc string, trace bool) (err error) {
	scalars, err := newAllocator[int](alloc, 1, logger)
	if err != nil {
		return err
	}
	defer closeAllocator(scalars, logger)
	arrays, err := newAllocator[float64](alloc, arrayLen, logger)
	if err != nil {
		return err
	}
	defer closeAllocator(arrays, logger)

	// Registries must be torn down before their allocators close
	space := gcptr.NewSpace(gcptr.WithSpaceLogger(logger))
	defer func() {
		if serr := space.Shutdown(); serr != nil && err == nil {
			err = serr
		}
	}()

	var (
		intTracer   *leakcheck.Tracer[int]
		floatTracer *leakcheck.Tracer[float64]
	)
	if trace {
		intTracer = leakcheck.New(scalars, leakcheck.WithLogger(logger))
		floatTracer = leakcheck.New(arrays, leakcheck.WithLogger(logger))
		scalars, arrays = intTracer, floatTracer
	}

	switch scenario {
	case "a":
		err = scenarioA(w, space, scalars)
	case "b":
		err = scenarioB(w, space, arrays)
	case "all":
		if err = scenarioA(w, space, scalars); err == nil {
			err = scenarioB(w, space, arrays)
		}
	default:
		return fmt.Errorf("unknown scenario %q", scenario)
	}
	if err != nil {
		return err
	}

	if trace {
		if err := intTracer.Report(w); err != nil {
			return err
		}
		if err := floatTracer.Report(w); err != nil {
			return err
		}
	}
	return nil
}

// scenarioA copies and releases handles over one scalar.
func scenarioA(w io.Writer, space *gcptr.Space, alloc gcptr.Allocator[int]) error {
	reg, err := gcptr.RegistryOf[int](space, 0, gcptr.WithAllocator(alloc))
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "== scenario A: copy and release")
	h1, err := reg.NewValue(42)
	if err != nil {
		return err
	}
	if err := reg.Showlist(w); err != nil {
		return err
	}

	h2 := h1.Clone()
	if err := reg.Showlist(w); err != nil {
		return err
	}

	if err := h2.Release(); err != nil {
		return err
	}
	if err := reg.Showlist(w); err != nil {
		return err
	}

	if err := h1.Release(); err != nil {
		return err
	}
	return reg.Showlist(w)
}

// scenarioB walks an array with a cursor until it runs off the end.
func scenarioB(w io.Writer, space *gcptr.Space, alloc gcptr.Allocator[float64]) (err error) {
	reg, err := gcptr.RegistryOf[float64](space, arrayLen, gcptr.WithAllocator(alloc))
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "== scenario B: array traversal")
	h, err := reg.New()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := h.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	for i := range h.Len() {
		*h.At(i) = float64(i) * 1.5
	}
	if err := reg.Showlist(w); err != nil {
		return err
	}

	c := h.Begin()
	fmt.Fprintf(w, "cursor spans %d elements\n", c.Len())
	for i := 0; i <= c.Len(); i++ {
		v, err := c.Value()
		if err != nil {
			fmt.Fprintf(w, "step %d: %v\n", i, err)
			break
		}
		fmt.Fprintf(w, "step %d: %g\n", i, v)
		c.Next()
	}
	return nil
}

func newAllocator[T any](kind string, slotLen int, logger *slog.Logger) (gcptr.Allocator[T], error) {
	switch kind {
	case "heap":
		return gcptr.Heap[T]{}, nil
	case "slab":
		return slab.New[T](slotLen, 64, slab.WithSecure(), slab.WithBitGuard(), slab.WithLogger(logger))
	case "mmap":
		return slab.New[T](slotLen, 64, slab.WithMmap(), slab.WithSecure(), slab.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown allocator %q", kind)
	}
}

func closeAllocator[T any](a gcptr.Allocator[T], logger *slog.Logger) {
	c, ok := a.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.Warn("allocator close failed", slog.Any("error", err))
	}
}
