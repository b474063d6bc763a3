// Package gcptr provides deterministic, reference-counted handles over tracked
// allocations, with array semantics and bounds-checked traversal.
//
// Every Handle belongs to a Registry. A registry is keyed by element type and a
// fixed size: size 0 tracks scalars, size n > 0 tracks arrays of n elements.
// Registries for the same element type but different sizes are independent,
// even when they happen to see the same address.
//
// Constructing or cloning a handle only increments reference counts. Releasing
// or reassigning a handle decrements and then sweeps the registry, returning
// every allocation whose count reached zero to its Allocator before the call
// returns.
//
// Basic usage:
//
//	reg := gcptr.MustRegistryOf[int](gcptr.Default(), 0)
//	h, err := reg.NewValue(42)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer h.Release()
//
//	h2 := h.Clone()    // refcount 2
//	_ = h2.Release()   // refcount 1
//
// Arrays and cursors:
//
//	arr := gcptr.MustRegistryOf[float64](gcptr.Default(), 5)
//	h, _ := arr.New()
//	for c := h.Begin(); c.Less(h.End()); c.Next() {
//		v, err := c.Get()
//		if err != nil { // gcptr.ErrBoundsExceeded
//			break
//		}
//		*v = 1.5
//	}
//
// Teardown is explicit. Call Shutdown on the Space (or gcptr.Shutdown for the
// default one) from the process shutdown sequence; it reclaims everything still
// tracked, whatever the outstanding reference counts.
//
// Registries are not safe for concurrent use.
package gcptr
