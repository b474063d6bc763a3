// Package slab provides a typed slab allocator for gcptr registries.
//
// An Allocator carves a fixed pool into capacity slots of slotLen elements.
// Every allocation, scalar or array, occupies one slot, so allocation and
// deallocation are O(1) and freed slots are reused LIFO. The pool can live on
// the Go heap or, for pointer-free element types, in an anonymous memory
// mapping outside the Go heap.
//
// With WithBitGuard every slot is followed by guard elements. The unused tail
// of the slot and the guard elements are filled with a per-allocation canary
// that is verified on deallocation, so writes past the end of an allocation
// are reported as ErrMemoryCorruption.
//
// Basic usage:
//
//	pool, err := slab.New[int64](8, 1024) // 1024 slots of 8 elements
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer pool.Close()
//
//	reg := gcptr.MustRegistryOf[int64](gcptr.Default(), 8, gcptr.WithAllocator[int64](pool))
//
// Advanced usage with options:
//
//	pool, err := slab.New[Vertex](4, 4096,
//		slab.WithMmap(),        // off-heap pool, Vertex must hold no pointers
//		slab.WithSecure(),      // zero slots on deallocation
//		slab.WithBitGuard(),    // verify slot canaries on deallocation
//		slab.WithHeapFallback(), // serve from the heap once the pool is full
//	)
package slab

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

const Version = "1.0.0"

// guardBytes is the minimum guard size after each slot with WithBitGuard.
const guardBytes = 8

// Predefined errors
var (
	ErrOutOfMemory        = errors.New("slab: out of memory")
	ErrInvalidReference   = errors.New("slab: invalid reference")
	ErrDoubleDeallocation = errors.New("slab: double deallocation detected")
	ErrKindMismatch       = errors.New("slab: deallocation kind does not match allocation")
	ErrMemoryCorruption   = errors.New("slab: memory corruption detected")
	ErrArrayTooLarge      = errors.New("slab: array does not fit in a slot")
	ErrInvalidLength      = errors.New("slab: array length must be positive")
	ErrInvalidSlotLen     = errors.New("slab: slot length must be positive")
	ErrInvalidCapacity    = errors.New("slab: capacity must be positive")
	ErrCapacityExceeded   = errors.New("slab: pool must not exceed MaxInt32 elements")
	ErrZeroSizeElement    = errors.New("slab: element type has zero size")
	ErrPointerElement     = errors.New("slab: element type must not contain pointers")
	ErrClosed             = errors.New("slab: allocator is closed")
)

// Stats contains usage counters.
type Stats struct {
	Version            string  `json:"version"`
	SlotLen            int     `json:"slot_len"`
	TotalSlots         int     `json:"total_slots"`
	UsedSlots          int     `json:"used_slots"`
	AvailableSlots     int     `json:"available_slots"`
	PeakUsedSlots      int     `json:"peak_used_slots"`
	TotalAllocations   uint64  `json:"total_allocations"`
	TotalDeallocations uint64  `json:"total_deallocations"`
	CurrentAllocations uint64  `json:"current_allocations"`
	ArrayAllocations   uint64  `json:"array_allocations"`
	HeapFallbacks      uint64  `json:"heap_fallbacks"`
	AllocationErrors   uint64  `json:"allocation_errors"`
	DeallocationErrors uint64  `json:"deallocation_errors"`
	MemoryUtilization  float64 `json:"memory_utilization"`
	SecureMode         bool    `json:"secure_mode"`
	BitGuardEnabled    bool    `json:"bit_guard_enabled"`
	MmapBacked         bool    `json:"mmap_backed"`
}

// Outstanding describes an allocation that has not been returned.
type Outstanding struct {
	Slot   int    // -1 for heap fallback allocations
	Array  bool
	Length int
	Stack  string // empty unless WithDebug
}

// Allocator is a typed slab allocator. It is safe for concurrent use, which
// lets several registries share one pool.
type Allocator[T any] struct {
	slotLen   int
	slotElems int // slotLen plus guard elements
	capacity  int
	elemSize  uintptr
	stride    uintptr // bytes per slot

	pool  []T
	base  uintptr
	limit uintptr
	unmap func() error

	slots    []slotMeta
	free     []int32
	fallback map[*T]*slotMeta

	config allocatorConfig
	logger *slog.Logger
	seed   uint64

	allocations      uint64
	deallocations    uint64
	arrayAllocations uint64
	heapFallbacks    uint64
	allocErrors      uint64
	deallocErrors    uint64
	used             int
	peakUsed         int

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

type slotMeta struct {
	inUse   bool
	isArray bool
	length  int
	gen     uint32
	guard   uint64
	stack   string
}

// New creates an allocator with capacity slots of slotLen elements each.
func New[T any](slotLen, capacity int, options ...Option) (*Allocator[T], error) {
	if slotLen <= 0 {
		return nil, ErrInvalidSlotLen
	}
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	elemSize := unsafe.Sizeof(*new(T))
	if elemSize == 0 {
		return nil, ErrZeroSizeElement
	}

	config := defaultAllocatorConfig()
	for _, opt := range options {
		opt(&config)
	}

	if config.enableMmap || config.enableBitGuard {
		if t := reflect.TypeFor[T](); hasPointers(t) {
			return nil, fmt.Errorf("%w: %v (mmap=%t, bit guard=%t)",
				ErrPointerElement, t, config.enableMmap, config.enableBitGuard)
		}
	}

	slotElems := slotLen
	if config.enableBitGuard {
		slotElems += int((guardBytes + elemSize - 1) / elemSize)
	}
	if int64(slotElems)*int64(capacity) > math.MaxInt32 {
		return nil, ErrCapacityExceeded
	}

	n := slotElems * capacity
	var (
		pool  []T
		unmap func() error
	)
	if config.enableMmap {
		var err error
		pool, unmap, err = mapPool[T](n)
		if err != nil {
			return nil, err
		}
	} else {
		pool = make([]T, n)
	}

	// Pop order hands out slot 0 first
	free := make([]int32, capacity)
	for i := range free {
		free[i] = int32(capacity - 1 - i)
	}

	stride := elemSize * uintptr(slotElems)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(pool)))

	a := &Allocator[T]{
		slotLen:   slotLen,
		slotElems: slotElems,
		capacity:  capacity,
		elemSize:  elemSize,
		stride:    stride,
		pool:      pool,
		base:      base,
		limit:     base + stride*uintptr(capacity),
		unmap:     unmap,
		slots:     make([]slotMeta, capacity),
		free:      free,
		fallback:  make(map[*T]*slotMeta),
		config:    config,
		logger:    config.logger,
		seed:      uint64(time.Now().UnixNano()),
	}
	return a, nil
}

// New allocates one element.
func (a *Allocator[T]) New() (*T, error) {
	return a.allocate(1, false)
}

// NewArray allocates n contiguous elements; n must not exceed the slot length
// unless heap fallback is enabled.
func (a *Allocator[T]) NewArray(n int) (*T, error) {
	if n <= 0 {
		a.mu.Lock()
		a.allocErrors++
		a.mu.Unlock()
		return nil, ErrInvalidLength
	}
	return a.allocate(n, true)
}

// MustNew allocates one element or panics - use only when allocation failure is fatal.
func (a *Allocator[T]) MustNew() *T {
	p, err := a.New()
	if err != nil {
		panic(fmt.Sprintf("slab: critical allocation failure: %v", err))
	}
	return p
}

// Delete returns storage obtained from New.
func (a *Allocator[T]) Delete(p *T) error {
	return a.deallocate(p, false, 1)
}

// DeleteArray returns storage obtained from NewArray(n).
func (a *Allocator[T]) DeleteArray(p *T, n int) error {
	return a.deallocate(p, true, n)
}

// Contains reports whether p is the start of a live allocation from a.
func (a *Allocator[T]) Contains(p *T) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	meta, _, err := a.lookup(p)
	return err == nil && meta.inUse
}

// SlotLen returns the number of elements per slot.
func (a *Allocator[T]) SlotLen() int { return a.slotLen }

// Stats returns allocator statistics.
func (a *Allocator[T]) Stats() *Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	slotsUsed := 0
	for i := range a.slots {
		if a.slots[i].inUse {
			slotsUsed++
		}
	}
	return &Stats{
		Version:            Version,
		SlotLen:            a.slotLen,
		TotalSlots:         a.capacity,
		UsedSlots:          slotsUsed,
		AvailableSlots:     a.capacity - slotsUsed,
		PeakUsedSlots:      a.peakUsed,
		TotalAllocations:   a.allocations,
		TotalDeallocations: a.deallocations,
		CurrentAllocations: a.allocations - a.deallocations,
		ArrayAllocations:   a.arrayAllocations,
		HeapFallbacks:      a.heapFallbacks,
		AllocationErrors:   a.allocErrors,
		DeallocationErrors: a.deallocErrors,
		MemoryUtilization:  float64(slotsUsed) / float64(a.capacity),
		SecureMode:         a.config.enableSecure,
		BitGuardEnabled:    a.config.enableBitGuard,
		MmapBacked:         a.unmap != nil,
	}
}

// Outstanding lists every allocation not yet returned, pool slots first.
func (a *Allocator[T]) Outstanding() []Outstanding {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Outstanding
	for i := range a.slots {
		m := &a.slots[i]
		if m.inUse {
			out = append(out, Outstanding{Slot: i, Array: m.isArray, Length: m.length, Stack: m.stack})
		}
	}
	for _, m := range a.fallback {
		out = append(out, Outstanding{Slot: -1, Array: m.isArray, Length: m.length, Stack: m.stack})
	}
	return out
}

// Close releases the pool. Outstanding allocations are logged as leaks. With
// mmap backing every pointer into the pool becomes invalid.
func (a *Allocator[T]) Close() error {
	var err error
	a.closeOnce.Do(func() {
		leaks := a.Outstanding()

		a.mu.Lock()
		defer a.mu.Unlock()
		a.closed = true
		if a.logger != nil {
			for _, l := range leaks {
				a.logger.Error("slab: memory leak detected",
					slog.Int("slot", l.Slot),
					slog.Bool("array", l.Array),
					slog.Int("length", l.Length),
					slog.String("allocation_stack", l.Stack))
			}
		}
		if a.unmap != nil {
			err = a.unmap()
		}
		a.pool = nil
	})
	return err
}

func (a *Allocator[T]) allocate(n int, isArray bool) (*T, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		a.allocErrors++
		return nil, ErrClosed
	}

	if n > a.slotLen {
		if a.config.enableFallback {
			return a.allocateHeapFallback(n, isArray), nil
		}
		a.allocErrors++
		return nil, fmt.Errorf("%w: %d > %d", ErrArrayTooLarge, n, a.slotLen)
	}

	if len(a.free) == 0 {
		if a.config.enableFallback {
			return a.allocateHeapFallback(n, isArray), nil
		}
		a.allocErrors++
		return nil, ErrOutOfMemory
	}

	id := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]

	m := &a.slots[id]
	m.inUse = true
	m.isArray = isArray
	m.length = n
	if a.config.enableBitGuard {
		m.guard = a.canary(id, m.gen)
		fillGuard(a.guardRegion(id, n), m.guard)
	}
	a.recordStack(m)
	a.recordAllocation(isArray)
	a.used++
	if a.used > a.peakUsed {
		a.peakUsed = a.used
	}

	return &a.pool[int(id)*a.slotElems], nil
}

func (a *Allocator[T]) allocateHeapFallback(n int, isArray bool) *T {
	s := make([]T, n)
	m := &slotMeta{inUse: true, isArray: isArray, length: n}
	a.recordStack(m)
	a.fallback[&s[0]] = m
	a.heapFallbacks++
	a.recordAllocation(isArray)
	if a.logger != nil {
		a.logger.Debug("slab: heap fallback",
			slog.Int("length", n),
			slog.Bool("array", isArray))
	}
	return &s[0]
}

func (a *Allocator[T]) deallocate(p *T, isArray bool, n int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p == nil {
		a.deallocErrors++
		return ErrInvalidReference
	}
	if a.closed {
		a.deallocErrors++
		return ErrClosed
	}

	m, id, err := a.lookup(p)
	if err != nil {
		a.deallocErrors++
		return err
	}
	if !m.inUse {
		a.deallocErrors++
		return ErrDoubleDeallocation
	}
	if m.isArray != isArray || (isArray && m.length != n) {
		a.deallocErrors++
		return fmt.Errorf("%w: allocated array=%t length=%d, freed array=%t length=%d",
			ErrKindMismatch, m.isArray, m.length, isArray, n)
	}
	if id >= 0 && a.config.enableBitGuard {
		if off := checkGuard(a.guardRegion(id, m.length), m.guard); off >= 0 {
			a.deallocErrors++
			return fmt.Errorf("%w: slot %d: guard overwritten %d bytes past the allocation",
				ErrMemoryCorruption, id, off)
		}
	}

	// Zero memory if secure mode is enabled
	if a.config.enableSecure {
		clear(unsafe.Slice(p, m.length))
	}

	if id < 0 {
		delete(a.fallback, p)
	} else {
		m.inUse = false
		m.gen++
		m.guard = 0
		m.stack = ""
		a.free = append(a.free, id)
		a.used--
	}
	a.deallocations++
	return nil
}

// lookup maps p to its slot metadata; id is -1 for heap fallback allocations.
func (a *Allocator[T]) lookup(p *T) (*slotMeta, int32, error) {
	addr := uintptr(unsafe.Pointer(p))
	if a.pool != nil && addr >= a.base && addr < a.limit {
		off := addr - a.base
		if off%a.stride != 0 {
			return nil, 0, fmt.Errorf("%w: %p is not the start of a slot", ErrInvalidReference, p)
		}
		id := int32(off / a.stride)
		return &a.slots[id], id, nil
	}
	if m, ok := a.fallback[p]; ok {
		return m, -1, nil
	}
	return nil, 0, fmt.Errorf("%w: %p was not allocated here", ErrInvalidReference, p)
}

// guardRegion returns the bytes of slot id after its first n elements, guard
// elements included.
func (a *Allocator[T]) guardRegion(id int32, n int) []byte {
	start := unsafe.Pointer(&a.pool[int(id)*a.slotElems+n])
	return unsafe.Slice((*byte)(start), uintptr(a.slotElems-n)*a.elemSize)
}

func fillGuard(region []byte, guard uint64) {
	for i := range region {
		region[i] = byte(guard >> (8 * (i % 8)))
	}
}

// checkGuard returns the offset of the first byte that no longer matches, or -1.
func checkGuard(region []byte, guard uint64) int {
	for i, b := range region {
		if b != byte(guard>>(8*(i%8))) {
			return i
		}
	}
	return -1
}

func (a *Allocator[T]) canary(id int32, gen uint32) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], a.seed)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(id))
	binary.LittleEndian.PutUint32(buf[12:16], gen)
	return xxhash.Sum64(buf[:])
}

func (a *Allocator[T]) recordStack(m *slotMeta) {
	if a.config.enableDebug {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		m.stack = string(buf[:n])
	}
}

func (a *Allocator[T]) recordAllocation(isArray bool) {
	a.allocations++
	if isArray {
		a.arrayAllocations++
	}
}

// hasPointers reports whether values of t contain Go pointers.
func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return false
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		return true
	}
}
