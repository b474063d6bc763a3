package gcptr_test

import (
	"math/rand"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xDarkicex/gcptr"
)

// TestScenarioCopyAndRelease walks one scalar through copy and release.
func TestScenarioCopyAndRelease(t *testing.T) {
	for _, mode := range lookupModes {
		t.Run(mode.name, func(t *testing.T) {
			reg := newIntRegistry(t, 0, mode.opts...)

			h1, err := reg.NewValue(7)
			require.NoError(t, err)
			p := h1.Addr()
			requireRefcount(t, reg, p, 1)
			require.Equal(t, 1, reg.Len())

			h2 := h1.Clone()
			requireRefcount(t, reg, p, 2)
			require.Equal(t, 1, reg.Len())
			assert.Equal(t, 7, h2.Value())

			require.NoError(t, h2.Release())
			requireRefcount(t, reg, p, 1)
			require.Equal(t, 1, reg.Len())

			require.NoError(t, h1.Release())
			_, ok := reg.Refcount(p)
			assert.False(t, ok)
			assert.Equal(t, 0, reg.Len())
			assert.Equal(t, 0, *p, "reclaimed storage is zeroed")
		})
	}
}

func TestWrapSameAddressMergesRecords(t *testing.T) {
	for _, mode := range lookupModes {
		t.Run(mode.name, func(t *testing.T) {
			reg := newIntRegistry(t, 0, mode.opts...)
			p := new(int)

			h1 := reg.Wrap(p)
			h2 := reg.Wrap(p)

			require.Equal(t, 1, reg.Len())
			requireRefcount(t, reg, p, 2)

			require.NoError(t, h1.Release())
			require.NoError(t, h2.Release())
			assert.Equal(t, 0, reg.Len())
		})
	}
}

func TestConstructionNeverSweeps(t *testing.T) {
	alloc := &recordingAllocator{}
	reg := newIntRegistry(t, 0, gcptr.WithAllocator[int](alloc))

	h := reg.Wrap(new(int))
	require.NoError(t, h.Release())
	require.Len(t, alloc.deletes, 1)

	// Empty handles and a released clone leave a live target alone
	p := new(int)
	h = reg.Wrap(p)
	_ = reg.Empty()
	_ = reg.Wrap(nil)
	c := h.Clone()
	require.NoError(t, c.Release())
	require.Len(t, alloc.deletes, 1, "clone and release of a copy must not reclaim a live target")
	requireRefcount(t, reg, p, 1)

	sweeps := reg.Stats().Sweeps
	_ = reg.Wrap(p)
	_ = h.Clone()
	assert.Equal(t, sweeps, reg.Stats().Sweeps, "construction must not sweep")
}

func TestReleaseEmptyHandleOnlySweeps(t *testing.T) {
	reg := newIntRegistry(t, 0)
	h := reg.Empty()
	assert.True(t, h.IsNil())
	assert.Nil(t, h.Deref())
	assert.Equal(t, 0, h.Len())

	before := reg.Stats().Sweeps
	require.NoError(t, h.Release())
	assert.Equal(t, before+1, reg.Stats().Sweeps)
	assert.Equal(t, 0, reg.Len())
}

func TestReleaseTwiceDoesNotDoubleDecrement(t *testing.T) {
	reg := newIntRegistry(t, 0)
	h1, err := reg.NewValue(1)
	require.NoError(t, err)
	h2 := h1.Clone()
	p := h1.Addr()

	require.NoError(t, h2.Release())
	require.NoError(t, h2.Release())
	requireRefcount(t, reg, p, 1)
	require.NoError(t, h1.Release())
	assert.Equal(t, 0, reg.Len())
}

func TestSetRetargets(t *testing.T) {
	for _, mode := range lookupModes {
		t.Run(mode.name, func(t *testing.T) {
			alloc := &recordingAllocator{}
			opts := append([]gcptr.Option{gcptr.WithAllocator[int](alloc)}, mode.opts...)
			reg := newIntRegistry(t, 0, opts...)

			h, err := reg.NewValue(1)
			require.NoError(t, err)
			old := h.Addr()
			next := new(int)
			*next = 2

			require.NoError(t, h.Set(next))
			assert.Equal(t, next, h.Addr())
			assert.Equal(t, 2, h.Value())
			require.Equal(t, 1, reg.Len(), "old target reclaimed before Set returns")
			requireRefcount(t, reg, next, 1)
			require.Len(t, alloc.deletes, 1)
			assert.Equal(t, old, alloc.deletes[0].Addr)

			// Retarget at an address another handle already holds
			other := reg.Wrap(next)
			requireRefcount(t, reg, next, 2)
			require.NoError(t, h.Set(nil))
			requireRefcount(t, reg, next, 1)
			assert.True(t, h.IsNil())

			require.NoError(t, other.Release())
			assert.Equal(t, 0, reg.Len())
		})
	}
}

func TestSetSameAddressKeepsRecord(t *testing.T) {
	reg := newIntRegistry(t, 0)
	h, err := reg.NewValue(3)
	require.NoError(t, err)
	p := h.Addr()

	require.NoError(t, h.Set(p))
	requireRefcount(t, reg, p, 1)
	assert.Equal(t, 3, h.Value())
}

func TestAssign(t *testing.T) {
	for _, mode := range lookupModes {
		t.Run(mode.name, func(t *testing.T) {
			reg := newIntRegistry(t, 0, mode.opts...)

			a, err := reg.NewValue(1)
			require.NoError(t, err)
			b, err := reg.NewValue(2)
			require.NoError(t, err)
			pb := b.Addr()

			require.NoError(t, a.Assign(b))
			assert.Equal(t, pb, a.Addr())
			assert.Equal(t, 2, a.Value())
			require.Equal(t, 1, reg.Len(), "a's old target reclaimed")
			requireRefcount(t, reg, pb, 2)

			require.NoError(t, b.Release())
			requireRefcount(t, reg, pb, 1)
			require.NoError(t, a.Release())
			assert.Equal(t, 0, reg.Len())
		})
	}
}

func TestAssignFromEmptyHandle(t *testing.T) {
	reg := newIntRegistry(t, 0)
	a, err := reg.NewValue(1)
	require.NoError(t, err)
	empty := reg.Empty()

	require.NoError(t, a.Assign(empty))
	assert.True(t, a.IsNil())
	assert.Equal(t, 0, reg.Len())
}

func TestSelfAssignIsNoop(t *testing.T) {
	reg := newIntRegistry(t, 3)
	h, err := reg.NewValue(9)
	require.NoError(t, err)
	p := h.Addr()
	sweeps := reg.Stats().Sweeps

	require.NoError(t, h.Assign(h))

	requireRefcount(t, reg, p, 1)
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, p, h.Addr())
	assert.True(t, h.IsArray())
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, sweeps, reg.Stats().Sweeps)
}

func TestAssignAcrossRegistriesRejected(t *testing.T) {
	space := gcptr.NewSpace()
	scalars := gcptr.MustRegistryOf[int](space, 0)
	arrays := gcptr.MustRegistryOf[int](space, 2)

	s, err := scalars.NewValue(1)
	require.NoError(t, err)
	a, err := arrays.New()
	require.NoError(t, err)

	err = s.Assign(a)
	require.ErrorIs(t, err, gcptr.ErrRegistryMismatch)
	assert.Equal(t, 1, s.Value())
	assert.Equal(t, 1, scalars.Len())
	assert.Equal(t, 1, arrays.Len())
}

func TestArrayHandle(t *testing.T) {
	alloc := &recordingAllocator{}
	reg := newIntRegistry(t, 4, gcptr.WithAllocator[int](alloc))

	h, err := reg.New()
	require.NoError(t, err)
	assert.True(t, h.IsArray())
	assert.Equal(t, 4, h.Len())
	require.Len(t, h.Slice(), 4)

	for i := range h.Len() {
		*h.At(i) = i * 10
	}
	assert.Equal(t, []int{0, 10, 20, 30}, h.Slice())
	assert.Equal(t, h.Addr(), h.At(0))
	assert.Panics(t, func() { _ = h.At(4) })

	p := h.Addr()
	require.NoError(t, h.Release())
	require.Len(t, alloc.deletes, 1)
	assert.Equal(t, call{Array: true, Length: 4, Addr: p}, alloc.deletes[0])
	assert.Equal(t, []int{0, 0, 0, 0}, unsafe.Slice(p, 4), "array reclaimed as a whole")
}

func TestCloneOfUntrackedAddressDoesNotTrack(t *testing.T) {
	space := gcptr.NewSpace()
	reg := gcptr.MustRegistryOf[int](space, 0)

	h := reg.Wrap(new(int))
	require.NoError(t, gcptr.MustRegistryOf[int](space, 0).Shutdown())
	require.Equal(t, 0, reg.Len())

	// h still holds the address, but nothing tracks it any more
	c := h.Clone()
	assert.Equal(t, 0, reg.Len())
	require.NoError(t, c.Release())
	require.NoError(t, h.Release())
}

// TestRefcountMatchesLiveHandles drives random construct/clone/release
// sequences over one address and checks the recorded count after every step.
func TestRefcountMatchesLiveHandles(t *testing.T) {
	for _, mode := range lookupModes {
		t.Run(mode.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(1))
			for round := 0; round < 50; round++ {
				reg := newIntRegistry(t, 0, mode.opts...)
				p := new(int)
				live := []*gcptr.Handle[int]{reg.Wrap(p)}

				for step := 0; step < 40 && len(live) > 0; step++ {
					switch rng.Intn(3) {
					case 0:
						live = append(live, reg.Wrap(p))
					case 1:
						live = append(live, live[rng.Intn(len(live))].Clone())
					case 2:
						i := rng.Intn(len(live))
						require.NoError(t, live[i].Release())
						live = append(live[:i], live[i+1:]...)
					}
					if len(live) == 0 {
						require.Equal(t, 0, reg.Len())
						break
					}
					requireRefcount(t, reg, p, len(live))
				}
				for _, h := range live {
					require.NoError(t, h.Release())
				}
				require.Equal(t, 0, reg.Len())
			}
		})
	}
}

func TestNewPropagatesAllocationError(t *testing.T) {
	reg := newIntRegistry(t, 0, gcptr.WithAllocator[int](failingAllocator{}))
	h, err := reg.New()
	require.ErrorIs(t, err, errInjected)
	assert.Nil(t, h)
	assert.Equal(t, 0, reg.Len())
}

type failingAllocator struct{ gcptr.Heap[int] }

func (failingAllocator) New() (*int, error)         { return nil, errInjected }
func (failingAllocator) NewArray(int) (*int, error) { return nil, errInjected }
