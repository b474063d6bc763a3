package gcptr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xDarkicex/gcptr"
)

var errInjected = errors.New("injected delete failure")

// call records one deallocation seen by recordingAllocator.
type call struct {
	Array  bool
	Length int
	Addr   *int
}

// recordingAllocator is a heap allocator that remembers every deallocation
// and can be told to fail them.
type recordingAllocator struct {
	gcptr.Heap[int]
	deletes []call
	fail    bool
}

func (a *recordingAllocator) Delete(p *int) error {
	a.deletes = append(a.deletes, call{Array: false, Length: 1, Addr: p})
	if a.fail {
		return errInjected
	}
	return a.Heap.Delete(p)
}

func (a *recordingAllocator) DeleteArray(p *int, n int) error {
	a.deletes = append(a.deletes, call{Array: true, Length: n, Addr: p})
	if a.fail {
		return errInjected
	}
	return a.Heap.DeleteArray(p, n)
}

// lookupModes runs a test against the linear-scan and the indexed registry.
var lookupModes = []struct {
	name string
	opts []gcptr.Option
}{
	{name: "linear", opts: nil},
	{name: "indexed", opts: []gcptr.Option{gcptr.WithIndex()}},
}

func newIntRegistry(t testing.TB, size int, opts ...gcptr.Option) *gcptr.Registry[int] {
	t.Helper()
	reg, err := gcptr.RegistryOf[int](gcptr.NewSpace(), size, opts...)
	require.NoError(t, err)
	return reg
}

func requireRefcount(t *testing.T, reg *gcptr.Registry[int], p *int, want int) {
	t.Helper()
	got, ok := reg.Refcount(p)
	require.True(t, ok, "address %p should be tracked", p)
	require.Equal(t, want, got, "refcount of %p", p)
}
