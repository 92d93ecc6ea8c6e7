package pagecache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeItem struct {
	id       uint64
	syncs    *[]uint64
	unmapped *[]uint64
}

func (f fakeItem) ID() uint64 { return f.id }

func (f fakeItem) Sync(unmap bool) error {
	*f.syncs = append(*f.syncs, f.id)
	if unmap {
		*f.unmapped = append(*f.unmapped, f.id)
	}
	return nil
}

func newFake(id uint64, syncs, unmapped *[]uint64) fakeItem {
	return fakeItem{id: id, syncs: syncs, unmapped: unmapped}
}

func TestPutGetPromotesToMRU(t *testing.T) {
	var syncs, unmapped []uint64
	c := New[fakeItem](2)

	require.NoError(t, c.Put(newFake(1, &syncs, &unmapped)))
	require.NoError(t, c.Put(newFake(2, &syncs, &unmapped)))

	item, ok := c.Get(1)
	require.True(t, ok)
	require.Equal(t, uint64(1), item.ID())

	// 1 is now MRU; adding a third entry should evict 2, not 1.
	require.NoError(t, c.Put(newFake(3, &syncs, &unmapped)))

	_, ok = c.Get(2)
	require.False(t, ok)
	require.Equal(t, []uint64{2}, unmapped)

	_, ok = c.Get(1)
	require.True(t, ok)
	_, ok = c.Get(3)
	require.True(t, ok)
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := New[fakeItem](4)
	_, ok := c.Get(99)
	require.False(t, ok)
}

func TestEvictOldestOnOverflow(t *testing.T) {
	var syncs, unmapped []uint64
	c := New[fakeItem](1)

	require.NoError(t, c.Put(newFake(1, &syncs, &unmapped)))
	require.NoError(t, c.Put(newFake(2, &syncs, &unmapped)))

	require.Equal(t, 1, c.Len())
	require.Equal(t, []uint64{1}, unmapped)

	_, ok := c.Get(2)
	require.True(t, ok)
}

func TestSyncDoesNotEvict(t *testing.T) {
	var syncs, unmapped []uint64
	c := New[fakeItem](4)

	require.NoError(t, c.Put(newFake(1, &syncs, &unmapped)))
	require.NoError(t, c.Put(newFake(2, &syncs, &unmapped)))

	require.NoError(t, c.Sync())

	require.Equal(t, 2, c.Len())
	require.ElementsMatch(t, []uint64{1, 2}, syncs)
	require.Empty(t, unmapped)
}

func TestClearEvictsEverything(t *testing.T) {
	var syncs, unmapped []uint64
	c := New[fakeItem](4)

	require.NoError(t, c.Put(newFake(1, &syncs, &unmapped)))
	require.NoError(t, c.Put(newFake(2, &syncs, &unmapped)))
	require.NoError(t, c.Put(newFake(3, &syncs, &unmapped)))

	require.NoError(t, c.Clear())

	require.Equal(t, 0, c.Len())
	require.ElementsMatch(t, []uint64{1, 2, 3}, unmapped)
}

func TestEvictSpecificID(t *testing.T) {
	var syncs, unmapped []uint64
	c := New[fakeItem](4)

	require.NoError(t, c.Put(newFake(1, &syncs, &unmapped)))
	require.NoError(t, c.Put(newFake(2, &syncs, &unmapped)))

	require.NoError(t, c.Evict(1))
	require.Equal(t, 1, c.Len())
	require.Equal(t, []uint64{1}, unmapped)

	// evicting an absent id is a no-op, not an error.
	require.NoError(t, c.Evict(1))
}

func TestPutDuplicateIDPanics(t *testing.T) {
	var syncs, unmapped []uint64
	c := New[fakeItem](4)
	require.NoError(t, c.Put(newFake(1, &syncs, &unmapped)))

	require.Panics(t, func() {
		_ = c.Put(newFake(1, &syncs, &unmapped))
	})
}
