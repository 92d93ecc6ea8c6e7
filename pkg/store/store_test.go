package store

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"go-dbms/config"
)

func openTestTree(t *testing.T) *Tree {
	t.Helper()
	dir := t.TempDir()
	opts := config.DefaultOptions()
	opts.ChunkCacheEntries = 4
	opts.IndexCacheNodes = 32
	opts.DataCachePages = 32

	tree, err := Open(
		filepath.Join(dir, "chaos.db"),
		filepath.Join(dir, "chaos.data"),
		opts,
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tree.Close() })
	return tree
}

// S1: smoke -- open an empty store, put a handful of keys, get them back.
func TestSmokePutGet(t *testing.T) {
	tree := openTestTree(t)

	ok, err := tree.Put([]byte("alpha"), []byte("1"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tree.Put([]byte("bravo"), []byte("2"))
	require.NoError(t, err)
	require.True(t, ok)

	val, found, err := tree.Get([]byte("alpha"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("1"), val)

	val, found, err = tree.Get([]byte("bravo"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("2"), val)

	_, found, err = tree.Get([]byte("charlie"))
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, tree.Validate())
}

// S2: insertion-order independence -- the same key set, inserted in two
// different orders, must produce equal Get results and equal Count().
func TestInsertionOrderIndependence(t *testing.T) {
	keys := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		keys = append(keys, fmt.Sprintf("key-%04d", i))
	}

	ascending := openTestTree(t)
	for _, k := range keys {
		ok, err := ascending.Put([]byte(k), []byte(k+"-val"))
		require.NoError(t, err)
		require.True(t, ok)
	}

	shuffled := append([]string(nil), keys...)
	rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	descending := openTestTree(t)
	for _, k := range shuffled {
		ok, err := descending.Put([]byte(k), []byte(k+"-val"))
		require.NoError(t, err)
		require.True(t, ok)
	}

	require.NoError(t, ascending.Validate())
	require.NoError(t, descending.Validate())
	require.Equal(t, ascending.Items(), descending.Items())

	for _, k := range keys {
		v1, found1, err := ascending.Get([]byte(k))
		require.NoError(t, err)
		v2, found2, err := descending.Get([]byte(k))
		require.NoError(t, err)
		require.Equal(t, found1, found2)
		require.Equal(t, v1, v2)
	}
}

// S3: many keys, forcing repeated leaf/internal splits, with periodic
// flush + validate + spot-check reads along the way.
func TestManyKeysSplitAndFlush(t *testing.T) {
	tree := openTestTree(t)
	const n = 4000

	for i := 0; i < n; i++ {
		k := fmt.Sprintf("k-%06d", i)
		ok, err := tree.Put([]byte(k), []byte(fmt.Sprintf("v-%d", i)))
		require.NoError(t, err)
		require.True(t, ok)

		if i%500 == 499 {
			require.NoError(t, tree.Flush())
			require.NoError(t, tree.Validate())

			spot := fmt.Sprintf("k-%06d", i/2)
			val, found, err := tree.Get([]byte(spot))
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, []byte(fmt.Sprintf("v-%d", i/2)), val)
		}
	}

	require.Equal(t, uint64(n), tree.Items())
	count, err := tree.Count()
	require.NoError(t, err)
	require.Equal(t, uint64(n), count)
	require.NoError(t, tree.Validate())
}

// S4: delete every key back out, forcing repeated leaf/internal borrows and
// merges, checking structural consistency throughout.
func TestManyKeysDeleteAndMerge(t *testing.T) {
	tree := openTestTree(t)
	const n = 3000

	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("k-%06d", i)
		keys = append(keys, k)
		ok, err := tree.Put([]byte(k), []byte("v"))
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, tree.Validate())

	rand.New(rand.NewSource(2)).Shuffle(len(keys), func(i, j int) {
		keys[i], keys[j] = keys[j], keys[i]
	})

	for i, k := range keys {
		require.NoError(t, tree.Del([]byte(k)))

		if i%400 == 399 {
			require.NoError(t, tree.Validate())
		}
	}

	require.Equal(t, uint64(0), tree.Items())
	count, err := tree.Count()
	require.NoError(t, err)
	require.Equal(t, uint64(0), count)
	require.NoError(t, tree.Validate())

	for _, k := range keys {
		_, found, err := tree.Get([]byte(k))
		require.NoError(t, err)
		require.False(t, found)
	}
}

// S5: reversed range endpoints are normalized rather than treated as empty.
func TestRangeReversedEndpoints(t *testing.T) {
	tree := openTestTree(t)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		ok, err := tree.Put([]byte(k), []byte(k))
		require.NoError(t, err)
		require.True(t, ok)
	}

	forward, err := tree.Range([]byte("b"), []byte("d"))
	require.NoError(t, err)
	backward, err := tree.Range([]byte("d"), []byte("b"))
	require.NoError(t, err)

	var fwdKeys, bwdKeys []string
	for forward.Valid() {
		k, err := forward.Key()
		require.NoError(t, err)
		fwdKeys = append(fwdKeys, string(k))
		require.NoError(t, forward.Next())
	}
	for backward.Valid() {
		k, err := backward.Key()
		require.NoError(t, err)
		bwdKeys = append(bwdKeys, string(k))
		require.NoError(t, backward.Next())
	}
	require.Equal(t, []string{"b", "c", "d"}, fwdKeys)
	require.Equal(t, fwdKeys, bwdKeys)
}

// S5b: a range whose endpoints both fall in the gap between two leaves,
// with neither key present, yields an empty iterator rather than walking
// off into the rest of the tree.
func TestRangeGapBetweenLeavesIsEmpty(t *testing.T) {
	tree := openTestTree(t)
	const n = 4000
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("k-%06d", i)
		ok, err := tree.Put([]byte(k), []byte("v"))
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, tree.Validate())

	// Ascending inserts always split a full 253-entry leaf at mid=126, so
	// the first leaf boundary falls between "k-000125" and "k-000126".
	// "k-000125a" and "k-000125b" both sort strictly between them and are
	// absent from the tree.
	it, err := tree.Range([]byte("k-000125a"), []byte("k-000125b"))
	require.NoError(t, err)
	require.False(t, it.Valid())
}

// S6: a duplicate Put is rejected, not silently overwritten.
func TestDuplicatePutRejected(t *testing.T) {
	tree := openTestTree(t)

	ok, err := tree.Put([]byte("key"), []byte("first"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tree.Put([]byte("key"), []byte("second"))
	require.NoError(t, err)
	require.False(t, ok)

	val, found, err := tree.Get([]byte("key"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("first"), val)
}

// S7: the documented endpoint-inclusivity quirk -- an absent upper bound
// falls back to the nearest key strictly below it, while a present upper
// bound is included.
func TestRangeEndpointQuirk(t *testing.T) {
	tree := openTestTree(t)
	for _, k := range []string{"10", "20", "30", "40"} {
		ok, err := tree.Put([]byte(k), []byte(k))
		require.NoError(t, err)
		require.True(t, ok)
	}

	// "25" is absent: the range must stop at "20", the last key below it.
	it, err := tree.Range([]byte("10"), []byte("25"))
	require.NoError(t, err)
	var got []string
	for it.Valid() {
		k, err := it.Key()
		require.NoError(t, err)
		got = append(got, string(k))
		require.NoError(t, it.Next())
	}
	require.Equal(t, []string{"10", "20"}, got)

	// "30" is present: the range includes it.
	it, err = tree.Range([]byte("10"), []byte("30"))
	require.NoError(t, err)
	got = nil
	for it.Valid() {
		k, err := it.Key()
		require.NoError(t, err)
		got = append(got, string(k))
		require.NoError(t, it.Next())
	}
	require.Equal(t, []string{"10", "20", "30"}, got)
}

func TestPrevWalksBackward(t *testing.T) {
	tree := openTestTree(t)
	for _, k := range []string{"a", "b", "c", "d"} {
		ok, err := tree.Put([]byte(k), []byte(k))
		require.NoError(t, err)
		require.True(t, ok)
	}

	it, err := tree.Range([]byte("a"), []byte("d"))
	require.NoError(t, err)
	for it.Valid() {
		require.NoError(t, it.Next())
	}
	// it is now exhausted forward; re-open and walk backward instead.
	it, err = tree.Range([]byte("a"), []byte("d"))
	require.NoError(t, err)
	require.NoError(t, it.Next())
	require.NoError(t, it.Next())
	require.NoError(t, it.Next()) // now on "d"
	k, err := it.Key()
	require.NoError(t, err)
	require.Equal(t, "d", string(k))

	require.NoError(t, it.Prev())
	k, err = it.Key()
	require.NoError(t, err)
	require.Equal(t, "c", string(k))
}

func TestValueTooLargeRejected(t *testing.T) {
	tree := openTestTree(t)
	huge := make([]byte, MaxValueSize+1)
	_, err := tree.Put([]byte("k"), huge)
	require.ErrorIs(t, err, ErrValueTooLarge)
}

func TestEmptyKeyAndValueRejected(t *testing.T) {
	tree := openTestTree(t)
	_, err := tree.Put(nil, []byte("v"))
	require.ErrorIs(t, err, ErrEmptyKey)

	_, err = tree.Put([]byte("k"), nil)
	require.ErrorIs(t, err, ErrEmptyValue)
}

func TestDeleteAbsentKeyIsNoop(t *testing.T) {
	tree := openTestTree(t)
	require.NoError(t, tree.Del([]byte("nope")))
}

func TestReopenPreservesData(t *testing.T) {
	dir := t.TempDir()
	opts := config.DefaultOptions()
	idxPath := filepath.Join(dir, "chaos.db")
	dataPath := filepath.Join(dir, "chaos.data")

	tree, err := Open(idxPath, dataPath, opts)
	require.NoError(t, err)
	ok, err := tree.Put([]byte("persisted"), []byte("value"))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tree.Flush())
	require.NoError(t, tree.Close())

	reopened, err := Open(idxPath, dataPath, opts)
	require.NoError(t, err)
	defer reopened.Close()

	val, found, err := reopened.Get([]byte("persisted"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("value"), val)
}

func TestOpenRefusesHalfMissingPair(t *testing.T) {
	dir := t.TempDir()
	idxPath := filepath.Join(dir, "chaos.db")
	dataPath := filepath.Join(dir, "chaos.data")

	tree, err := Open(idxPath, dataPath, config.DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, tree.Close())

	require.NoError(t, os.Remove(dataPath))

	_, err = Open(idxPath, dataPath, config.DefaultOptions())
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestClosedTreeRejectsOperations(t *testing.T) {
	tree := openTestTree(t)
	require.NoError(t, tree.Close())

	_, err := tree.Put([]byte("k"), []byte("v"))
	require.ErrorIs(t, err, ErrClosed)

	_, _, err = tree.Get([]byte("k"))
	require.ErrorIs(t, err, ErrClosed)

	err = tree.Del([]byte("k"))
	require.ErrorIs(t, err, ErrClosed)

	_, err = tree.Range([]byte("a"), []byte("z"))
	require.ErrorIs(t, err, ErrClosed)
}
