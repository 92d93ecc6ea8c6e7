package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go-dbms/pkg/fptr"
)

func newTestNode() *node {
	dirty := false
	return newNode(make([]byte, IndexPageSize), &dirty)
}

func TestNodeResetAndHeaderFields(t *testing.T) {
	n := newTestNode()
	self := fptr.Encode(IndexPageSize, 3, 7)
	n.reset(typeLeaf, self)

	require.True(t, n.IsLeaf())
	require.Equal(t, self, n.Self())
	require.True(t, n.Parent().IsNull())
	require.True(t, n.Prev().IsNull())
	require.True(t, n.Next().IsNull())
	require.Equal(t, 0, n.Count())

	n.SetType(typeIntl)
	require.False(t, n.IsLeaf())
}

func TestNodeKVAccessorsRoundTrip(t *testing.T) {
	n := newTestNode()
	n.reset(typeLeaf, fptr.Null)
	n.SetCount(3)

	keys := []fptr.Ptr{
		fptr.Encode(4, 0, 10),
		fptr.Encode(5, 0, 20),
		fptr.Encode(6, 0, 30),
	}
	vals := []fptr.Ptr{
		fptr.Encode(1, 1, 100),
		fptr.Encode(2, 1, 200),
		fptr.Encode(3, 1, 300),
	}
	for i := range keys {
		n.SetKey(i, keys[i])
		n.SetVal(i, vals[i])
	}
	for i := range keys {
		require.Equal(t, keys[i], n.Key(i))
		require.Equal(t, vals[i], n.Val(i))
	}
}

func TestShiftKVRightMakesRoomAtIndex(t *testing.T) {
	n := newTestNode()
	n.reset(typeLeaf, fptr.Null)
	n.SetCount(3)
	for i := 0; i < 3; i++ {
		n.SetKey(i, fptr.Encode(uint32(i+1), 0, uint32(i)))
		n.SetVal(i, fptr.Encode(uint32(i+1), 1, uint32(i)))
	}

	n.shiftKVRight(1)
	n.SetKey(1, fptr.Encode(9, 0, 99))
	n.SetVal(1, fptr.Encode(9, 1, 99))
	n.SetCount(4)

	require.Equal(t, fptr.Encode(1, 0, 0), n.Key(0))
	require.Equal(t, fptr.Encode(9, 0, 99), n.Key(1))
	require.Equal(t, fptr.Encode(2, 0, 1), n.Key(2))
	require.Equal(t, fptr.Encode(3, 0, 2), n.Key(3))
}

func TestShiftKVLeftRemovesIndex(t *testing.T) {
	n := newTestNode()
	n.reset(typeLeaf, fptr.Null)
	n.SetCount(4)
	for i := 0; i < 4; i++ {
		n.SetKey(i, fptr.Encode(uint32(i+1), 0, uint32(i)))
		n.SetVal(i, fptr.Encode(uint32(i+1), 1, uint32(i)))
	}

	n.shiftKVLeft(1)
	n.SetCount(3)

	require.Equal(t, fptr.Encode(1, 0, 0), n.Key(0))
	require.Equal(t, fptr.Encode(3, 0, 2), n.Key(1))
	require.Equal(t, fptr.Encode(4, 0, 3), n.Key(2))
}

func TestShiftKCMirrorsShiftKV(t *testing.T) {
	n := newTestNode()
	n.reset(typeIntl, fptr.Null)
	n.SetCount(3)
	n.SetVal(0, fptr.Encode(0, 2, 1))
	n.SetKey(1, fptr.Encode(4, 0, 10))
	n.SetVal(1, fptr.Encode(0, 2, 2))
	n.SetKey(2, fptr.Encode(5, 0, 20))
	n.SetVal(2, fptr.Encode(0, 2, 3))

	n.shiftKCRight(1)
	n.SetKey(1, fptr.Encode(9, 0, 90))
	n.SetVal(1, fptr.Encode(0, 2, 9))
	n.SetCount(4)

	require.Equal(t, fptr.Encode(0, 2, 1), n.Child(0))
	require.Equal(t, fptr.Encode(9, 0, 90), n.Key(1))
	require.Equal(t, fptr.Encode(0, 2, 9), n.Child(1))
	require.Equal(t, fptr.Encode(4, 0, 10), n.Key(2))
	require.Equal(t, fptr.Encode(0, 2, 2), n.Child(2))
	require.Equal(t, fptr.Encode(5, 0, 20), n.Key(3))
	require.Equal(t, fptr.Encode(0, 2, 3), n.Child(3))
}

func TestMarkDirtySetsSharedFlag(t *testing.T) {
	dirty := false
	n := newNode(make([]byte, IndexPageSize), &dirty)
	n.MarkDirty()
	require.True(t, dirty)
}

func TestMarkDirtyOnDetachedViewIsNoop(t *testing.T) {
	n := newNode(make([]byte, IndexPageSize), nil)
	require.NotPanics(t, func() { n.MarkDirty() })
}
