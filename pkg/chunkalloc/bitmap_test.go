package chunkalloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestBitmap(totalBits, reserved uint32) *Bitmap {
	buf := make([]byte, (totalBits+7)/8)
	return NewBitmap(buf, reserved, totalBits)
}

func TestGetFindsFirstFreeRun(t *testing.T) {
	b := newTestBitmap(64, 8)

	p, ok := b.Get(4)
	require.True(t, ok)
	require.Equal(t, uint32(8), p)
}

func TestMaskUnmaskRoundTrip(t *testing.T) {
	b := newTestBitmap(64, 0)

	b.Mask(3, 5)
	for i := uint32(3); i < 8; i++ {
		require.True(t, b.Test(i))
	}
	require.False(t, b.Test(2))
	require.False(t, b.Test(8))

	b.Unmask(3, 5)
	for i := uint32(3); i < 8; i++ {
		require.False(t, b.Test(i))
	}
}

func TestGetSkipsAllocatedRuns(t *testing.T) {
	b := newTestBitmap(32, 0)
	b.Mask(0, 10)

	p, ok := b.Get(4)
	require.True(t, ok)
	require.Equal(t, uint32(10), p)
}

func TestGetWrapsWithoutCrossingChunkBoundary(t *testing.T) {
	// Fill everything except a 2-bit gap near the start and a lone free
	// bit at the very end; a run of 3 must not be satisfied by stitching
	// the tail's single free bit to the head's gap.
	b := newTestBitmap(16, 0)
	b.Mask(0, 16)
	b.Unmask(2, 2)  // free bits 2,3
	b.Unmask(15, 1) // free bit 15

	p, ok := b.Get(3)
	require.False(t, ok)

	p2, ok2 := b.Get(2)
	require.True(t, ok2)
	require.Equal(t, uint32(2), p2)
	_ = p
}

func TestGetAdvancesCursorAndWraps(t *testing.T) {
	b := newTestBitmap(8, 0)

	p1, ok := b.Get(1)
	require.True(t, ok)
	require.Equal(t, uint32(0), p1)
	b.Mask(p1, 1)

	p2, ok := b.Get(1)
	require.True(t, ok)
	require.Equal(t, uint32(1), p2)
	b.Mask(p2, 1)

	// consume the rest, forcing a wrap on the next call
	for i := uint32(2); i < 8; i++ {
		p, ok := b.Get(1)
		require.True(t, ok)
		b.Mask(p, 1)
	}
	b.Unmask(0, 1)

	p3, ok := b.Get(1)
	require.True(t, ok)
	require.Equal(t, uint32(0), p3)
}

func TestGetFailsWhenNoRunFits(t *testing.T) {
	b := newTestBitmap(8, 0)
	b.Mask(0, 8)

	_, ok := b.Get(1)
	require.False(t, ok)
}

func TestRoundRobinPicksFirstAdmitting(t *testing.T) {
	admitted := map[uint32]bool{0: false, 1: false, 2: true, 3: true}
	idx, ok := RoundRobin(4, 1, func(i uint32) bool { return admitted[i] })
	require.True(t, ok)
	require.Equal(t, uint32(2), idx)
}

func TestRoundRobinWrapsAroundOnce(t *testing.T) {
	idx, ok := RoundRobin(4, 3, func(i uint32) bool { return i == 1 })
	require.True(t, ok)
	require.Equal(t, uint32(1), idx)
}

func TestRoundRobinFailsWhenNoneAdmit(t *testing.T) {
	_, ok := RoundRobin(4, 0, func(uint32) bool { return false })
	require.False(t, ok)
}
