// Package chunkalloc implements a two-tier chunk-bitmap allocator: a
// fixed-size chunk holds a page-aligned bitmap header followed by a
// contiguous array of page slots, and a file is a round-robin array of
// such chunks. It is grounded on original_source/meta_types.h (the
// chunk/page-size constants) and original_source/meta.h's Chunk class
// (the bitmap scan itself).
//
// This package is deliberately mmap-agnostic: Bitmap operates on a plain
// []byte view of a mapped region, and RoundRobin decides which chunk to
// try next given a capacity predicate. pkg/store wires both together with
// pkg/mmapfile and pkg/pagecache to get or fetch the backing bytes.
package chunkalloc

import "go-dbms/util/helpers"

// ChunkSize is the fixed size of one chunk: 2^29 bytes (512 MiB), from
// k_data_bits in original_source/meta_types.h.
const (
	DataBits  = 29
	ChunkBits = 11 // at most 2048 chunks per file, from k_chunk_bits

	ChunkSize = 1 << DataBits
	MaxChunks = 1 << ChunkBits

	SysPageSize = 4096 // assumed host page size, k_sys_page_sz
)

// Layout describes how one file's chunks are carved into a bitmap header
// region and page slots, for a given page slot size (4096 for the index
// file's node pages, 64 for the data file's payload slots).
type Layout struct {
	PageSize        uint32 // bytes per addressable slot
	PagesPerChunk   uint32 // ChunkSize / PageSize == total bitmap bits
	BitmapBytes     uint32 // PagesPerChunk / 8
	HeaderPages     uint32 // bitmap region rounded up to whole slots
	HeaderSize      uint32 // HeaderPages * PageSize, page-aligned
	UsablePages     uint32 // PagesPerChunk - HeaderPages, the real capacity
}

// NewLayout computes the chunk layout for slots of the given size.
// pageSize must divide SysPageSize or be a multiple of it (4096 and 64
// both qualify).
func NewLayout(pageSize uint32) Layout {
	pagesPerChunk := uint32(ChunkSize) / pageSize
	bitmapBytes := pagesPerChunk / 8
	headerPages := helpers.CeilDiv(bitmapBytes, pageSize)
	headerSize := headerPages * pageSize
	return Layout{
		PageSize:      pageSize,
		PagesPerChunk: pagesPerChunk,
		BitmapBytes:   bitmapBytes,
		HeaderPages:   headerPages,
		HeaderSize:    headerSize,
		UsablePages:   pagesPerChunk - headerPages,
	}
}

// IndexLayout is the chunk layout for the index file's fixed 4 KiB node
// pages.
var IndexLayout = NewLayout(SysPageSize)

// DataLayout is the chunk layout for the data file's fixed 64-byte payload
// slots.
var DataLayout = NewLayout(64)

// ChunkOffset returns the byte offset, within a file, of chunk id's start
// (its bitmap header), given a file header size.
func ChunkOffset(fileHeaderSize uint64, id uint32) uint64 {
	return fileHeaderSize + uint64(id)*ChunkSize
}
