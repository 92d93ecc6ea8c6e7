// Package store implements the on-disk B+tree engine: index file and data
// file management, node page encoding, payload striping, and the tree
// operations (search, insert, delete, range, flush, validate). Node
// layout and the search/insert/split/delete/borrow/merge control flow
// follow pkg/bptree's shape, generalized to mmap'd storage; exact on-disk
// layout and algorithmic detail come from original_source/{meta_types.h,
// meta.h,bptree.h}.
package store

import "go-dbms/util/helpers"

// Fixed slot sizes. The index file addresses whole 4 KiB node pages; the
// data file addresses 64-byte payload slots striped across host pages.
const (
	IndexPageSize = 4096
	DataPageSize  = 64
	SysPageSize   = 4096

	// DataPerSysPage is how many 64-byte data pages make up one host
	// (mmap granularity) page, from original_source/meta.h's
	// data_per_sys_page.
	DataPerSysPage = SysPageSize / DataPageSize
)

// Magic numbers identify the two files. Read as ASCII, most significant
// byte first, they spell "CHAOS-DB" and "CHAOS-DA" respectively.
const (
	IndexMagic uint64 = 0x4348414F532D4442
	DataMagic  uint64 = 0x4348414F532D4441
)

// MaxKVSize is the largest single key or value payload, bounded by the fat
// pointer's 24-bit length field.
const MaxKVSize = (1 << 24) - 1

// nodeHeaderSize mirrors original_source/meta_types.h's node_t:
// {type uint32, count int32, self,parent,prev,next ptr_t, pad[8]byte}.
const nodeHeaderSize = 4 + 4 + 8*4 + 8 // 48

// kvSize is sizeof(kv_t)/sizeof(kc_t): two fat pointers.
const kvSize = 16

// Order is k_bpt_order: the number of entries (leaf: key/value pairs;
// internal: children) a node holds before the next insert into it must
// split it. Computed, not hardcoded,
// so it tracks nodeHeaderSize/kvSize the way meta_types.h derives it from
// sizeof(node_t)/sizeof(kv_t).
var Order = (IndexPageSize-nodeHeaderSize)/kvSize - 1

// MaxEntries is the physical capacity of a node's kv/kc array
// (k_bpt_order + 1 slots, one more than the order so a node can hold one
// extra entry transiently before a split).
var MaxEntries = Order + 1

// MinEntries is the half-full floor checked after a deletion: a non-root
// internal node left with MinEntries children or fewer, or a non-root leaf
// left with fewer than MinEntries entries, is fixed by a borrow or merge.
var MinEntries = helpers.CeilDiv(uint32(MaxEntries), 2)

const (
	// NrIndexChunks bounds the index file header's per-chunk usage
	// counter array (k_nr_index_chunk).
	NrIndexChunks = 1 << 10
	// NrDataChunks bounds the data file header's per-chunk usage counter
	// array (k_nr_data_chunk); it matches the fat pointer's 11-bit chunk
	// field ceiling.
	NrDataChunks = 1 << 11
)

// index header: magic(8) nrKV(8) fileSize(8) lastChunk(4) pad(4) root(8)
// chunk[NrIndexChunks](4 each)
const (
	idxHdrMagic     = 0
	idxHdrNrKV      = 8
	idxHdrFileSize  = 16
	idxHdrLastChunk = 24
	idxHdrRoot      = 32
	idxHdrChunks    = 40
	idxHdrRawSize   = idxHdrChunks + NrIndexChunks*4
)

// data header: magic(8) fileSize(8) lastChunk(8) chunk[NrDataChunks](4 each)
const (
	dataHdrMagic     = 0
	dataHdrFileSize  = 8
	dataHdrLastChunk = 16
	dataHdrChunks    = 24
	dataHdrRawSize   = dataHdrChunks + NrDataChunks*4
)

func roundUp(n, align uint64) uint64 {
	return helpers.CeilDiv(n, align) * align
}

// IndexHeaderSize and DataHeaderSize are the page-aligned sizes of each
// file's fixed header region (k_index_hdr_sz / k_data_hdr_sz).
var (
	IndexHeaderSize = roundUp(uint64(idxHdrRawSize), SysPageSize)
	DataHeaderSize  = roundUp(uint64(dataHdrRawSize), SysPageSize)
)
