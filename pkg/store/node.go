package store

import (
	"encoding/binary"

	"go-dbms/pkg/fptr"
)

// nodeType tags whether a page's suffix array is a kv (leaf) or kc
// (internal) array. Both share the same nodeHeaderSize-byte prefix, so a
// reader must always decode the header before deciding which suffix view
// applies.
type nodeType uint32

const (
	typeLeaf nodeType = 1
	typeIntl nodeType = 2
)

// node is a decoded view over one raw index page's bytes. It never copies
// the backing array: reads and writes go straight through to the mmap'd
// region, and the caller is responsible for marking the owning cache page
// dirty after a mutation.
type node struct {
	buf   []byte // exactly IndexPageSize bytes
	dirty *bool  // shared with the owning cache item; nil for detached views
}

func newNode(buf []byte, dirty *bool) *node { return &node{buf: buf, dirty: dirty} }

// MarkDirty flags the underlying page for a write-back on the next sync.
func (n *node) MarkDirty() {
	if n.dirty != nil {
		*n.dirty = true
	}
}

func (n *node) Type() nodeType   { return nodeType(binary.NativeEndian.Uint32(n.buf[0:4])) }
func (n *node) SetType(t nodeType) { binary.NativeEndian.PutUint32(n.buf[0:4], uint32(t)) }

func (n *node) Count() int      { return int(int32(binary.NativeEndian.Uint32(n.buf[4:8]))) }
func (n *node) SetCount(c int)  { binary.NativeEndian.PutUint32(n.buf[4:8], uint32(int32(c))) }

func (n *node) Self() fptr.Ptr     { return fptr.Ptr(binary.NativeEndian.Uint64(n.buf[8:16])) }
func (n *node) SetSelf(p fptr.Ptr) { binary.NativeEndian.PutUint64(n.buf[8:16], uint64(p)) }

func (n *node) Parent() fptr.Ptr     { return fptr.Ptr(binary.NativeEndian.Uint64(n.buf[16:24])) }
func (n *node) SetParent(p fptr.Ptr) { binary.NativeEndian.PutUint64(n.buf[16:24], uint64(p)) }

func (n *node) Prev() fptr.Ptr     { return fptr.Ptr(binary.NativeEndian.Uint64(n.buf[24:32])) }
func (n *node) SetPrev(p fptr.Ptr) { binary.NativeEndian.PutUint64(n.buf[24:32], uint64(p)) }

func (n *node) Next() fptr.Ptr     { return fptr.Ptr(binary.NativeEndian.Uint64(n.buf[32:40])) }
func (n *node) SetNext(p fptr.Ptr) { binary.NativeEndian.PutUint64(n.buf[32:40], uint64(p)) }

func (n *node) IsLeaf() bool { return n.Type() == typeLeaf }

func kvOffset(i int) int { return nodeHeaderSize + i*kvSize }

// Key returns the i'th separator (internal) or key (leaf) pointer.
func (n *node) Key(i int) fptr.Ptr {
	off := kvOffset(i)
	return fptr.Ptr(binary.NativeEndian.Uint64(n.buf[off : off+8]))
}

func (n *node) SetKey(i int, p fptr.Ptr) {
	off := kvOffset(i)
	binary.NativeEndian.PutUint64(n.buf[off:off+8], uint64(p))
}

// Val returns the i'th value pointer of a leaf's kv array.
func (n *node) Val(i int) fptr.Ptr {
	off := kvOffset(i) + 8
	return fptr.Ptr(binary.NativeEndian.Uint64(n.buf[off : off+8]))
}

func (n *node) SetVal(i int, p fptr.Ptr) {
	off := kvOffset(i) + 8
	binary.NativeEndian.PutUint64(n.buf[off:off+8], uint64(p))
}

// Child returns the i'th child pointer of an internal node's kc array.
// An internal node's Count() is its number of children, stored at
// indices [0, Count()); Key(i) is the separator to the *left* of Child(i)
// for i in [1, Count()), and Key(0) is unused.
func (n *node) Child(i int) fptr.Ptr { return n.Val(i) }

func (n *node) SetChild(i int, p fptr.Ptr) { n.SetVal(i, p) }

// reset zeroes a freshly allocated page's header and marks it with the
// given type and self pointer.
func (n *node) reset(t nodeType, self fptr.Ptr) {
	for i := range n.buf {
		n.buf[i] = 0
	}
	n.SetType(t)
	n.SetSelf(self)
	n.SetParent(fptr.Null)
	n.SetPrev(fptr.Null)
	n.SetNext(fptr.Null)
}

// shiftKVRight moves entries [from, Count()) one slot to the right,
// making room for an insertion at from. Used only on leaves.
func (n *node) shiftKVRight(from int) {
	count := n.Count()
	for i := count; i > from; i-- {
		n.SetKey(i, n.Key(i-1))
		n.SetVal(i, n.Val(i-1))
	}
}

// shiftKVLeft removes the entry at from by shifting everything after it
// one slot to the left. Used only on leaves.
func (n *node) shiftKVLeft(from int) {
	count := n.Count()
	for i := from; i < count-1; i++ {
		n.SetKey(i, n.Key(i+1))
		n.SetVal(i, n.Val(i+1))
	}
}

// An internal node's kc slot i pairs a child pointer (Val/Child) with the
// separator (Key) that precedes it; kc[0].key is unused since child 0 has
// no left separator. A whole slot moves as a unit, so shiftKVRight and
// shiftKVLeft serve both leaf kv arrays and internal kc arrays.
func (n *node) shiftKCRight(from int) { n.shiftKVRight(from) }
func (n *node) shiftKCLeft(from int)  { n.shiftKVLeft(from) }
