package store

import (
	"bytes"

	"go-dbms/pkg/fptr"
)

// separatorSearch binary-searches an internal node's separators, stored
// at kc[1..count), for the first one >= target. Unlike descendChild it
// does not clamp the result to count-1: callers that need an insertion
// slot (rather than a child to descend into) want the unclamped value,
// which can legitimately equal count.
func (t *Tree) separatorSearch(n *node, target []byte) (int, error) {
	lo, hi := 1, n.Count()
	for lo < hi {
		mid := (lo + hi) / 2
		kb, err := ReadKey(t.data, n.Key(mid))
		if err != nil {
			return 0, err
		}
		if bytes.Compare(kb, target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// Put inserts key/val. It returns false (no error, no mutation) if key is
// already present -- duplicate keys are rejected outright, never
// overwritten.
func (t *Tree) Put(key, val []byte) (bool, error) {
	if t.closed {
		return false, ErrClosed
	}
	if err := validateKV(key, val); err != nil {
		return false, err
	}

	root := t.idx.Root()
	if root.IsNull() {
		return t.putFirst(key, val)
	}

	leaf, err := t.search(key)
	if err != nil {
		return false, err
	}

	found, pos, err := t.leafSearch(leaf, key)
	if err != nil {
		return false, err
	}
	if found {
		return false, nil
	}

	// Value is allocated before the key (open question #1): if the key
	// allocation subsequently fails, the value extent is freed rather
	// than left dangling.
	valPtr, err := WriteValue(t.data, val)
	if err != nil {
		return false, err
	}
	keyPtr, err := WriteKey(t.data, key)
	if err != nil {
		_ = t.data.FreeExtent(valPtr)
		return false, err
	}

	if leaf.Count() < Order {
		leaf.shiftKVRight(pos)
		leaf.SetKey(pos, keyPtr)
		leaf.SetVal(pos, valPtr)
		leaf.SetCount(leaf.Count() + 1)
		leaf.MarkDirty()
		t.idx.SetNrKV(t.idx.NrKV() + 1)
		return true, nil
	}

	if err := t.splitLeaf(leaf, pos, keyPtr, valPtr); err != nil {
		return false, err
	}
	t.idx.SetNrKV(t.idx.NrKV() + 1)
	return true, nil
}

func (t *Tree) putFirst(key, val []byte) (bool, error) {
	valPtr, err := WriteValue(t.data, val)
	if err != nil {
		return false, err
	}
	keyPtr, err := WriteKey(t.data, key)
	if err != nil {
		_ = t.data.FreeExtent(valPtr)
		return false, err
	}

	_, leaf, err := t.idx.AllocNode(typeLeaf)
	if err != nil {
		_ = t.data.FreeExtent(valPtr)
		_ = t.data.FreeExtent(keyPtr)
		return false, err
	}
	leaf.SetKey(0, keyPtr)
	leaf.SetVal(0, valPtr)
	leaf.SetCount(1)
	leaf.MarkDirty()

	t.idx.SetRoot(leaf.Self())
	t.idx.SetNrKV(1)
	return true, nil
}

// splitLeaf inserts (keyPtr, valPtr) at pos into leaf using its one
// physical slot of headroom (MaxEntries == Order+1), then redistributes
// the upper half into a new right sibling.
func (t *Tree) splitLeaf(left *node, pos int, keyPtr, valPtr fptr.Ptr) error {
	left.shiftKVRight(pos)
	left.SetKey(pos, keyPtr)
	left.SetVal(pos, valPtr)
	left.SetCount(left.Count() + 1)

	total := left.Count()
	mid := total / 2

	_, right, err := t.idx.AllocNode(typeLeaf)
	if err != nil {
		return err
	}

	rightCount := total - mid
	for i := 0; i < rightCount; i++ {
		right.SetKey(i, left.Key(mid+i))
		right.SetVal(i, left.Val(mid+i))
	}
	right.SetCount(rightCount)
	left.SetCount(mid)

	oldNext := left.Next()
	right.SetNext(oldNext)
	right.SetPrev(left.Self())
	left.SetNext(right.Self())
	if !oldNext.IsNull() {
		nextNode, err := t.idx.FetchNode(oldNext)
		if err != nil {
			return err
		}
		nextNode.SetPrev(right.Self())
		nextNode.MarkDirty()
	}

	right.SetParent(left.Parent())
	left.MarkDirty()
	right.MarkDirty()

	return t.insertFixup(left, right, right.Key(0))
}

// insertFixup wires a freshly split right sibling into the tree above
// left.
func (t *Tree) insertFixup(left, right *node, sepKeyPtr fptr.Ptr) error {
	if left.Parent().IsNull() {
		_, parent, err := t.idx.AllocNode(typeIntl)
		if err != nil {
			return err
		}
		parent.SetCount(2)
		parent.SetVal(0, left.Self())
		parent.SetKey(1, sepKeyPtr)
		parent.SetVal(1, right.Self())
		parent.MarkDirty()

		left.SetParent(parent.Self())
		right.SetParent(parent.Self())
		left.MarkDirty()
		right.MarkDirty()

		t.idx.SetRoot(parent.Self())
		return nil
	}

	right.SetParent(left.Parent())
	right.MarkDirty()

	parent, err := t.idx.FetchNode(left.Parent())
	if err != nil {
		return err
	}
	return t.intlPut(parent, right.Self(), sepKeyPtr)
}

// intlPut inserts a new (separator, child) pair into parent, splitting it
// first if it already holds Order children.
func (t *Tree) intlPut(parent *node, newChild fptr.Ptr, sepKeyPtr fptr.Ptr) error {
	sepKey, err := ReadKey(t.data, sepKeyPtr)
	if err != nil {
		return err
	}
	pos, err := t.separatorSearch(parent, sepKey)
	if err != nil {
		return err
	}

	if parent.Count() < Order {
		parent.shiftKCRight(pos)
		parent.SetKey(pos, sepKeyPtr)
		parent.SetVal(pos+1, newChild)
		parent.SetCount(parent.Count() + 1)
		parent.MarkDirty()
		return nil
	}

	return t.splitIntl(parent, pos, sepKeyPtr, newChild)
}

// splitIntl inserts (sepKeyPtr, newChild) at pos into parent using its
// one slot of headroom, then splits around mid = (count+1)/2, promoting
// Key(mid), the separator that preceded the right sibling's first child,
// upward.
func (t *Tree) splitIntl(left *node, pos int, sepKeyPtr fptr.Ptr, newChild fptr.Ptr) error {
	left.shiftKCRight(pos)
	left.SetKey(pos, sepKeyPtr)
	left.SetVal(pos+1, newChild)
	left.SetCount(left.Count() + 1)

	total := left.Count()
	mid := (total + 1) / 2

	_, right, err := t.idx.AllocNode(typeIntl)
	if err != nil {
		return err
	}

	rightCount := total - mid
	for i := 0; i < rightCount; i++ {
		right.SetKey(i, left.Key(mid+i))
		right.SetVal(i, left.Val(mid+i))

		childNode, err := t.idx.FetchNode(right.Val(i))
		if err != nil {
			return err
		}
		childNode.SetParent(right.Self())
		childNode.MarkDirty()
	}
	right.SetCount(rightCount)

	promoted := left.Key(mid)
	left.SetCount(mid)

	right.SetParent(left.Parent())
	left.MarkDirty()
	right.MarkDirty()

	return t.insertFixup(left, right, promoted)
}

// MaxValueSize leaves room for WriteValue's checksum prefix within the fat
// pointer's 24-bit length field.
const MaxValueSize = MaxKVSize - checksumSize

func validateKV(key, val []byte) error {
	switch {
	case len(key) == 0:
		return ErrEmptyKey
	case len(val) == 0:
		return ErrEmptyValue
	case len(key) > MaxKVSize:
		return ErrKeyTooLarge
	case len(val) > MaxValueSize:
		return ErrValueTooLarge
	}
	return nil
}
