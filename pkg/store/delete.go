package store

import "go-dbms/pkg/fptr"

type siblingSide int

const (
	sideLeft siblingSide = iota
	sideRight
)

// childIndexInParent scans parent's children for self, by identity rather
// than by re-deriving a key comparison, since fat pointers compare for
// free.
func childIndexInParent(parent *node, self fptr.Ptr) int {
	for i := 0; i < parent.Count(); i++ {
		if parent.Child(i) == self {
			return i
		}
	}
	return -1
}

// pickSide chooses which sibling to borrow from or merge with: forced
// right at the leftmost child, forced left at the rightmost, otherwise
// the larger sibling (better merge/borrow viability).
func pickSide(parent *node, childIdx int, leftCount, rightCount func() (int, error)) (siblingSide, error) {
	if childIdx == 0 {
		return sideRight, nil
	}
	if childIdx == parent.Count()-1 {
		return sideLeft, nil
	}
	lc, err := leftCount()
	if err != nil {
		return 0, err
	}
	rc, err := rightCount()
	if err != nil {
		return 0, err
	}
	if lc >= rc {
		return sideLeft, nil
	}
	return sideRight, nil
}

// Del removes key. Deleting an absent key is a no-op, not an error.
func (t *Tree) Del(key []byte) error {
	if t.closed {
		return ErrClosed
	}

	leaf, err := t.search(key)
	if err != nil {
		return err
	}
	if leaf == nil {
		return nil
	}

	found, pos, err := t.leafSearch(leaf, key)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	return t.removeLeafEntry(leaf, pos)
}

// removeLeafEntry centralizes payload freeing at the single site that
// removes a kv entry from a leaf: both extents are freed here, exactly
// once, before any rebalancing.
func (t *Tree) removeLeafEntry(leaf *node, pos int) error {
	valPtr := leaf.Val(pos)
	keyPtr := leaf.Key(pos)

	if err := t.data.FreeExtent(valPtr); err != nil {
		return err
	}
	if err := t.data.FreeExtent(keyPtr); err != nil {
		return err
	}

	leaf.shiftKVLeft(pos)
	leaf.SetCount(leaf.Count() - 1)
	leaf.MarkDirty()
	t.idx.SetNrKV(t.idx.NrKV() - 1)

	if leaf.Parent().IsNull() {
		if leaf.Count() == 0 {
			t.idx.SetRoot(fptr.Null)
			return t.idx.FreeNode(leaf.Self())
		}
		return nil
	}

	if leaf.Count() >= int(MinEntries) {
		return nil
	}

	return t.fixLeafUnderflow(leaf)
}

func (t *Tree) fixLeafUnderflow(leaf *node) error {
	parent, err := t.idx.FetchNode(leaf.Parent())
	if err != nil {
		return err
	}
	childIdx := childIndexInParent(parent, leaf.Self())

	var left, right *node
	loadLeft := func() (*node, error) {
		if left == nil {
			left, err = t.idx.FetchNode(parent.Child(childIdx - 1))
		}
		return left, err
	}
	loadRight := func() (*node, error) {
		if right == nil {
			right, err = t.idx.FetchNode(parent.Child(childIdx + 1))
		}
		return right, err
	}

	side, err := pickSide(parent, childIdx,
		func() (int, error) { n, err := loadLeft(); if err != nil { return 0, err }; return n.Count(), nil },
		func() (int, error) { n, err := loadRight(); if err != nil { return 0, err }; return n.Count(), nil },
	)
	if err != nil {
		return err
	}

	if side == sideLeft {
		ls, err := loadLeft()
		if err != nil {
			return err
		}
		if ls.Count() > int(MinEntries) {
			return t.leafBorrowLeft(leaf, ls, parent, childIdx)
		}
		return t.leafMergeLeft(leaf, ls, parent, childIdx)
	}

	rs, err := loadRight()
	if err != nil {
		return err
	}
	if rs.Count() > int(MinEntries) {
		return t.leafBorrowRight(leaf, rs, parent, childIdx)
	}
	return t.leafMergeRight(leaf, rs, parent, childIdx)
}

func (t *Tree) leafBorrowLeft(leaf, left, parent *node, childIdx int) error {
	li := left.Count() - 1
	keyPtr, valPtr := left.Key(li), left.Val(li)

	leaf.shiftKVRight(0)
	leaf.SetKey(0, keyPtr)
	leaf.SetVal(0, valPtr)
	leaf.SetCount(leaf.Count() + 1)
	left.SetCount(li)

	parent.SetKey(childIdx, keyPtr)

	leaf.MarkDirty()
	left.MarkDirty()
	parent.MarkDirty()
	return nil
}

func (t *Tree) leafBorrowRight(leaf, right, parent *node, childIdx int) error {
	keyPtr, valPtr := right.Key(0), right.Val(0)

	leaf.SetKey(leaf.Count(), keyPtr)
	leaf.SetVal(leaf.Count(), valPtr)
	leaf.SetCount(leaf.Count() + 1)

	right.shiftKVLeft(0)
	right.SetCount(right.Count() - 1)

	parent.SetKey(childIdx+1, right.Key(0))

	leaf.MarkDirty()
	right.MarkDirty()
	parent.MarkDirty()
	return nil
}

// leafMergeLeft absorbs leaf into its left sibling, then removes leaf's
// now-redundant slot (and preceding separator) from parent.
func (t *Tree) leafMergeLeft(leaf, left, parent *node, childIdx int) error {
	base := left.Count()
	for i := 0; i < leaf.Count(); i++ {
		left.SetKey(base+i, leaf.Key(i))
		left.SetVal(base+i, leaf.Val(i))
	}
	left.SetCount(base + leaf.Count())

	left.SetNext(leaf.Next())
	if next := leaf.Next(); !next.IsNull() {
		nn, err := t.idx.FetchNode(next)
		if err != nil {
			return err
		}
		nn.SetPrev(left.Self())
		nn.MarkDirty()
	}
	left.MarkDirty()

	if err := t.idx.FreeNode(leaf.Self()); err != nil {
		return err
	}

	return t.removeChildFromParent(parent, childIdx)
}

// leafMergeRight absorbs right into leaf, then removes right's
// now-redundant slot (and preceding separator) from parent.
func (t *Tree) leafMergeRight(leaf, right, parent *node, childIdx int) error {
	base := leaf.Count()
	for i := 0; i < right.Count(); i++ {
		leaf.SetKey(base+i, right.Key(i))
		leaf.SetVal(base+i, right.Val(i))
	}
	leaf.SetCount(base + right.Count())

	leaf.SetNext(right.Next())
	if next := right.Next(); !next.IsNull() {
		nn, err := t.idx.FetchNode(next)
		if err != nil {
			return err
		}
		nn.SetPrev(leaf.Self())
		nn.MarkDirty()
	}
	leaf.MarkDirty()

	if err := t.idx.FreeNode(right.Self()); err != nil {
		return err
	}

	return t.removeChildFromParent(parent, childIdx+1)
}

// removeChildFromParent implements intl_del: splice out the separator
// preceding removeIdx and the child at removeIdx, then recursively fix
// parent if it now underflows.
func (t *Tree) removeChildFromParent(parent *node, removeIdx int) error {
	parent.shiftKCLeft(removeIdx)
	parent.SetCount(parent.Count() - 1)
	parent.MarkDirty()

	return t.fixInternalUnderflow(parent)
}

func (t *Tree) fixInternalUnderflow(n *node) error {
	if n.Parent().IsNull() {
		if n.Count() == 1 {
			child, err := t.idx.FetchNode(n.Child(0))
			if err != nil {
				return err
			}
			child.SetParent(fptr.Null)
			child.MarkDirty()
			t.idx.SetRoot(child.Self())
			return t.idx.FreeNode(n.Self())
		}
		return nil // below-half root is allowed
	}

	if n.Count() > int(MinEntries) {
		return nil
	}

	parent, err := t.idx.FetchNode(n.Parent())
	if err != nil {
		return err
	}
	childIdx := childIndexInParent(parent, n.Self())

	var left, right *node
	loadLeft := func() (*node, error) {
		if left == nil {
			left, err = t.idx.FetchNode(parent.Child(childIdx - 1))
		}
		return left, err
	}
	loadRight := func() (*node, error) {
		if right == nil {
			right, err = t.idx.FetchNode(parent.Child(childIdx + 1))
		}
		return right, err
	}

	side, err := pickSide(parent, childIdx,
		func() (int, error) { c, err := loadLeft(); if err != nil { return 0, err }; return c.Count(), nil },
		func() (int, error) { c, err := loadRight(); if err != nil { return 0, err }; return c.Count(), nil },
	)
	if err != nil {
		return err
	}

	if side == sideLeft {
		ls, err := loadLeft()
		if err != nil {
			return err
		}
		if ls.Count() > int(MinEntries) {
			return t.intlBorrowLeft(n, ls, parent, childIdx)
		}
		return t.intlMerge(ls, n, parent, childIdx)
	}

	rs, err := loadRight()
	if err != nil {
		return err
	}
	if rs.Count() > int(MinEntries) {
		return t.intlBorrowRight(n, rs, parent, childIdx)
	}
	return t.intlMerge(n, rs, parent, childIdx+1)
}

// intlBorrowLeft moves left's last child to become n's first child,
// rotating the separator through parent.
func (t *Tree) intlBorrowLeft(n, left, parent *node, childIdx int) error {
	li := left.Count() - 1
	moved := left.Child(li)
	promoted := left.Key(li)

	n.shiftKCRight(0)
	n.SetVal(0, moved)
	n.SetKey(1, parent.Key(childIdx))
	n.SetCount(n.Count() + 1)

	parent.SetKey(childIdx, promoted)
	left.SetCount(li)

	movedNode, err := t.idx.FetchNode(moved)
	if err != nil {
		return err
	}
	movedNode.SetParent(n.Self())
	movedNode.MarkDirty()

	n.MarkDirty()
	left.MarkDirty()
	parent.MarkDirty()
	return nil
}

// intlBorrowRight moves right's first child to become n's last child,
// rotating the separator through parent.
func (t *Tree) intlBorrowRight(n, right, parent *node, childIdx int) error {
	moved := right.Child(0)
	newLast := n.Count()

	n.SetVal(newLast, moved)
	n.SetKey(newLast, parent.Key(childIdx+1))
	n.SetCount(n.Count() + 1)

	promoted := right.Key(1)
	right.shiftKCLeft(0)
	right.SetCount(right.Count() - 1)

	parent.SetKey(childIdx+1, promoted)

	movedNode, err := t.idx.FetchNode(moved)
	if err != nil {
		return err
	}
	movedNode.SetParent(n.Self())
	movedNode.MarkDirty()

	n.MarkDirty()
	right.MarkDirty()
	parent.MarkDirty()
	return nil
}

// intlMerge concatenates left ∪ parent's separator at sepIdx ∪ right into
// left, reparenting every child moved from right, then removes right's
// slot from parent and recursively fixes parent.
func (t *Tree) intlMerge(left, right, parent *node, sepIdx int) error {
	base := left.Count()
	left.SetKey(base, parent.Key(sepIdx))
	left.SetVal(base, right.Child(0))

	for i := 1; i < right.Count(); i++ {
		left.SetKey(base+i, right.Key(i))
		left.SetVal(base+i, right.Child(i))
	}
	newCount := base + right.Count()
	left.SetCount(newCount)

	for i := base; i < newCount; i++ {
		child, err := t.idx.FetchNode(left.Child(i))
		if err != nil {
			return err
		}
		child.SetParent(left.Self())
		child.MarkDirty()
	}
	left.MarkDirty()

	if err := t.idx.FreeNode(right.Self()); err != nil {
		return err
	}

	return t.removeChildFromParent(parent, sepIdx)
}
