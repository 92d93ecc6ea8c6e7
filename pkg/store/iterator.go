package store

import (
	"bytes"

	"go-dbms/pkg/fptr"
)

// Iterator walks a half-open (in spirit; see the quirk documented below)
// range of a Tree's leaves. It must not outlive the Tree that created it.
type Iterator struct {
	t *Tree

	headLeaf fptr.Ptr
	headOff  int
	tailLeaf fptr.Ptr
	tailOff  int

	curLeaf fptr.Ptr
	curNode *node
	curOff  int

	done bool
}

func emptyIterator(t *Tree) *Iterator { return &Iterator{t: t, done: true} }

// Range constructs an iterator over [from, to], normalizing from <= to.
// The upper bound's inclusivity is a deliberately preserved quirk: if to
// is present in the store, iteration includes it; if to is absent, the
// last key strictly less than to is used instead. So an absent to acts as
// a conventional half-open exclusive bound, while a present to does not.
//
// A range that lands entirely in the gap between two leaves, with neither
// endpoint present, is empty. Both endpoint searches are resolved against
// their original leaves before either is advanced/retreated across a leaf
// boundary, so that narrow case can be detected before it is masked by
// the per-endpoint adjustment below.
func (t *Tree) Range(from, to []byte) (*Iterator, error) {
	if t.closed {
		return nil, ErrClosed
	}
	if bytes.Compare(from, to) > 0 {
		from, to = to, from
	}

	if t.idx.Root().IsNull() {
		return emptyIterator(t), nil
	}

	leafF, err := t.search(from)
	if err != nil {
		return nil, err
	}
	foundF, beg, err := t.leafSearch(leafF, from)
	if err != nil {
		return nil, err
	}

	leafT, err := t.search(to)
	if err != nil {
		return nil, err
	}
	foundT, end, err := t.leafSearch(leafT, to)
	if err != nil {
		return nil, err
	}

	if !foundF && !foundT && leafF.Self() == leafT.Self() &&
		beg == leafF.Count() && end == leafT.Count() {
		return emptyIterator(t), nil
	}

	if !foundF && beg == leafF.Count() {
		next := leafF.Next()
		if next.IsNull() {
			return emptyIterator(t), nil
		}
		leafF, err = t.idx.FetchNode(next)
		if err != nil {
			return nil, err
		}
		beg = 0
	}

	if !foundT {
		if end == 0 {
			prev := leafT.Prev()
			if prev.IsNull() {
				return emptyIterator(t), nil
			}
			leafT, err = t.idx.FetchNode(prev)
			if err != nil {
				return nil, err
			}
			end = leafT.Count() - 1
		} else {
			end--
		}
	}

	// from moved forward into the leaf right after the one to moved back
	// into: both endpoints fell in the gap between those two leaves.
	if leafF.Prev() == leafT.Self() {
		return emptyIterator(t), nil
	}

	it := &Iterator{
		t:        t,
		headLeaf: leafF.Self(),
		headOff:  beg,
		tailLeaf: leafT.Self(),
		tailOff:  end,
		curLeaf:  leafF.Self(),
		curNode:  leafF,
		curOff:   beg,
	}
	if it.headLeaf == it.tailLeaf && it.headOff > it.tailOff {
		it.done = true
	}
	return it, nil
}

// Valid reports whether the iterator currently addresses an entry.
func (it *Iterator) Valid() bool { return !it.done }

// Key returns the current entry's key.
func (it *Iterator) Key() ([]byte, error) {
	return ReadKey(it.t.data, it.curNode.Key(it.curOff))
}

// Value returns the current entry's value.
func (it *Iterator) Value() ([]byte, error) {
	return ReadValue(it.t.data, it.curNode.Val(it.curOff))
}

// Next advances to the next entry, jumping to the next leaf when the
// current one is exhausted.
func (it *Iterator) Next() error {
	if it.done {
		return nil
	}
	if it.curLeaf == it.tailLeaf && it.curOff == it.tailOff {
		it.done = true
		return nil
	}

	it.curOff++
	if it.curOff >= it.curNode.Count() {
		next := it.curNode.Next()
		if next.IsNull() {
			it.done = true
			return nil
		}
		n, err := it.t.idx.FetchNode(next)
		if err != nil {
			return err
		}
		it.curNode = n
		it.curLeaf = next
		it.curOff = 0
	}
	return nil
}

// Prev steps backward, jumping to the previous leaf's last slot when the
// current one is exhausted.
func (it *Iterator) Prev() error {
	if it.done {
		return nil
	}
	if it.curLeaf == it.headLeaf && it.curOff == it.headOff {
		it.done = true
		return nil
	}

	it.curOff--
	if it.curOff < 0 {
		prev := it.curNode.Prev()
		if prev.IsNull() {
			it.done = true
			return nil
		}
		n, err := it.t.idx.FetchNode(prev)
		if err != nil {
			return err
		}
		it.curNode = n
		it.curLeaf = prev
		it.curOff = n.Count() - 1
	}
	return nil
}
