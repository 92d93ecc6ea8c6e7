package store

import (
	"bytes"

	"github.com/pkg/errors"

	"go-dbms/pkg/fptr"
)

// Validate walks the whole tree checking structural invariants: node
// count/degree bounds, strictly increasing keys within a node and across
// the leaf chain, uniform leaf depth, null prev/next pointers at the two
// ends of the leaf chain, and that the leaf count sum agrees with the
// persisted and recomputed key counts. It is a diagnostic for tests, not
// part of the hot path.
//
// It does not check that every set bitmap bit corresponds to a live,
// non-overlapping extent: that requires walking every chunk's bitmap and
// cross-referencing it against every payload pointer reachable from the
// tree, a property of the allocator's bookkeeping rather than the tree
// shape. Nor does it check that each leaf's prev/next point at its
// in-order neighbours.
func (t *Tree) Validate() error {
	root := t.idx.Root()
	if root.IsNull() {
		if t.idx.NrKV() != 0 {
			return errors.New("store: nr_kv nonzero with a null root")
		}
		return nil
	}

	depth := -1
	var firstLeaf, lastLeaf *node
	var leafSum uint64
	var prevLeafKey []byte

	var walk func(p fptr.Ptr, parent fptr.Ptr, level int, lo, hi []byte) error
	walk = func(p fptr.Ptr, parent fptr.Ptr, level int, lo, hi []byte) error {
		n, err := t.idx.FetchNode(p)
		if err != nil {
			return err
		}
		if n.Parent() != parent {
			return errors.Errorf("store: node %d has wrong parent", uint64(p))
		}

		if n.IsLeaf() {
			if depth == -1 {
				depth = level
			} else if depth != level {
				return errors.New("store: leaves at inconsistent depth")
			}

			var prevKey []byte
			for i := 0; i < n.Count(); i++ {
				kb, err := ReadKey(t.data, n.Key(i))
				if err != nil {
					return err
				}
				if prevKey != nil && bytes.Compare(prevKey, kb) >= 0 {
					return errors.New("store: leaf keys not strictly increasing")
				}
				if lo != nil && bytes.Compare(kb, lo) < 0 {
					return errors.New("store: leaf key below subtree lower bound")
				}
				if hi != nil && bytes.Compare(kb, hi) >= 0 {
					return errors.New("store: leaf key at or above subtree upper bound")
				}
				prevKey = kb
			}

			if prevLeafKey != nil && n.Count() > 0 {
				firstOfThis, err := ReadKey(t.data, n.Key(0))
				if err != nil {
					return err
				}
				if bytes.Compare(prevLeafKey, firstOfThis) >= 0 {
					return errors.New("store: leaf chain not totally ordered")
				}
			}
			if n.Count() > 0 {
				lastKey, err := ReadKey(t.data, n.Key(n.Count()-1))
				if err != nil {
					return err
				}
				prevLeafKey = lastKey
			}

			leafSum += uint64(n.Count())
			if firstLeaf == nil {
				firstLeaf = n
			}
			lastLeaf = n
			return nil
		}

		if n.Parent() != fptr.Null && n.Count() < 2 {
			return errors.New("store: non-root internal node below minimum degree")
		}

		var prevSep []byte
		for i := 1; i < n.Count(); i++ {
			kb, err := ReadKey(t.data, n.Key(i))
			if err != nil {
				return err
			}
			if prevSep != nil && bytes.Compare(prevSep, kb) >= 0 {
				return errors.New("store: internal separators not strictly increasing")
			}
			prevSep = kb
		}

		for i := 0; i < n.Count(); i++ {
			childLo, childHi := lo, hi
			if i > 0 {
				sep, err := ReadKey(t.data, n.Key(i))
				if err != nil {
					return err
				}
				childLo = sep
			}
			if i < n.Count()-1 {
				sep, err := ReadKey(t.data, n.Key(i+1))
				if err != nil {
					return err
				}
				childHi = sep
			}
			if err := walk(n.Child(i), n.Self(), level+1, childLo, childHi); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(root, fptr.Null, 0, nil, nil); err != nil {
		return err
	}

	if firstLeaf != nil && !firstLeaf.Prev().IsNull() {
		return errors.New("store: leftmost leaf has non-null prev")
	}
	if lastLeaf != nil && !lastLeaf.Next().IsNull() {
		return errors.New("store: rightmost leaf has non-null next")
	}

	if leafSum != t.idx.NrKV() {
		return errors.Errorf("store: leaf count sum %d != nr_kv %d", leafSum, t.idx.NrKV())
	}
	count, err := t.Count()
	if err != nil {
		return err
	}
	if count != t.idx.NrKV() {
		return errors.Errorf("store: count() %d != nr_kv %d", count, t.idx.NrKV())
	}

	return nil
}
