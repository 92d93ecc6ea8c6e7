package store

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"go-dbms/config"
)

// Tree is the on-disk B+tree engine: an index file of fixed-size node
// pages plus a data file of variable-length payloads. pkg/chaosdb is the
// thin, size-validating facade in front of it.
type Tree struct {
	idx  *IndexFile
	data *DataFile
	log  *logrus.Logger

	closed bool
}

// Open opens (or formats, if neither exists) the index and data files at
// the given paths. If exactly one of the two files already exists, Open
// refuses to guess and returns ErrCorrupt rather than silently
// reformatting a possibly half-written store.
func Open(indexPath, dataPath string, opts *config.Options) (*Tree, error) {
	if opts == nil {
		opts = config.DefaultOptions()
	}

	_, idxErr := os.Stat(indexPath)
	_, dataErr := os.Stat(dataPath)
	idxExists := idxErr == nil
	dataExists := dataErr == nil
	if idxExists != dataExists {
		return nil, ErrCorrupt
	}

	idx, _, err := OpenIndexFile(indexPath, opts.ChunkCacheEntries, opts.IndexCacheNodes, opts.Logger)
	if err != nil {
		return nil, err
	}

	data, _, err := OpenDataFile(dataPath, opts.ChunkCacheEntries, opts.DataCachePages, opts.Logger)
	if err != nil {
		_ = idx.Close()
		return nil, err
	}

	t := &Tree{idx: idx, data: data, log: opts.Logger}
	t.log.Debugf("store: opened tree, nr_kv=%d", idx.NrKV())
	return t, nil
}

// Items returns the persisted key count, header.nr_kv, in O(1).
func (t *Tree) Items() uint64 { return t.idx.NrKV() }

// Count recomputes the key count by walking the leaf linked list; it is
// a diagnostic that should always equal Items() at quiescence.
func (t *Tree) Count() (uint64, error) {
	leaf, err := t.firstLeaf()
	if err != nil {
		return 0, err
	}
	var n uint64
	for leaf != nil {
		n += uint64(leaf.Count())
		next := leaf.Next()
		if next.IsNull() {
			break
		}
		leaf, err = t.idx.FetchNode(next)
		if err != nil {
			return 0, err
		}
	}
	return n, nil
}

// firstLeaf walks the left spine from the root down to the first leaf.
// It always decodes the shared header before deciding whether a page is
// a leaf.
func (t *Tree) firstLeaf() (*node, error) {
	p := t.idx.Root()
	if p.IsNull() {
		return nil, nil
	}
	n, err := t.idx.FetchNode(p)
	if err != nil {
		return nil, err
	}
	for !n.IsLeaf() {
		child := n.Child(0)
		n, err = t.idx.FetchNode(child)
		if err != nil {
			return nil, err
		}
	}
	return n, nil
}

// descendChild picks the child index to follow from internal node n
// toward target: binary-search for the first separator >= target among
// kc[1..count). kc[i].key separates Child(i-1) and Child(i), so an exact
// match on that separator descends right, into Child(i); otherwise target
// falls short of it and belongs in Child(i-1).
func (t *Tree) descendChild(n *node, target []byte) (int, error) {
	count := n.Count()
	lo, hi := 1, count
	exact := false
	for lo < hi {
		mid := (lo + hi) / 2
		kb, err := ReadKey(t.data, n.Key(mid))
		if err != nil {
			return 0, err
		}
		c := bytes.Compare(kb, target)
		if c == 0 {
			lo, exact = mid, true
			break
		}
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if !exact {
		lo--
	}
	if lo >= count {
		lo = count - 1
	}
	if lo < 0 {
		lo = 0
	}
	return lo, nil
}

// leafSearch binary-searches a leaf's sorted kv array, loading each
// candidate key lazily. It returns the first index whose key is >=
// target, and whether that key equals target exactly.
func (t *Tree) leafSearch(n *node, target []byte) (found bool, pos int, err error) {
	lo, hi := 0, n.Count()
	for lo < hi {
		mid := (lo + hi) / 2
		kb, err := ReadKey(t.data, n.Key(mid))
		if err != nil {
			return false, 0, err
		}
		c := bytes.Compare(kb, target)
		if c == 0 {
			return true, mid, nil
		}
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return false, lo, nil
}

// search descends from the root to the leaf that would contain key.
// It returns nil iff the tree is empty.
func (t *Tree) search(key []byte) (*node, error) {
	p := t.idx.Root()
	if p.IsNull() {
		return nil, nil
	}
	n, err := t.idx.FetchNode(p)
	if err != nil {
		return nil, err
	}
	for !n.IsLeaf() {
		ci, err := t.descendChild(n, key)
		if err != nil {
			return nil, err
		}
		n, err = t.idx.FetchNode(n.Child(ci))
		if err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Get returns the value stored for key, and whether it was present.
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	if t.closed {
		return nil, false, ErrClosed
	}
	leaf, err := t.search(key)
	if err != nil {
		return nil, false, err
	}
	if leaf == nil {
		return nil, false, nil
	}
	found, pos, err := t.leafSearch(leaf, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	val, err := ReadValue(t.data, leaf.Val(pos))
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Contains reports whether key is present, without paying for the value
// read.
func (t *Tree) Contains(key []byte) (bool, error) {
	if t.closed {
		return false, ErrClosed
	}
	leaf, err := t.search(key)
	if err != nil {
		return false, err
	}
	if leaf == nil {
		return false, nil
	}
	found, _, err := t.leafSearch(leaf, key)
	return found, err
}

// Flush msyncs both files' dirty entries and headers, then fsyncs both
// file descriptors.
func (t *Tree) Flush() error {
	if t.closed {
		return ErrClosed
	}
	if err := t.idx.Flush(); err != nil {
		return err
	}
	return t.data.Flush()
}

// Close clears both caches (msync+munmap every live entry), fsyncs, then
// closes both files.
func (t *Tree) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.log.Debug("store: closing tree")

	if err := t.idx.Close(); err != nil {
		return errors.Wrap(err, "failed to close index file")
	}
	return errors.Wrap(t.data.Close(), "failed to close data file")
}
