package store

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"go-dbms/pkg/chunkalloc"
	"go-dbms/pkg/fptr"
	"go-dbms/pkg/mmapfile"
	"go-dbms/pkg/pagecache"
)

// indexPageItem is the pagecache.Item wrapping one mapped node page.
type indexPageItem struct {
	id     uint64
	region *mmapfile.Region
	dirty  bool
}

func (p *indexPageItem) ID() uint64 { return p.id }

func (p *indexPageItem) Sync(unmap bool) error {
	if unmap {
		if err := p.region.Msync(false); err != nil {
			return err
		}
		return p.region.Unmap()
	}
	if p.dirty {
		if err := p.region.Msync(false); err != nil {
			return err
		}
		p.dirty = false
	}
	return nil
}

// indexChunkItem is the pagecache.Item wrapping one chunk's bitmap header
// region.
type indexChunkItem struct {
	id     uint64
	region *mmapfile.Region
	bitmap *chunkalloc.Bitmap
	dirty  bool
}

func (c *indexChunkItem) ID() uint64 { return c.id }

func (c *indexChunkItem) Sync(unmap bool) error {
	if unmap {
		if err := c.region.Msync(false); err != nil {
			return err
		}
		return c.region.Unmap()
	}
	if c.dirty {
		if err := c.region.Msync(false); err != nil {
			return err
		}
		c.dirty = false
	}
	return nil
}

// IndexFile owns the persistent B+tree node storage: the file header, a
// chunk-bitmap cache, and a node-page cache, all backed by pkg/mmapfile
// and pkg/chunkalloc.
type IndexFile struct {
	mf        *mmapfile.File
	hdrRegion *mmapfile.Region
	chunks    *pagecache.Cache[*indexChunkItem]
	pages     *pagecache.Cache[*indexPageItem]
	log       *logrus.Logger
}

// OpenIndexFile opens or creates the index file at path.
func OpenIndexFile(path string, chunkCacheSize, pageCacheSize int, log *logrus.Logger) (idx *IndexFile, created bool, err error) {
	mf, err := mmapfile.Open(path, 0644)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to open index file")
	}
	created = mf.Created()

	hdrRegion, err := mf.MapAt(0, int64(IndexHeaderSize))
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to map index header")
	}

	idx = &IndexFile{
		mf:        mf,
		hdrRegion: hdrRegion,
		chunks:    pagecache.New[*indexChunkItem](chunkCacheSize),
		pages:     pagecache.New[*indexPageItem](pageCacheSize),
		log:       log,
	}

	if created {
		idx.formatHeader()
		log.Debugf("store: formatted new index file %s", path)
	} else if idx.magic() != IndexMagic {
		_ = hdrRegion.Unmap()
		_ = mf.Close()
		log.Errorf("store: index file %s has bad magic", path)
		return nil, false, ErrCorrupt
	}

	return idx, created, nil
}

func (idx *IndexFile) hdr() []byte { return idx.hdrRegion.Bytes() }

func (idx *IndexFile) formatHeader() {
	buf := idx.hdr()
	for i := range buf {
		buf[i] = 0
	}
	binary.NativeEndian.PutUint64(buf[idxHdrMagic:], IndexMagic)
	binary.NativeEndian.PutUint64(buf[idxHdrNrKV:], 0)
	binary.NativeEndian.PutUint64(buf[idxHdrFileSize:], IndexHeaderSize)
	binary.NativeEndian.PutUint32(buf[idxHdrLastChunk:], 0)
	binary.NativeEndian.PutUint64(buf[idxHdrRoot:], uint64(fptr.Null))
}

func (idx *IndexFile) magic() uint64 { return binary.NativeEndian.Uint64(idx.hdr()[idxHdrMagic:]) }

func (idx *IndexFile) NrKV() uint64 { return binary.NativeEndian.Uint64(idx.hdr()[idxHdrNrKV:]) }
func (idx *IndexFile) SetNrKV(n uint64) {
	binary.NativeEndian.PutUint64(idx.hdr()[idxHdrNrKV:], n)
}

func (idx *IndexFile) Root() fptr.Ptr {
	return fptr.Ptr(binary.NativeEndian.Uint64(idx.hdr()[idxHdrRoot:]))
}
func (idx *IndexFile) SetRoot(p fptr.Ptr) {
	binary.NativeEndian.PutUint64(idx.hdr()[idxHdrRoot:], uint64(p))
}

func (idx *IndexFile) lastChunk() uint32 {
	return binary.NativeEndian.Uint32(idx.hdr()[idxHdrLastChunk:])
}
func (idx *IndexFile) setLastChunk(c uint32) {
	binary.NativeEndian.PutUint32(idx.hdr()[idxHdrLastChunk:], c)
}

func (idx *IndexFile) chunkUsage(id uint32) uint32 {
	off := idxHdrChunks + int(id)*4
	return binary.NativeEndian.Uint32(idx.hdr()[off:])
}
func (idx *IndexFile) setChunkUsage(id uint32, v uint32) {
	off := idxHdrChunks + int(id)*4
	binary.NativeEndian.PutUint32(idx.hdr()[off:], v)
}

// chunkCacheID is a named identity conversion: chunk ids and page ids
// live in separate Cache instances, so no bits need reserving here.
func chunkCacheID(chunk uint32) uint64 { return uint64(chunk) }

func pageCacheID(chunk uint16, offset uint32) uint64 {
	return uint64(chunk)<<32 | uint64(offset)
}

func (idx *IndexFile) chunkByteOffset(id uint32) int64 {
	return int64(IndexHeaderSize) + int64(id)*chunkalloc.ChunkSize
}

func (idx *IndexFile) getChunk(id uint32) (*indexChunkItem, error) {
	if c, ok := idx.chunks.Get(chunkCacheID(id)); ok {
		return c, nil
	}

	region, err := idx.mf.MapAt(idx.chunkByteOffset(id), int64(chunkalloc.IndexLayout.HeaderSize))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map index chunk %d header", id)
	}
	_ = region.Madvise(unix.MADV_RANDOM)

	c := &indexChunkItem{
		id:     chunkCacheID(id),
		region: region,
		bitmap: chunkalloc.NewBitmap(region.Bytes(), 0, chunkalloc.IndexLayout.UsablePages),
	}
	if err := idx.chunks.Put(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (idx *IndexFile) getPage(chunk uint16, offset uint32) (*indexPageItem, error) {
	id := pageCacheID(chunk, offset)
	if p, ok := idx.pages.Get(id); ok {
		return p, nil
	}

	off := idx.chunkByteOffset(uint32(chunk)) + int64(chunkalloc.IndexLayout.HeaderSize) + int64(offset)*IndexPageSize
	region, err := idx.mf.MapAt(off, IndexPageSize)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map index page chunk=%d offset=%d", chunk, offset)
	}
	_ = region.Madvise(unix.MADV_RANDOM)

	p := &indexPageItem{id: id, region: region}
	if err := idx.pages.Put(p); err != nil {
		return nil, err
	}
	return p, nil
}

// FetchNode returns a decoded view over the node page p addresses.
func (idx *IndexFile) FetchNode(p fptr.Ptr) (*node, error) {
	item, err := idx.getPage(p.Chunk(), p.Offset())
	if err != nil {
		return nil, err
	}
	return newNode(item.region.Bytes(), &item.dirty), nil
}

// AllocNode allocates a single node-page slot, returning its fat pointer
// and a freshly zeroed node view of the given type.
func (idx *IndexFile) AllocNode(t nodeType) (fptr.Ptr, *node, error) {
	p, err := idx.allocPages(1)
	if err != nil {
		return fptr.Null, nil, err
	}

	item, err := idx.getPage(p.Chunk(), p.Offset())
	if err != nil {
		return fptr.Null, nil, err
	}
	n := newNode(item.region.Bytes(), &item.dirty)
	n.reset(t, p)
	item.dirty = true

	return p, n, nil
}

// allocPages runs the file-level round-robin allocate for n contiguous
// index pages (n is always 1 for node pages).
func (idx *IndexFile) allocPages(n uint32) (fptr.Ptr, error) {
	capacity := chunkalloc.IndexLayout.UsablePages

	chunkIdx, ok := chunkalloc.RoundRobin(NrIndexChunks, idx.lastChunk(), func(i uint32) bool {
		return idx.chunkUsage(i)+n <= capacity
	})
	if !ok {
		idx.log.Warn("store: index file exhausted, no chunk admits the requested page run")
		return fptr.Null, ErrNoSpace
	}

	c, err := idx.getChunk(chunkIdx)
	if err != nil {
		return fptr.Null, err
	}

	off, ok := c.bitmap.Get(n)
	if !ok {
		return fptr.Null, ErrNoSpace
	}
	c.bitmap.Mask(off, n)
	c.dirty = true

	idx.setChunkUsage(chunkIdx, idx.chunkUsage(chunkIdx)+n)
	idx.setLastChunk(chunkIdx)

	return fptr.Encode(IndexPageSize, uint16(chunkIdx), off), nil
}

// FreeNode releases the single page slot p addresses.
func (idx *IndexFile) FreeNode(p fptr.Ptr) error {
	if p.IsNull() {
		return nil
	}
	if err := idx.pages.Evict(pageCacheID(p.Chunk(), p.Offset())); err != nil {
		return err
	}

	c, err := idx.getChunk(uint32(p.Chunk()))
	if err != nil {
		return err
	}
	c.bitmap.Unmask(p.Offset(), 1)
	c.dirty = true

	idx.setChunkUsage(uint32(p.Chunk()), idx.chunkUsage(uint32(p.Chunk()))-1)
	return nil
}

// Flush syncs dirty node pages, chunk headers and the file header, without
// unmapping anything.
func (idx *IndexFile) Flush() error {
	if err := idx.pages.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync index pages")
	}
	if err := idx.chunks.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync index chunk headers")
	}
	if err := idx.hdrRegion.Msync(false); err != nil {
		return errors.Wrap(err, "failed to msync index header")
	}
	return errors.Wrap(idx.mf.Sync(), "failed to fsync index file")
}

// Close flushes and releases every mapping, then closes the file.
func (idx *IndexFile) Close() error {
	idx.log.Debug("store: closing index file")
	if err := idx.pages.Clear(); err != nil {
		return err
	}
	if err := idx.chunks.Clear(); err != nil {
		return err
	}
	if err := idx.hdrRegion.Msync(false); err != nil {
		return err
	}
	if err := idx.hdrRegion.Unmap(); err != nil {
		return err
	}
	return idx.mf.Close()
}
