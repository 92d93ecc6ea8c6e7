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
	"go-dbms/util/helpers"
)

// hostPageItem is one host-page (4 KiB) mapping over the data file,
// covering DataPerSysPage 64-byte payload slots. Grouping slots into host
// pages for cache locality mirrors original_source/meta.h's
// build_cache_key/in_sys_page_off scheme (see payload.go).
type hostPageItem struct {
	id     uint64
	region *mmapfile.Region
	dirty  bool
}

func (h *hostPageItem) ID() uint64 { return h.id }

func (h *hostPageItem) Sync(unmap bool) error {
	if unmap {
		if err := h.region.Msync(true); err != nil {
			return err
		}
		return h.region.Unmap()
	}
	if h.dirty {
		if err := h.region.Msync(true); err != nil {
			return err
		}
		h.dirty = false
	}
	return nil
}

type dataChunkItem struct {
	id     uint64
	region *mmapfile.Region
	bitmap *chunkalloc.Bitmap
	dirty  bool
}

func (c *dataChunkItem) ID() uint64 { return c.id }

func (c *dataChunkItem) Sync(unmap bool) error {
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

// DataFile owns variable-length payload storage: the file header, a
// chunk-bitmap cache, and a host-page cache grouping 64-byte slots into
// their covering 4 KiB mmap granularity.
type DataFile struct {
	mf        *mmapfile.File
	hdrRegion *mmapfile.Region
	chunks    *pagecache.Cache[*dataChunkItem]
	pages     *pagecache.Cache[*hostPageItem]
	log       *logrus.Logger
}

// OpenDataFile opens or creates the data file at path.
func OpenDataFile(path string, chunkCacheSize, pageCacheSize int, log *logrus.Logger) (df *DataFile, created bool, err error) {
	mf, err := mmapfile.Open(path, 0644)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to open data file")
	}
	created = mf.Created()

	hdrRegion, err := mf.MapAt(0, int64(DataHeaderSize))
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to map data header")
	}

	df = &DataFile{
		mf:        mf,
		hdrRegion: hdrRegion,
		chunks:    pagecache.New[*dataChunkItem](chunkCacheSize),
		pages:     pagecache.New[*hostPageItem](pageCacheSize),
		log:       log,
	}

	if created {
		df.formatHeader()
		log.Debugf("store: formatted new data file %s", path)
	} else if df.magic() != DataMagic {
		_ = hdrRegion.Unmap()
		_ = mf.Close()
		log.Errorf("store: data file %s has bad magic", path)
		return nil, false, ErrCorrupt
	}

	return df, created, nil
}

func (df *DataFile) hdr() []byte { return df.hdrRegion.Bytes() }

func (df *DataFile) formatHeader() {
	buf := df.hdr()
	for i := range buf {
		buf[i] = 0
	}
	binary.NativeEndian.PutUint64(buf[dataHdrMagic:], DataMagic)
	binary.NativeEndian.PutUint64(buf[dataHdrFileSize:], DataHeaderSize)
	binary.NativeEndian.PutUint64(buf[dataHdrLastChunk:], 0)
}

func (df *DataFile) magic() uint64 { return binary.NativeEndian.Uint64(df.hdr()[dataHdrMagic:]) }

func (df *DataFile) lastChunk() uint32 {
	return uint32(binary.NativeEndian.Uint64(df.hdr()[dataHdrLastChunk:]))
}
func (df *DataFile) setLastChunk(c uint32) {
	binary.NativeEndian.PutUint64(df.hdr()[dataHdrLastChunk:], uint64(c))
}

func (df *DataFile) chunkUsage(id uint32) uint32 {
	off := dataHdrChunks + int(id)*4
	return binary.NativeEndian.Uint32(df.hdr()[off:])
}
func (df *DataFile) setChunkUsage(id uint32, v uint32) {
	off := dataHdrChunks + int(id)*4
	binary.NativeEndian.PutUint32(df.hdr()[off:], v)
}

func (df *DataFile) chunkByteOffset(id uint32) int64 {
	return int64(DataHeaderSize) + int64(id)*chunkalloc.ChunkSize
}

func (df *DataFile) getChunk(id uint32) (*dataChunkItem, error) {
	if c, ok := df.chunks.Get(chunkCacheID(id)); ok {
		return c, nil
	}

	region, err := df.mf.MapAt(df.chunkByteOffset(id), int64(chunkalloc.DataLayout.HeaderSize))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map data chunk %d header", id)
	}

	c := &dataChunkItem{
		id:     chunkCacheID(id),
		region: region,
		bitmap: chunkalloc.NewBitmap(region.Bytes(), 0, chunkalloc.DataLayout.UsablePages),
	}
	if err := df.chunks.Put(c); err != nil {
		return nil, err
	}
	return c, nil
}

// hostPageIndex is build_cache_key's second half: which host page a data
// page slot belongs to.
func hostPageIndex(slot uint32) uint32 { return slot / DataPerSysPage }

// buildCacheKey mirrors original_source/meta.h's build_cache_key: pack
// the chunk id and host-page index into one cache key.
func buildCacheKey(chunk uint16, slot uint32) uint64 {
	return uint64(chunk)<<32 | uint64(hostPageIndex(slot))
}

// inSysPageOff mirrors in_sys_page_off: the byte offset, within its host
// page, of data page slot dataPageOff.
func inSysPageOff(slot uint32) int {
	return int(slot%DataPerSysPage) * DataPageSize
}

func (df *DataFile) getHostPage(chunk uint16, slot uint32) (*hostPageItem, error) {
	id := buildCacheKey(chunk, slot)
	if p, ok := df.pages.Get(id); ok {
		return p, nil
	}

	hostIdx := hostPageIndex(slot)
	off := df.chunkByteOffset(uint32(chunk)) + int64(chunkalloc.DataLayout.HeaderSize) + int64(hostIdx)*SysPageSize
	region, err := df.mf.MapAt(off, SysPageSize)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map data host page chunk=%d slot=%d", chunk, slot)
	}
	_ = region.Madvise(unix.MADV_RANDOM)

	p := &hostPageItem{id: id, region: region}
	if err := df.pages.Put(p); err != nil {
		return nil, err
	}
	return p, nil
}

// sizeToPages converts a byte length into a count of 64-byte data page
// slots, rounding up (original_source/meta.h's size_to_page).
func sizeToPages(n uint32) uint32 { return helpers.CeilDiv(n, DataPageSize) }

// AllocExtent reserves n = ceil(size/64) contiguous 64-byte slots and
// returns the fat pointer naming them, with size stamped as the pointer's
// length field.
func (df *DataFile) AllocExtent(size uint32) (fptr.Ptr, error) {
	n := sizeToPages(size)
	capacity := chunkalloc.DataLayout.UsablePages

	chunkIdx, ok := chunkalloc.RoundRobin(NrDataChunks, df.lastChunk(), func(i uint32) bool {
		return df.chunkUsage(i)+n <= capacity
	})
	if !ok {
		df.log.Warn("store: data file exhausted, no chunk admits the requested extent")
		return fptr.Null, ErrNoSpace
	}

	c, err := df.getChunk(chunkIdx)
	if err != nil {
		return fptr.Null, err
	}

	off, ok := c.bitmap.Get(n)
	if !ok {
		return fptr.Null, ErrNoSpace
	}
	c.bitmap.Mask(off, n)
	c.dirty = true

	df.setChunkUsage(chunkIdx, df.chunkUsage(chunkIdx)+n)
	df.setLastChunk(chunkIdx)

	return fptr.Encode(size, uint16(chunkIdx), off), nil
}

// FreeExtent releases the slots p addresses and evicts any host pages it
// covers from cache.
func (df *DataFile) FreeExtent(p fptr.Ptr) error {
	if p.IsNull() {
		return nil
	}
	n := sizeToPages(p.Length())

	for slot := p.Offset(); slot < p.Offset()+n; slot = (hostPageIndex(slot) + 1) * DataPerSysPage {
		if err := df.pages.Evict(buildCacheKey(p.Chunk(), slot)); err != nil {
			return err
		}
	}

	c, err := df.getChunk(uint32(p.Chunk()))
	if err != nil {
		return err
	}
	c.bitmap.Unmask(p.Offset(), n)
	c.dirty = true

	df.setChunkUsage(uint32(p.Chunk()), df.chunkUsage(uint32(p.Chunk()))-n)
	return nil
}

// Flush syncs dirty host pages, chunk headers and the file header.
func (df *DataFile) Flush() error {
	if err := df.pages.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync data pages")
	}
	if err := df.chunks.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync data chunk headers")
	}
	if err := df.hdrRegion.Msync(false); err != nil {
		return errors.Wrap(err, "failed to msync data header")
	}
	return errors.Wrap(df.mf.Sync(), "failed to fsync data file")
}

// Close flushes and releases every mapping, then closes the file.
func (df *DataFile) Close() error {
	df.log.Debug("store: closing data file")
	if err := df.pages.Clear(); err != nil {
		return err
	}
	if err := df.chunks.Clear(); err != nil {
		return err
	}
	if err := df.hdrRegion.Msync(false); err != nil {
		return err
	}
	if err := df.hdrRegion.Unmap(); err != nil {
		return err
	}
	return df.mf.Close()
}
