package store

import (
	"encoding/binary"

	farm "github.com/dgryski/go-farm"
	"github.com/pkg/errors"

	"go-dbms/pkg/fptr"
)

// checksumSize is the width of the per-value checksum prefix written by
// WriteValue and verified by ReadValue.
const checksumSize = 8

// WriteExtent stripes data across the host pages covering p: the first
// host page starts at the intra-host-page offset derived from p's own
// slot offset, subsequent pages start at 0.
func WriteExtent(df *DataFile, p fptr.Ptr, data []byte) error {
	slot := p.Offset()
	remaining := data

	for len(remaining) > 0 {
		hp, err := df.getHostPage(p.Chunk(), slot)
		if err != nil {
			return err
		}

		pageOff := inSysPageOff(slot)
		room := SysPageSize - pageOff
		n := len(remaining)
		if n > room {
			n = room
		}

		copy(hp.region.Bytes()[pageOff:pageOff+n], remaining[:n])
		hp.dirty = true

		remaining = remaining[n:]
		slot += uint32(n) / DataPageSize
		if uint32(n)%DataPageSize != 0 {
			slot++
		}
	}
	return nil
}

// ReadExtent is the symmetric collect: concatenates the bytes covering p
// into a freshly allocated buffer of length p.Length().
func ReadExtent(df *DataFile, p fptr.Ptr) ([]byte, error) {
	length := p.Length()
	out := make([]byte, length)
	slot := p.Offset()
	off := 0

	for off < int(length) {
		hp, err := df.getHostPage(p.Chunk(), slot)
		if err != nil {
			return nil, err
		}

		pageOff := inSysPageOff(slot)
		room := SysPageSize - pageOff
		n := int(length) - off
		if n > room {
			n = room
		}

		copy(out[off:off+n], hp.region.Bytes()[pageOff:pageOff+n])

		off += n
		slot += uint32(n) / DataPageSize
		if uint32(n)%DataPageSize != 0 {
			slot++
		}
	}
	return out, nil
}

// WriteKey allocates and writes a key payload verbatim (no checksum: keys
// are compared byte-for-byte on every descent, and the extra bookkeeping
// would only cost cycles on the hottest path).
func WriteKey(df *DataFile, key []byte) (fptr.Ptr, error) {
	p, err := df.AllocExtent(uint32(len(key)))
	if err != nil {
		return fptr.Null, err
	}
	if err := WriteExtent(df, p, key); err != nil {
		return fptr.Null, err
	}
	return p, nil
}

// ReadKey reads back a key payload written by WriteKey.
func ReadKey(df *DataFile, p fptr.Ptr) ([]byte, error) {
	return ReadExtent(df, p)
}

// WriteValue allocates and writes a value payload with an 8-byte
// farm.Hash64 checksum prefix, which lets ReadValue detect a torn or
// corrupted write instead of returning garbage. The returned pointer's
// length covers checksum+value.
func WriteValue(df *DataFile, val []byte) (fptr.Ptr, error) {
	buf := make([]byte, checksumSize+len(val))
	binary.NativeEndian.PutUint64(buf[:checksumSize], farm.Hash64(val))
	copy(buf[checksumSize:], val)

	p, err := df.AllocExtent(uint32(len(buf)))
	if err != nil {
		return fptr.Null, err
	}
	if err := WriteExtent(df, p, buf); err != nil {
		return fptr.Null, err
	}
	return p, nil
}

// ReadValue reads back a value payload written by WriteValue, verifying
// its checksum.
func ReadValue(df *DataFile, p fptr.Ptr) ([]byte, error) {
	buf, err := ReadExtent(df, p)
	if err != nil {
		return nil, err
	}
	if len(buf) < checksumSize {
		return nil, errors.Wrap(ErrCorrupt, "value extent shorter than checksum prefix")
	}

	want := binary.NativeEndian.Uint64(buf[:checksumSize])
	val := buf[checksumSize:]
	if farm.Hash64(val) != want {
		return nil, errors.Wrap(ErrCorrupt, "value checksum mismatch")
	}
	return val, nil
}
