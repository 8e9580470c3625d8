// Package device implements the on-blob segment format and a cache.Device
// that reads pages from it.
//
// Layout:
//
//	[header 64B][allocation map][padding to dataAlign][slot 0][slot 1]...
//
// Every slot has the same size and holds one pageframe-encoded page. Freed
// pages keep their slot, zero-filled.
package device

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hupe1980/pagechain/internal/pageframe"
	"github.com/zeebo/blake3"
)

const (
	// HeaderSize is the fixed header length.
	HeaderSize = 64

	// Version is the current format version.
	Version = 1

	// MaxPageSize bounds the logical page size.
	MaxPageSize = 1 << 24

	slotAlign = 64
	dataAlign = 512
)

var magic = [8]byte{'P', 'G', 'C', 'H', 'S', 'E', 'G', '1'}

var (
	// ErrCorrupt is returned when the blob fails validation.
	ErrCorrupt = errors.New("device: corrupt segment")

	// ErrIncompatibleFormat is returned for blobs written by another format version.
	ErrIncompatibleFormat = errors.New("device: incompatible format")

	// ErrOutOfRange is returned for block ids beyond the segment.
	ErrOutOfRange = errors.New("device: block out of range")

	// ErrPageTooLarge is returned when appending more than a page of data.
	ErrPageTooLarge = errors.New("device: page too large")
)

// header is the decoded fixed header.
//
//	[0:8]   magic
//	[8:10]  version
//	[10]    codec
//	[11]    reserved
//	[12:16] page size
//	[16:20] slot size
//	[20:28] slot count
//	[28:32] allocation map length
//	[32:40] data offset
//	[40:56] reserved
//	[56:64] checksum of header[0:56] and the allocation map
type header struct {
	version    uint16
	codec      pageframe.Codec
	pageSize   uint32
	slotSize   uint32
	slots      uint64
	bitmapLen  uint32
	dataOffset uint64
}

// SlotSize returns the on-blob slot size for pages of pageSize bytes.
func SlotSize(pageSize int) int {
	return roundUp(pageframe.MaxFrameSize(pageSize), slotAlign)
}

func roundUp(n, align int) int {
	return (n + align - 1) / align * align
}

func (h *header) size() uint64 {
	return h.dataOffset + h.slots*uint64(h.slotSize)
}

func (h *header) slotOffset(i uint64) int64 {
	return int64(h.dataOffset + i*uint64(h.slotSize))
}

func (h *header) encode(dst []byte, bitmap []byte) {
	copy(dst[0:8], magic[:])
	binary.LittleEndian.PutUint16(dst[8:], h.version)
	dst[10] = byte(h.codec)
	binary.LittleEndian.PutUint32(dst[12:], h.pageSize)
	binary.LittleEndian.PutUint32(dst[16:], h.slotSize)
	binary.LittleEndian.PutUint64(dst[20:], h.slots)
	binary.LittleEndian.PutUint32(dst[28:], h.bitmapLen)
	binary.LittleEndian.PutUint64(dst[32:], h.dataOffset)
	binary.LittleEndian.PutUint64(dst[56:], headerChecksum(dst[:56], bitmap))
}

func headerChecksum(fixed, bitmap []byte) uint64 {
	d := blake3.New()
	_, _ = d.Write(fixed)
	_, _ = d.Write(bitmap)
	var sum [32]byte
	d.Sum(sum[:0])
	return binary.LittleEndian.Uint64(sum[:8])
}

func decodeHeader(b []byte) (*header, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: short header (%d bytes)", ErrCorrupt, len(b))
	}
	if [8]byte(b[0:8]) != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}

	h := &header{
		version:    binary.LittleEndian.Uint16(b[8:]),
		codec:      pageframe.Codec(b[10]),
		pageSize:   binary.LittleEndian.Uint32(b[12:]),
		slotSize:   binary.LittleEndian.Uint32(b[16:]),
		slots:      binary.LittleEndian.Uint64(b[20:]),
		bitmapLen:  binary.LittleEndian.Uint32(b[28:]),
		dataOffset: binary.LittleEndian.Uint64(b[32:]),
	}
	if h.version != Version {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrIncompatibleFormat, h.version, Version)
	}
	if h.pageSize == 0 || h.pageSize > MaxPageSize {
		return nil, fmt.Errorf("%w: page size %d", ErrCorrupt, h.pageSize)
	}
	if int(h.slotSize) < pageframe.MaxFrameSize(int(h.pageSize)) {
		return nil, fmt.Errorf("%w: slot size %d too small for page size %d", ErrCorrupt, h.slotSize, h.pageSize)
	}
	if h.dataOffset < HeaderSize+uint64(h.bitmapLen) {
		return nil, fmt.Errorf("%w: data offset %d overlaps allocation map", ErrCorrupt, h.dataOffset)
	}
	return h, nil
}

func (h *header) verify(b, bitmap []byte) error {
	if headerChecksum(b[:56], bitmap) != binary.LittleEndian.Uint64(b[56:]) {
		return fmt.Errorf("%w: header checksum mismatch", ErrCorrupt)
	}
	return nil
}
