package device

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/pagechain/blobstore"
	"github.com/hupe1980/pagechain/cache"
	"github.com/hupe1980/pagechain/internal/pageframe"
	"github.com/hupe1980/pagechain/segment"
)

// Info describes an opened segment.
type Info struct {
	PageSize int
	SlotSize int
	Codec    pageframe.Codec
	Slots    uint64
	Pages    uint64
	Size     int64
}

// BlobDevice serves pages of a segment blob. It implements cache.Device.
type BlobDevice struct {
	blob   blobstore.Blob
	mapped []byte // non-nil when the blob supports zero-copy access
	h      *header
	seg    *segment.LinearSegment
}

var _ cache.Device = (*BlobDevice)(nil)

// Open validates the blob header and allocation map. The device owns blob
// and closes it on Close.
func Open(ctx context.Context, blob blobstore.Blob) (*BlobDevice, error) {
	d := &BlobDevice{blob: blob}
	if m, ok := blob.(blobstore.Mappable); ok {
		if b, err := m.Bytes(); err == nil {
			d.mapped = b
		}
	}

	fixed := make([]byte, HeaderSize)
	if err := d.readFull(ctx, fixed, 0); err != nil {
		return nil, fmt.Errorf("%w: read header: %w", ErrCorrupt, err)
	}
	h, err := decodeHeader(fixed)
	if err != nil {
		return nil, err
	}

	bitmap := make([]byte, h.bitmapLen)
	if err := d.readFull(ctx, bitmap, HeaderSize); err != nil {
		return nil, fmt.Errorf("%w: read allocation map: %w", ErrCorrupt, err)
	}
	if err := h.verify(fixed, bitmap); err != nil {
		return nil, err
	}
	if uint64(blob.Size()) < h.size() {
		return nil, fmt.Errorf("%w: blob is %d bytes, need %d", ErrCorrupt, blob.Size(), h.size())
	}

	var seg segment.LinearSegment
	if err := seg.UnmarshalBinary(bitmap); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if seg.Slots() != h.slots {
		return nil, fmt.Errorf("%w: allocation map covers %d slots, header %d", ErrCorrupt, seg.Slots(), h.slots)
	}

	d.h = h
	d.seg = &seg
	return d, nil
}

func (d *BlobDevice) readFull(ctx context.Context, p []byte, off int64) error {
	if d.mapped != nil {
		if off+int64(len(p)) > int64(len(d.mapped)) {
			return io.ErrUnexpectedEOF
		}
		copy(p, d.mapped[off:])
		return nil
	}
	n, err := d.blob.ReadAt(ctx, p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// ReadPage implements cache.Device.
func (d *BlobDevice) ReadPage(ctx context.Context, id cache.BlockID) ([]byte, error) {
	if uint64(id) >= d.h.slots {
		return nil, fmt.Errorf("%w: block %d of %d", ErrOutOfRange, id, d.h.slots)
	}
	if !d.seg.IsAllocated(segment.PageID(id)) {
		return nil, fmt.Errorf("%w: block %d", segment.ErrNotAllocated, id)
	}

	off := d.h.slotOffset(uint64(id))
	var slot []byte
	if d.mapped != nil {
		slot = d.mapped[off : off+int64(d.h.slotSize)]
	} else {
		slot = make([]byte, d.h.slotSize)
		if err := d.readFull(ctx, slot, off); err != nil {
			return nil, fmt.Errorf("read block %d: %w", id, err)
		}
	}

	page, err := pageframe.Decode(slot, int(d.h.pageSize))
	if err != nil {
		return nil, fmt.Errorf("%w: block %d: %w", ErrCorrupt, id, err)
	}
	return page, nil
}

// PageSize implements cache.Device.
func (d *BlobDevice) PageSize() int {
	return int(d.h.pageSize)
}

// Segment returns the chain stored in the blob.
func (d *BlobDevice) Segment() *segment.LinearSegment {
	return d.seg
}

// Info returns format details.
func (d *BlobDevice) Info() Info {
	return Info{
		PageSize: int(d.h.pageSize),
		SlotSize: int(d.h.slotSize),
		Codec:    d.h.codec,
		Slots:    d.h.slots,
		Pages:    d.seg.PageCount(),
		Size:     d.blob.Size(),
	}
}

// Close closes the underlying blob.
func (d *BlobDevice) Close() error {
	return d.blob.Close()
}
