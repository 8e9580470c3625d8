package device

import (
	"context"
	"fmt"
	"runtime"

	"github.com/hupe1980/pagechain/internal/pageframe"
	"github.com/hupe1980/pagechain/segment"
	"golang.org/x/sync/errgroup"
)

// Writer builds a segment blob in memory.
type Writer struct {
	pageSize int
	codec    pageframe.Codec
	seg      *segment.LinearSegment
	pages    [][]byte
}

// NewWriter creates a writer for pages of at most pageSize bytes.
func NewWriter(pageSize int, codec pageframe.Codec) (*Writer, error) {
	if pageSize <= 0 || pageSize > MaxPageSize {
		return nil, fmt.Errorf("device: invalid page size %d", pageSize)
	}
	if codec > pageframe.CodecZSTD {
		return nil, fmt.Errorf("device: unknown codec %d", codec)
	}
	seg, err := segment.NewLinearSegment(0)
	if err != nil {
		return nil, err
	}
	return &Writer{pageSize: pageSize, codec: codec, seg: seg}, nil
}

// Append adds a page to the end of the chain.
func (w *Writer) Append(data []byte) (segment.PageID, error) {
	if len(data) > w.pageSize {
		return segment.NullPageID, fmt.Errorf("%w: %d bytes, page size %d", ErrPageTooLarge, len(data), w.pageSize)
	}
	id, err := w.seg.Allocate()
	if err != nil {
		return segment.NullPageID, err
	}
	w.pages = append(w.pages, append([]byte(nil), data...))
	return id, nil
}

// Free removes a page from the chain. Its slot stays in the blob.
func (w *Writer) Free(id segment.PageID) error {
	if err := w.seg.Free(id); err != nil {
		return err
	}
	w.pages[id] = nil
	return nil
}

// Segment returns the chain built so far.
func (w *Writer) Segment() *segment.LinearSegment {
	return w.seg
}

// Bytes encodes the segment. Pages are compressed in parallel.
func (w *Writer) Bytes(ctx context.Context) ([]byte, error) {
	bitmap, err := w.seg.MarshalBinary()
	if err != nil {
		return nil, err
	}

	h := &header{
		version:    Version,
		codec:      w.codec,
		pageSize:   uint32(w.pageSize),
		slotSize:   uint32(SlotSize(w.pageSize)),
		slots:      w.seg.Slots(),
		bitmapLen:  uint32(len(bitmap)),
		dataOffset: uint64(roundUp(HeaderSize+len(bitmap), dataAlign)),
	}

	out := make([]byte, h.size())
	h.encode(out[:HeaderSize], bitmap)
	copy(out[HeaderSize:], bitmap)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, page := range w.pages {
		if page == nil {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			frame, err := pageframe.Encode(page, w.codec)
			if err != nil {
				return fmt.Errorf("encode page %d: %w", i, err)
			}
			off := h.slotOffset(uint64(i))
			copy(out[off:off+int64(h.slotSize)], frame)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}
