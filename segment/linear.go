package segment

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/pagechain/cache"
)

// maxLinearPages bounds a linear segment to the 32-bit id space of the
// allocation map.
const maxLinearPages = math.MaxUint32

// LinearSegment is a segment whose chain visits allocated pages in id order.
// Freed pages are skipped by PageSuccessor. It is safe for concurrent use.
type LinearSegment struct {
	mu    sync.RWMutex
	alloc *roaring.Bitmap
	slots uint64 // ids handed out so far; the next Allocate returns LinearPageID(slots)
	base  cache.BlockID
}

// LinearOption configures a LinearSegment.
type LinearOption func(*LinearSegment)

// WithBaseBlock offsets block ids so several segments can share one cache.
func WithBaseBlock(base cache.BlockID) LinearOption {
	return func(s *LinearSegment) {
		s.base = base
	}
}

// NewLinearSegment creates a segment with pages 0..n-1 allocated.
func NewLinearSegment(n uint64, opts ...LinearOption) (*LinearSegment, error) {
	if n > maxLinearPages {
		return nil, fmt.Errorf("%w: %d pages requested", ErrFull, n)
	}
	s := &LinearSegment{alloc: roaring.New(), slots: n}
	if n > 0 {
		s.alloc.AddRange(0, n)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LinearSegmentFromBitmap creates a segment from an allocation map covering
// slots page ids.
func LinearSegmentFromBitmap(alloc *roaring.Bitmap, slots uint64, opts ...LinearOption) (*LinearSegment, error) {
	if slots > maxLinearPages {
		return nil, fmt.Errorf("%w: %d slots", ErrFull, slots)
	}
	if alloc == nil {
		alloc = roaring.New()
	}
	if !alloc.IsEmpty() && uint64(alloc.Maximum()) >= slots {
		return nil, fmt.Errorf("segment: allocation map references page %d beyond %d slots", alloc.Maximum(), slots)
	}
	s := &LinearSegment{alloc: alloc, slots: slots}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Allocate appends a page to the end of the chain.
func (s *LinearSegment) Allocate() (PageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.slots >= maxLinearPages {
		return NullPageID, ErrFull
	}
	id := LinearPageID(s.slots)
	s.alloc.Add(uint32(id))
	s.slots++
	return id, nil
}

// Free removes a page from the chain. Its id is not reused.
func (s *LinearSegment) Free(id PageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.containsLocked(id) {
		return fmt.Errorf("%w: %s", ErrNotAllocated, id)
	}
	s.alloc.Remove(uint32(id))
	return nil
}

// IsAllocated reports whether id is a live page.
func (s *LinearSegment) IsAllocated(id PageID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.containsLocked(id)
}

func (s *LinearSegment) containsLocked(id PageID) bool {
	return id < PageID(maxLinearPages) && s.alloc.Contains(uint32(id))
}

// Seek returns the first live page at or after id, or NullPageID.
func (s *LinearSegment) Seek(id PageID) PageID {
	if id >= PageID(maxLinearPages) {
		return NullPageID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	it := s.alloc.Iterator()
	it.AdvanceIfNeeded(uint32(id))
	if !it.HasNext() {
		return NullPageID
	}
	return PageID(it.Next())
}

// First returns the first live page, or NullPageID for an empty segment.
func (s *LinearSegment) First() PageID {
	return s.Seek(FirstLinearPageID)
}

// PageSuccessor implements Segment.
func (s *LinearSegment) PageSuccessor(id PageID) PageID {
	if id == NullPageID {
		return NullPageID
	}
	return s.Seek(id + 1)
}

// BlockID implements Segment.
func (s *LinearSegment) BlockID(id PageID) cache.BlockID {
	return s.base + cache.BlockID(id)
}

// PageCount implements Segment.
func (s *LinearSegment) PageCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alloc.GetCardinality()
}

// Slots returns the number of page ids handed out, live or freed.
func (s *LinearSegment) Slots() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slots
}

// MarshalBinary encodes the slot count followed by the allocation map.
func (s *LinearSegment) MarshalBinary() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bm, err := s.alloc.MarshalBinary()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 8, 8+len(bm))
	binary.LittleEndian.PutUint64(buf, s.slots)
	return append(buf, bm...), nil
}

// UnmarshalBinary decodes data produced by MarshalBinary.
func (s *LinearSegment) UnmarshalBinary(data []byte) error {
	if len(data) < 8 {
		return fmt.Errorf("segment: allocation map too short (%d bytes)", len(data))
	}
	slots := binary.LittleEndian.Uint64(data)

	alloc := roaring.New()
	if err := alloc.UnmarshalBinary(data[8:]); err != nil {
		return fmt.Errorf("segment: decode allocation map: %w", err)
	}
	if slots > maxLinearPages || (!alloc.IsEmpty() && uint64(alloc.Maximum()) >= slots) {
		return fmt.Errorf("segment: allocation map inconsistent with %d slots", slots)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.alloc = alloc
	s.slots = slots
	return nil
}
