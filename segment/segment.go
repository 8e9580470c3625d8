// Package segment defines page identifiers, the chain successor relation and
// the scoped page lock used when walking page chains.
package segment

import (
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/pagechain/cache"
)

// PageID identifies a page within a segment.
type PageID uint64

const (
	// NullPageID terminates every chain. It never refers to a real page.
	NullPageID PageID = math.MaxUint64

	// FirstLinearPageID is the first page of a linear segment.
	FirstLinearPageID PageID = 0
)

// LinearPageID returns the id of the i-th page of a linear segment.
func LinearPageID(i uint64) PageID {
	return FirstLinearPageID + PageID(i)
}

// String implements fmt.Stringer.
func (id PageID) String() string {
	if id == NullPageID {
		return "null"
	}
	return fmt.Sprintf("page(%d)", uint64(id))
}

var (
	// ErrUsage is returned when an operation is invoked in a state that does
	// not permit it.
	ErrUsage = errors.New("pagechain: usage error")

	// ErrNotAllocated is returned for pages that are not part of the segment.
	ErrNotAllocated = errors.New("segment: page not allocated")

	// ErrFull is returned when a segment cannot address any more pages.
	ErrFull = errors.New("segment: full")
)

// Segment maps pages onto cache blocks and orders them into a chain.
type Segment interface {
	// PageSuccessor returns the page following id, or NullPageID at the end
	// of the chain.
	PageSuccessor(id PageID) PageID
	// BlockID translates a page id into the block id used by the cache.
	BlockID(id PageID) cache.BlockID
	// PageCount returns the number of live pages.
	PageCount() uint64
}

// Accessor pairs a segment with the cache its pages are read through.
type Accessor struct {
	Segment Segment
	Cache   *cache.Cache
}

// Validate reports whether the accessor is usable.
func (a *Accessor) Validate() error {
	if a == nil || a.Segment == nil || a.Cache == nil {
		return fmt.Errorf("%w: incomplete segment accessor", ErrUsage)
	}
	return nil
}
