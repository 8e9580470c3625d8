package pageiter

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/hupe1980/pagechain/segment"
)

// Entry is one element of a traversal: a page and the payload produced for it.
type Entry[T any] struct {
	PageID segment.PageID
	Value  T
}

// Source produces the entries an Iter walks.
//
// A source may emit the same page in consecutive entries; the iterator
// passes such entries through unchanged.
type Source[T any] interface {
	// Start (re)positions the source. after == segment.NullPageID selects the
	// source's configured start page; any other value resumes after that page.
	Start(ctx context.Context, acc *segment.Accessor, after segment.PageID) error

	// Next returns the next entry. ok is false once the source is exhausted.
	Next(ctx context.Context) (e Entry[T], ok bool, err error)

	// ForceNextRejected makes the next read-ahead the iterator settles
	// behave as if the cache had rejected it.
	ForceNextRejected()

	// TakeRejected reports and clears a pending forced rejection.
	TakeRejected() bool
}

// Rejector implements the rejection hooks of Source. Embed it in sources.
type Rejector struct {
	pending atomic.Bool
}

// ForceNextRejected implements Source.
func (r *Rejector) ForceNextRejected() {
	r.pending.Store(true)
}

// TakeRejected implements Source.
func (r *Rejector) TakeRejected() bool {
	return r.pending.Swap(false)
}

// ChainSource walks a segment's successor chain, emitting one entry per page
// followed by a final entry for segment.NullPageID.
type ChainSource[T any] struct {
	Rejector

	start   segment.PageID
	payload func(id segment.PageID, index int) T

	seg   segment.Segment
	next  segment.PageID
	index int
	done  bool
}

// NewChainSource creates a source that starts at start and derives each
// entry's value from payload.
func NewChainSource[T any](start segment.PageID, payload func(id segment.PageID, index int) T) *ChainSource[T] {
	return &ChainSource[T]{start: start, payload: payload, done: true}
}

// Start implements Source.
func (s *ChainSource[T]) Start(_ context.Context, acc *segment.Accessor, after segment.PageID) error {
	if err := acc.Validate(); err != nil {
		return err
	}
	if s.payload == nil {
		return fmt.Errorf("%w: chain source without payload function", ErrUsage)
	}

	s.seg = acc.Segment
	s.index = 0
	s.done = false

	if after != segment.NullPageID {
		s.next = s.seg.PageSuccessor(after)
		return nil
	}

	s.next = s.start
	if ls, ok := s.seg.(*segment.LinearSegment); ok && s.start != segment.NullPageID {
		s.next = ls.Seek(s.start)
	}
	return nil
}

// Next implements Source.
func (s *ChainSource[T]) Next(ctx context.Context) (Entry[T], bool, error) {
	if s.done {
		return Entry[T]{}, false, nil
	}
	if err := ctx.Err(); err != nil {
		return Entry[T]{}, false, err
	}

	e := Entry[T]{PageID: s.next, Value: s.payload(s.next, s.index)}
	s.index++
	if s.next == segment.NullPageID {
		s.done = true
	} else {
		s.next = s.seg.PageSuccessor(s.next)
	}
	return e, true, nil
}
