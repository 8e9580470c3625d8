// Package pageitertest provides sources and helpers for testing code built on
// pageiter.
package pageitertest

import (
	"context"
	"fmt"

	"github.com/hupe1980/pagechain/pageiter"
	"github.com/hupe1980/pagechain/segment"
)

// MockSource emits every page it visits twice and then skips ahead two
// successors, so a linear chain 0,1,2,... yields pages 0,0,2,2,4,4,...
// Values come from payload applied to the 0-based entry index. The chain end
// is reported once as segment.NullPageID. A skip whose first hop lands on the
// page set with WithEnd stops there.
type MockSource[T any] struct {
	pageiter.Rejector

	from    segment.PageID
	end     segment.PageID
	payload func(index int) T

	seg     segment.Segment
	page    segment.PageID
	emitted int
	index   int
	done    bool
}

// NewMockSource creates a mock source starting at from.
func NewMockSource[T any](from segment.PageID, payload func(index int) T) *MockSource[T] {
	return &MockSource[T]{from: from, end: segment.NullPageID, payload: payload, done: true}
}

// WithEnd sets the page a skip must not jump over.
func (m *MockSource[T]) WithEnd(end segment.PageID) *MockSource[T] {
	m.end = end
	return m
}

// Index is a payload function returning the entry index itself.
func Index(i int) int { return i }

// Start implements pageiter.Source.
func (m *MockSource[T]) Start(_ context.Context, acc *segment.Accessor, after segment.PageID) error {
	if err := acc.Validate(); err != nil {
		return err
	}
	m.seg = acc.Segment
	m.page = m.from
	if after != segment.NullPageID {
		m.page = m.seg.PageSuccessor(after)
	}
	m.emitted, m.index, m.done = 0, 0, false
	return nil
}

// Next implements pageiter.Source.
func (m *MockSource[T]) Next(context.Context) (pageiter.Entry[T], bool, error) {
	if m.done {
		return pageiter.Entry[T]{}, false, nil
	}

	e := pageiter.Entry[T]{PageID: m.page, Value: m.payload(m.index)}
	m.index++

	if m.page == segment.NullPageID {
		m.done = true
		return e, true, nil
	}

	m.emitted++
	if m.emitted == 2 {
		m.emitted = 0
		m.page = m.seg.PageSuccessor(m.page)
		if m.page != segment.NullPageID && m.page != m.end {
			m.page = m.seg.PageSuccessor(m.page)
		}
	}
	return e, true, nil
}

// Drain starts src and reads entries up to and including the first entry on
// end (or the null page), without going through an iterator.
func Drain[T any](ctx context.Context, src pageiter.Source[T], acc *segment.Accessor, after, end segment.PageID) ([]pageiter.Entry[T], error) {
	if err := src.Start(ctx, acc, after); err != nil {
		return nil, err
	}

	var out []pageiter.Entry[T]
	for {
		e, ok, err := src.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, e)
		if e.PageID == end || e.PageID == segment.NullPageID {
			return out, nil
		}
		if len(out) > 1<<20 {
			return out, fmt.Errorf("source did not reach %s", end)
		}
	}
}

// Collect walks a mapped iterator to its end and returns every entry visited,
// the terminal one included. If rejectEvery > 0 a rejection is forced before
// every rejectEvery-th advance.
func Collect[T any](ctx context.Context, it *pageiter.Iter[T], rejectEvery int) ([]pageiter.Entry[T], error) {
	var out []pageiter.Entry[T]
	for n := 1; ; n++ {
		e, err := it.Current()
		if err != nil {
			return out, err
		}
		out = append(out, e)
		if it.AtEnd() {
			return out, nil
		}
		if rejectEvery > 0 && n%rejectEvery == 0 {
			it.ForcePrefetchReject()
		}
		if err := it.Advance(ctx); err != nil {
			return out, err
		}
	}
}
