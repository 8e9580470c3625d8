package pageiter_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hupe1980/pagechain/cache"
	"github.com/hupe1980/pagechain/pageiter"
	"github.com/hupe1980/pagechain/pageiter/pageitertest"
	"github.com/hupe1980/pagechain/segment"
	"github.com/hupe1980/pagechain/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	chainPages = 52
	pageSize   = 64
)

func newAccessor(t *testing.T, prefetchMax int) *segment.Accessor {
	t.Helper()
	params := cache.Params{CapacityPages: cache.DefaultCapacityPages, PrefetchPagesMax: prefetchMax}
	return testutil.NewAccessor(t, chainPages, testutil.NewMemDevice(pageSize), params)
}

func newIter(t *testing.T, depth int, src pageiter.Source[int]) *pageiter.Iter[int] {
	t.Helper()
	it, err := pageiter.New[int](depth)
	require.NoError(t, err)
	require.NoError(t, it.SetSource(src))
	t.Cleanup(it.MakeSingular)
	return it
}

// mockEntries is what the mock source yields from page from: every page
// twice, skipping one page in between, payload = entry index.
func mockEntries(from, end segment.PageID) []pageiter.Entry[int] {
	var out []pageiter.Entry[int]
	for i := 0; ; i++ {
		page := from + segment.PageID(2*(i/2))
		if page >= chainPages {
			page = segment.NullPageID
		}
		out = append(out, pageiter.Entry[int]{PageID: page, Value: i})
		if page == end || page == segment.NullPageID {
			return out
		}
	}
}

func TestScenario_BoundedDepth20(t *testing.T) {
	ctx := t.Context()
	acc := newAccessor(t, cache.DefaultPrefetchPagesMax)
	end := segment.LinearPageID(50)

	it := newIter(t, 20, pageitertest.NewMockSource(segment.FirstLinearPageID, pageitertest.Index))
	require.NoError(t, it.MapRange(ctx, acc, segment.NullPageID, end))

	got, err := pageitertest.Collect(ctx, it, 0)
	require.NoError(t, err)

	require.Len(t, got, 51)
	for i, e := range got {
		assert.Equal(t, i, e.Value)
		assert.Equal(t, segment.PageID(2*(i/2)), e.PageID)
	}
	assert.Equal(t, end, got[len(got)-1].PageID)
	assert.Equal(t, 50, got[len(got)-1].Value)
	assert.True(t, it.AtEnd())

	assert.LessOrEqual(t, it.Stats().MaxOutstanding, 20)
	assert.Equal(t, int64(0), it.Stats().ForcedRejects)
}

func TestScenario_Depth1RejectEvery7(t *testing.T) {
	ctx := t.Context()
	acc := newAccessor(t, 1)
	end := segment.LinearPageID(50)

	it := newIter(t, 1, pageitertest.NewMockSource(segment.FirstLinearPageID, pageitertest.Index))
	require.NoError(t, it.MapRange(ctx, acc, segment.NullPageID, end))

	got, err := pageitertest.Collect(ctx, it, 7)
	require.NoError(t, err)

	if diff := cmp.Diff(mockEntries(segment.FirstLinearPageID, end), got); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
	assert.Positive(t, it.Stats().ForcedRejects)
}

func TestOrderPreservation(t *testing.T) {
	depths := []int{0, 1, 20}
	prefetchMax := []int{0, 1, cache.DefaultPrefetchPagesMax}
	rejectEvery := []int{0, 1, 7, 19, 251}
	ends := []segment.PageID{segment.NullPageID, segment.LinearPageID(50)}

	for _, depth := range depths {
		for _, pm := range prefetchMax {
			for _, k := range rejectEvery {
				for _, end := range ends {
					name := fmt.Sprintf("depth=%d/prefetch=%d/reject=%d/end=%s", depth, pm, k, end)
					t.Run(name, func(t *testing.T) {
						ctx := t.Context()
						acc := newAccessor(t, pm)

						want, err := pageitertest.Drain(ctx,
							pageitertest.NewMockSource(segment.FirstLinearPageID, pageitertest.Index),
							acc, segment.NullPageID, end)
						require.NoError(t, err)

						it := newIter(t, depth, pageitertest.NewMockSource(segment.FirstLinearPageID, pageitertest.Index))
						require.NoError(t, it.MapRange(ctx, acc, segment.NullPageID, end))

						got, err := pageitertest.Collect(ctx, it, k)
						require.NoError(t, err)

						if diff := cmp.Diff(want, got); diff != "" {
							t.Errorf("entries mismatch (-want +got):\n%s", diff)
						}
						assert.True(t, it.AtEnd())
						assert.LessOrEqual(t, it.Stats().MaxOutstanding, depth)
						if depth == 0 {
							assert.Equal(t, int64(0), it.Stats().Prefetches)
						}
					})
				}
			}
		}
	}
}

func TestBoundedFromMiddle(t *testing.T) {
	ctx := t.Context()
	acc := newAccessor(t, cache.DefaultPrefetchPagesMax)
	from, end := segment.LinearPageID(3), segment.LinearPageID(51)

	it := newIter(t, 20, pageitertest.NewMockSource(from, pageitertest.Index))
	require.NoError(t, it.MapRange(ctx, acc, segment.NullPageID, end))

	got, err := pageitertest.Collect(ctx, it, 0)
	require.NoError(t, err)

	if diff := cmp.Diff(mockEntries(from, end), got); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, got, 49)
}

func TestMockStopsOnOddEnd(t *testing.T) {
	ctx := t.Context()
	acc := newAccessor(t, cache.DefaultPrefetchPagesMax)
	end := segment.LinearPageID(7)

	it := newIter(t, 4, pageitertest.NewMockSource(segment.FirstLinearPageID, pageitertest.Index).WithEnd(end))
	require.NoError(t, it.MapRange(ctx, acc, segment.NullPageID, end))

	got, err := pageitertest.Collect(ctx, it, 0)
	require.NoError(t, err)

	var pages []segment.PageID
	for i, e := range got {
		assert.Equal(t, i, e.Value)
		pages = append(pages, e.PageID)
	}
	assert.Equal(t, []segment.PageID{0, 0, 2, 2, 4, 4, 6, 6, 7}, pages)
	assert.True(t, it.AtEnd())
}

func TestMapRangeFillsWindow(t *testing.T) {
	ctx := t.Context()
	acc := newAccessor(t, cache.DefaultPrefetchPagesMax)

	it := newIter(t, 4, pageiter.NewChainSource(segment.FirstLinearPageID, func(segment.PageID, int) int { return 0 }))
	require.NoError(t, it.MapRange(ctx, acc, segment.NullPageID, segment.NullPageID))
	assert.Equal(t, 4, it.Outstanding())

	require.NoError(t, it.Advance(ctx))
	assert.Equal(t, 4, it.Outstanding())
	assert.Equal(t, 4, it.Stats().MaxOutstanding)
}

func TestPendingRejectDoesNotCarryOver(t *testing.T) {
	ctx := t.Context()
	acc := newAccessor(t, cache.DefaultPrefetchPagesMax)

	it := newIter(t, 4, pageitertest.NewMockSource(segment.FirstLinearPageID, pageitertest.Index))
	require.NoError(t, it.MapRange(ctx, acc, segment.NullPageID, segment.NullPageID))
	it.ForcePrefetchReject()
	it.MakeSingular()

	require.NoError(t, it.MapRange(ctx, acc, segment.NullPageID, segment.LinearPageID(10)))
	_, err := pageitertest.Collect(ctx, it, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), it.Stats().ForcedRejects)
	assert.Equal(t, int64(0), it.Stats().SyncFetches)
}

func TestCancelledLockDoesNotFailTraversal(t *testing.T) {
	ctx := t.Context()
	dev := testutil.NewMemDevice(pageSize).WithLatency(100 * time.Millisecond)
	acc := testutil.NewAccessor(t, chainPages, dev, cache.DefaultParams())

	lockErr := make(chan error, 1)
	go func() {
		lctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		lock := segment.NewPageLock(acc)
		err := lock.LockShared(lctx, 1)
		lock.Unlock()
		lockErr <- err
	}()
	require.Eventually(t, func() bool { return acc.Cache.Stats().Misses > 0 }, time.Second, time.Millisecond)

	end := segment.LinearPageID(6)
	it := newIter(t, 4, pageiter.NewChainSource(segment.FirstLinearPageID, func(segment.PageID, int) int { return 0 }))
	require.NoError(t, it.MapRange(ctx, acc, segment.NullPageID, end))

	got, err := pageitertest.Collect(ctx, it, 0)
	require.NoError(t, err)
	require.Len(t, got, 7)
	assert.Equal(t, end, got[len(got)-1].PageID)

	assert.ErrorIs(t, <-lockErr, context.DeadlineExceeded)
}

func TestUnboundedEndsOnNullPage(t *testing.T) {
	ctx := t.Context()
	acc := newAccessor(t, cache.DefaultPrefetchPagesMax)

	it := newIter(t, 20, pageitertest.NewMockSource(segment.FirstLinearPageID, pageitertest.Index))
	require.NoError(t, it.MapRange(ctx, acc, segment.NullPageID, segment.NullPageID))

	got, err := pageitertest.Collect(ctx, it, 0)
	require.NoError(t, err)

	require.Len(t, got, 53)
	last := got[len(got)-1]
	assert.Equal(t, segment.NullPageID, last.PageID)
	assert.Equal(t, 52, last.Value)

	data, err := it.Data()
	require.NoError(t, err)
	assert.Nil(t, data)

	err = it.Advance(ctx)
	assert.ErrorIs(t, err, pageiter.ErrUsage)
}

func TestTotalRejectionIsLive(t *testing.T) {
	ctx := t.Context()
	dev := testutil.NewMemDevice(pageSize).WithLatency(time.Millisecond)
	acc := testutil.NewAccessor(t, chainPages, dev, cache.Params{CapacityPages: 16, PrefetchPagesMax: 2})

	it := newIter(t, 20, pageitertest.NewMockSource(segment.FirstLinearPageID, pageitertest.Index))
	require.NoError(t, it.MapRange(ctx, acc, segment.NullPageID, segment.NullPageID))

	got, err := pageitertest.Collect(ctx, it, 1)
	require.NoError(t, err)

	if diff := cmp.Diff(mockEntries(segment.FirstLinearPageID, segment.NullPageID), got); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}

	s := it.Stats()
	assert.Positive(t, s.ForcedRejects)
	assert.Positive(t, s.SyncFetches)
}

func TestCacheRejectionFallsBack(t *testing.T) {
	ctx := t.Context()
	acc := newAccessor(t, 0)

	it := newIter(t, 4, pageitertest.NewMockSource(segment.FirstLinearPageID, pageitertest.Index))
	require.NoError(t, it.MapRange(ctx, acc, segment.NullPageID, segment.NullPageID))

	assert.Equal(t, 0, it.Outstanding())

	_, err := pageitertest.Collect(ctx, it, 0)
	require.NoError(t, err)

	s := it.Stats()
	assert.Positive(t, s.Rejections)
	assert.Equal(t, s.Entries-1, s.SyncFetches) // every entry but the null one
}

func TestLockAlongTraversal(t *testing.T) {
	ctx := t.Context()
	acc := newAccessor(t, cache.DefaultPrefetchPagesMax)

	it := newIter(t, 20, pageitertest.NewMockSource(segment.FirstLinearPageID, pageitertest.Index))
	require.NoError(t, it.MapRange(ctx, acc, segment.NullPageID, segment.NullPageID))

	lock := segment.NewPageLock(acc)
	var got []pageiter.Entry[int]
	for {
		e, err := it.Current()
		require.NoError(t, err)
		got = append(got, e)

		if e.PageID != segment.NullPageID {
			lctx, cancel := context.WithTimeout(ctx, time.Second)
			require.NoError(t, lock.LockShared(lctx, e.PageID))
			cancel()
			assert.Equal(t, cache.BlockID(e.PageID), testutil.Stamp(lock.Data()))
			lock.Unlock()
		}

		if it.AtEnd() {
			break
		}
		require.NoError(t, it.Advance(ctx))
	}

	if diff := cmp.Diff(mockEntries(segment.FirstLinearPageID, segment.NullPageID), got); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestCurrentData(t *testing.T) {
	ctx := t.Context()
	acc := newAccessor(t, cache.DefaultPrefetchPagesMax)

	it := newIter(t, 3, pageiter.NewChainSource(segment.FirstLinearPageID, func(segment.PageID, int) int { return 0 }))
	require.NoError(t, it.MapRange(ctx, acc, segment.NullPageID, segment.NullPageID))

	for !it.AtEnd() {
		e, err := it.Current()
		require.NoError(t, err)
		data, err := it.Data()
		require.NoError(t, err)
		assert.Equal(t, cache.BlockID(e.PageID), testutil.Stamp(data))
		require.NoError(t, it.Advance(ctx))
	}
}

func TestMakeSingular(t *testing.T) {
	ctx := t.Context()
	acc := newAccessor(t, cache.DefaultPrefetchPagesMax)

	it, err := pageiter.New[int](20)
	require.NoError(t, err)

	it.MakeSingular()
	it.MakeSingular()

	require.NoError(t, it.SetSource(pageitertest.NewMockSource(segment.FirstLinearPageID, pageitertest.Index)))
	require.NoError(t, it.MapRange(ctx, acc, segment.NullPageID, segment.NullPageID))
	require.NoError(t, it.Advance(ctx))
	assert.Positive(t, it.Outstanding())
	assert.Positive(t, acc.Cache.Stats().Pinned)

	it.MakeSingular()
	it.MakeSingular()

	assert.Equal(t, 0, it.Outstanding())
	assert.Equal(t, 0, acc.Cache.Stats().Pinned)
	assert.False(t, it.AtEnd())

	_, err = it.Current()
	assert.ErrorIs(t, err, pageiter.ErrUsage)
	assert.ErrorIs(t, it.Advance(ctx), pageiter.ErrUsage)

	// No source calls after teardown.
	it.ForcePrefetchReject()
}

func TestRemapAfterTeardown(t *testing.T) {
	ctx := t.Context()
	acc := newAccessor(t, cache.DefaultPrefetchPagesMax)

	it := newIter(t, 5, pageitertest.NewMockSource(segment.FirstLinearPageID, pageitertest.Index))
	require.NoError(t, it.MapRange(ctx, acc, segment.NullPageID, segment.NullPageID))
	for i := 0; i < 10; i++ {
		require.NoError(t, it.Advance(ctx))
	}
	e, err := it.Current()
	require.NoError(t, err)
	require.Equal(t, segment.PageID(10), e.PageID)
	it.MakeSingular()

	// Resume after the last visited page.
	require.NoError(t, it.MapRange(ctx, acc, e.PageID, segment.NullPageID))
	got, err := pageitertest.Collect(ctx, it, 0)
	require.NoError(t, err)

	require.NotEmpty(t, got)
	assert.Equal(t, pageiter.Entry[int]{PageID: 11, Value: 0}, got[0])
	assert.Equal(t, pageiter.Entry[int]{PageID: 11, Value: 1}, got[1])
	assert.Equal(t, segment.NullPageID, got[len(got)-1].PageID)
	assert.True(t, it.AtEnd())
}

func TestUsageErrors(t *testing.T) {
	ctx := t.Context()
	acc := newAccessor(t, cache.DefaultPrefetchPagesMax)

	_, err := pageiter.New[int](-1)
	assert.ErrorIs(t, err, pageiter.ErrUsage)

	it, err := pageiter.New[int](2)
	require.NoError(t, err)
	defer it.MakeSingular()

	_, err = it.Current()
	assert.ErrorIs(t, err, pageiter.ErrUsage)
	assert.ErrorIs(t, it.Advance(ctx), pageiter.ErrUsage)
	assert.ErrorIs(t, it.MapRange(ctx, acc, segment.NullPageID, segment.NullPageID), pageiter.ErrUsage)
	assert.ErrorIs(t, it.SetSource(nil), pageiter.ErrUsage)
	it.ForcePrefetchReject() // no source: no-op

	src := pageitertest.NewMockSource(segment.FirstLinearPageID, pageitertest.Index)
	require.NoError(t, it.SetSource(src))
	assert.ErrorIs(t, it.MapRange(ctx, &segment.Accessor{}, segment.NullPageID, segment.NullPageID), pageiter.ErrUsage)

	require.NoError(t, it.MapRange(ctx, acc, segment.NullPageID, segment.FirstLinearPageID))
	assert.True(t, it.AtEnd())
	assert.ErrorIs(t, it.Advance(ctx), pageiter.ErrUsage)
	assert.ErrorIs(t, it.SetSource(src), pageiter.ErrUsage)
	assert.ErrorIs(t, it.MapRange(ctx, acc, segment.NullPageID, segment.NullPageID), pageiter.ErrUsage)
}

func TestDeviceErrorPropagates(t *testing.T) {
	ctx := t.Context()
	faulty := testutil.NewFaultyDevice(testutil.NewMemDevice(pageSize))
	faulty.FailBlock(10, nil)
	acc := testutil.NewAccessor(t, chainPages, faulty, cache.DefaultParams())

	for _, depth := range []int{0, 1, 20} {
		t.Run(fmt.Sprintf("depth=%d", depth), func(t *testing.T) {
			it := newIter(t, depth, pageitertest.NewMockSource(segment.FirstLinearPageID, pageitertest.Index))

			err := it.MapRange(ctx, acc, segment.NullPageID, segment.NullPageID)
			if err == nil {
				_, err = pageitertest.Collect(ctx, it, 0)
			}
			assert.ErrorIs(t, err, testutil.ErrInjected)

			// The failure sticks until teardown.
			_, cerr := it.Current()
			assert.ErrorIs(t, cerr, testutil.ErrInjected)
			assert.False(t, it.AtEnd())

			it.MakeSingular()
			it.MakeSingular()
			assert.Equal(t, 0, acc.Cache.Stats().Pinned)
		})
	}
}

type sliceSource struct {
	pageiter.Rejector
	pages []segment.PageID
	pos   int
	err   error
}

func (s *sliceSource) Start(context.Context, *segment.Accessor, segment.PageID) error {
	s.pos = 0
	return nil
}

func (s *sliceSource) Next(context.Context) (pageiter.Entry[int], bool, error) {
	if s.pos == len(s.pages) {
		return pageiter.Entry[int]{}, false, s.err
	}
	e := pageiter.Entry[int]{PageID: s.pages[s.pos], Value: s.pos}
	s.pos++
	return e, true, nil
}

func TestSourceExhaustion(t *testing.T) {
	ctx := t.Context()
	acc := newAccessor(t, cache.DefaultPrefetchPagesMax)

	for _, depth := range []int{0, 2, 8} {
		it := newIter(t, depth, &sliceSource{pages: []segment.PageID{4, 4, 9, 1}})
		require.NoError(t, it.MapRange(ctx, acc, segment.NullPageID, segment.NullPageID))

		got, err := pageitertest.Collect(ctx, it, 0)
		require.NoError(t, err)

		want := []pageiter.Entry[int]{
			{PageID: 4, Value: 0},
			{PageID: 4, Value: 1},
			{PageID: 9, Value: 2},
			{PageID: 1, Value: 3},
			{PageID: segment.NullPageID},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("depth %d: entries mismatch (-want +got):\n%s", depth, diff)
		}
		it.MakeSingular()
	}
}

func TestEmptySource(t *testing.T) {
	ctx := t.Context()
	acc := newAccessor(t, cache.DefaultPrefetchPagesMax)

	it := newIter(t, 4, &sliceSource{})
	require.NoError(t, it.MapRange(ctx, acc, segment.NullPageID, segment.NullPageID))
	assert.True(t, it.AtEnd())

	e, err := it.Current()
	require.NoError(t, err)
	assert.Equal(t, segment.NullPageID, e.PageID)
}

func TestSourceErrorPropagates(t *testing.T) {
	ctx := t.Context()
	acc := newAccessor(t, cache.DefaultPrefetchPagesMax)
	boom := errors.New("boom")

	it := newIter(t, 0, &sliceSource{pages: []segment.PageID{1, 2}, err: boom})
	require.NoError(t, it.MapRange(ctx, acc, segment.NullPageID, segment.NullPageID))
	require.NoError(t, it.Advance(ctx))
	assert.ErrorIs(t, it.Advance(ctx), boom)
}

func TestChainSource(t *testing.T) {
	ctx := t.Context()
	seg, err := segment.NewLinearSegment(8)
	require.NoError(t, err)
	require.NoError(t, seg.Free(0))
	require.NoError(t, seg.Free(5))

	c, err := cache.New(testutil.NewMemDevice(pageSize), cache.DefaultParams())
	require.NoError(t, err)
	defer c.Close()
	acc := &segment.Accessor{Segment: seg, Cache: c}

	src := pageiter.NewChainSource(segment.FirstLinearPageID, func(id segment.PageID, i int) string {
		return fmt.Sprintf("%d:%s", i, id)
	})

	it, err := pageiter.New[string](3)
	require.NoError(t, err)
	require.NoError(t, it.SetSource(src))
	require.NoError(t, it.MapRange(ctx, acc, segment.NullPageID, segment.NullPageID))
	defer it.MakeSingular()

	got, err := pageitertest.Collect(ctx, it, 0)
	require.NoError(t, err)

	var pages []segment.PageID
	for _, e := range got {
		pages = append(pages, e.PageID)
	}
	assert.Equal(t, []segment.PageID{1, 2, 3, 4, 6, 7, segment.NullPageID}, pages)
	assert.Equal(t, "0:page(1)", got[0].Value)

	// Resume after page 4.
	it.MakeSingular()
	require.NoError(t, it.MapRange(ctx, acc, 4, segment.NullPageID))
	e, err := it.Current()
	require.NoError(t, err)
	assert.Equal(t, segment.PageID(6), e.PageID)
}
