package pageiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hupe1980/pagechain/cache"
	"github.com/hupe1980/pagechain/segment"
)

// ErrUsage is returned for calls the iterator's current state does not allow.
var ErrUsage = segment.ErrUsage

type state uint8

const (
	stateUnpositioned state = iota
	statePositioned
	stateSingular
)

func (s state) String() string {
	switch s {
	case statePositioned:
		return "positioned"
	case stateSingular:
		return "singular"
	default:
		return "unpositioned"
	}
}

// Stats counts what an iterator did during its current traversal.
type Stats struct {
	Entries        int64 // entries the cursor has visited
	Prefetches     int64 // read-ahead requests issued
	Rejections     int64 // read-ahead requests the cache rejected
	ForcedRejects  int64 // read-ahead requests rejected through the source hook
	SyncFetches    int64 // synchronous fetches, including fallbacks
	MaxOutstanding int   // high-water mark of the window
}

// Option configures an Iter.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for fallback and teardown events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// slot is a pulled entry together with the request that makes its page
// resident. req is nil for terminal entries and, at depth 0, until the
// entry is settled.
type slot[T any] struct {
	entry Entry[T]
	req   *cache.Request
}

func (s *slot[T]) release() {
	s.req.Release()
	s.req = nil
}

// Iter is a chain cursor with a bounded read-ahead window.
type Iter[T any] struct {
	depth  int
	logger *slog.Logger

	src Source[T]
	acc *segment.Accessor
	end segment.PageID

	state state
	err   error // sticky failure of the current traversal

	cur       slot[T]
	exhausted bool // cur is the synthetic entry after source exhaustion

	// window is a ring of at most depth pulled-but-unvisited entries.
	window  []slot[T]
	head    int
	count   int
	srcDone bool

	stats Stats
}

// New creates an iterator that keeps up to queueDepth read-ahead requests
// outstanding. A queueDepth of 0 fetches every page synchronously.
func New[T any](queueDepth int, opts ...Option) (*Iter[T], error) {
	if queueDepth < 0 {
		return nil, fmt.Errorf("%w: negative queue depth %d", ErrUsage, queueDepth)
	}

	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	return &Iter[T]{
		depth:  queueDepth,
		logger: o.logger,
		end:    segment.NullPageID,
		window: make([]slot[T], queueDepth),
	}, nil
}

// QueueDepth returns the window capacity.
func (it *Iter[T]) QueueDepth() int {
	return it.depth
}

// Outstanding returns the number of read-ahead requests currently held.
func (it *Iter[T]) Outstanding() int {
	n := 0
	for i := 0; i < it.count; i++ {
		if r := it.window[(it.head+i)%it.depth].req; r != nil && !r.Rejected() {
			n++
		}
	}
	return n
}

// Stats returns the counters of the current traversal.
func (it *Iter[T]) Stats() Stats {
	return it.stats
}

// SetSource binds the entry source. It fails while a range is mapped.
func (it *Iter[T]) SetSource(src Source[T]) error {
	if it.state == statePositioned {
		return fmt.Errorf("%w: source set after range was mapped", ErrUsage)
	}
	if src == nil {
		return fmt.Errorf("%w: nil source", ErrUsage)
	}
	it.src = src
	return nil
}

// MapRange starts a traversal over acc. after is forwarded to the source as
// its resume point; end is the terminal page, or segment.NullPageID for an
// unbounded traversal. On return the cursor is on the first entry and the
// window holds up to queueDepth entries beyond it.
func (it *Iter[T]) MapRange(ctx context.Context, acc *segment.Accessor, after, end segment.PageID) error {
	if it.state == statePositioned {
		return fmt.Errorf("%w: range already mapped", ErrUsage)
	}
	if it.src == nil {
		return fmt.Errorf("%w: no source set", ErrUsage)
	}
	if err := acc.Validate(); err != nil {
		return err
	}

	it.acc = acc
	it.end = end
	it.err = nil
	it.head, it.count = 0, 0
	it.srcDone, it.exhausted = false, false
	it.stats = Stats{}
	it.state = statePositioned

	// A rejection forced during an earlier traversal and never consumed does
	// not carry over.
	it.src.TakeRejected()

	if err := it.src.Start(ctx, acc, after); err != nil {
		return it.fail(fmt.Errorf("start source: %w", err))
	}
	if err := it.fill(ctx); err != nil {
		return it.fail(err)
	}
	if err := it.step(ctx); err != nil {
		return it.fail(err)
	}
	if err := it.fill(ctx); err != nil {
		return it.fail(err)
	}
	return nil
}

// Current returns the entry under the cursor. It never blocks.
func (it *Iter[T]) Current() (Entry[T], error) {
	if err := it.checkPositioned("current"); err != nil {
		return Entry[T]{}, err
	}
	return it.cur.entry, nil
}

// Data returns the contents of the current page, or nil on a terminal entry.
func (it *Iter[T]) Data() ([]byte, error) {
	if err := it.checkPositioned("data"); err != nil {
		return nil, err
	}
	if it.cur.req == nil {
		return nil, nil
	}
	return it.cur.req.Data(), nil
}

// AtEnd reports whether the cursor is on the end page or the source is
// exhausted.
func (it *Iter[T]) AtEnd() bool {
	if it.state != statePositioned || it.err != nil {
		return false
	}
	return it.exhausted || it.isTerminal(it.cur.entry.PageID)
}

// Advance moves the cursor to the next entry, waiting for its read-ahead or
// fetching it synchronously, then tops the window back up.
func (it *Iter[T]) Advance(ctx context.Context) error {
	if err := it.checkPositioned("advance"); err != nil {
		return err
	}
	if it.AtEnd() {
		return fmt.Errorf("%w: advance past terminal position %s", ErrUsage, it.cur.entry.PageID)
	}

	it.cur.release()
	if err := it.step(ctx); err != nil {
		return it.fail(err)
	}
	if err := it.fill(ctx); err != nil {
		return it.fail(err)
	}
	return nil
}

// ForcePrefetchReject makes the next settled read-ahead behave as rejected.
// It has no effect unless a source is bound and the iterator is not torn down.
func (it *Iter[T]) ForcePrefetchReject() {
	if it.src == nil || it.state == stateSingular {
		return
	}
	it.src.ForceNextRejected()
}

// MakeSingular releases every request and pin the iterator holds and detaches
// it from the accessor. The source stays bound so the iterator can be mapped
// again. MakeSingular is idempotent.
func (it *Iter[T]) MakeSingular() {
	if it.state == stateSingular {
		return
	}

	released := 0
	if it.cur.req != nil {
		released++
	}
	it.cur.release()
	it.cur = slot[T]{}

	for it.count > 0 {
		s := it.pop()
		if s.req != nil {
			released++
		}
		s.release()
	}

	if it.state == statePositioned {
		it.logger.Debug("iterator torn down",
			"entries", it.stats.Entries,
			"released", released,
		)
	}

	it.acc = nil
	it.err = nil
	it.exhausted = false
	it.srcDone = true
	it.state = stateSingular
}

func (it *Iter[T]) checkPositioned(op string) error {
	if it.state != statePositioned {
		return fmt.Errorf("%w: %s on %s iterator", ErrUsage, op, it.state)
	}
	return it.err
}

func (it *Iter[T]) fail(err error) error {
	it.err = err
	return err
}

func (it *Iter[T]) isTerminal(id segment.PageID) bool {
	return id == it.end || id == segment.NullPageID
}

// step makes the next entry current.
func (it *Iter[T]) step(ctx context.Context) error {
	var next slot[T]
	if it.count > 0 {
		next = it.pop()
	} else {
		s, ok, err := it.pull(ctx)
		if err != nil {
			return err
		}
		if !ok {
			it.cur = slot[T]{entry: Entry[T]{PageID: segment.NullPageID}}
			it.exhausted = true
			return nil
		}
		next = s
	}

	if err := it.settle(ctx, &next); err != nil {
		next.release()
		return err
	}
	it.cur = next
	it.stats.Entries++
	return nil
}

// fill tops the window up to depth, stopping at a terminal entry or source
// exhaustion.
func (it *Iter[T]) fill(ctx context.Context) error {
	for it.count < it.depth {
		s, ok, err := it.pull(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if !it.isTerminal(s.entry.PageID) {
			s.req = it.acc.Cache.Prefetch(it.block(s.entry.PageID))
			it.stats.Prefetches++
		}
		it.push(s)
	}
	return nil
}

// pull takes the next entry from the source. A terminal entry ends pulling.
func (it *Iter[T]) pull(ctx context.Context) (slot[T], bool, error) {
	if it.srcDone {
		return slot[T]{}, false, nil
	}
	e, ok, err := it.src.Next(ctx)
	if err != nil {
		return slot[T]{}, false, fmt.Errorf("source: %w", err)
	}
	if !ok {
		it.srcDone = true
		return slot[T]{}, false, nil
	}
	if it.isTerminal(e.PageID) {
		it.srcDone = true
	}
	return slot[T]{entry: e}, true, nil
}

// settle makes the page of s resident and pinned. Rejected read-ahead falls
// back to a synchronous fetch; device errors are returned unchanged.
func (it *Iter[T]) settle(ctx context.Context, s *slot[T]) error {
	if it.isTerminal(s.entry.PageID) {
		return nil
	}

	if s.req != nil && it.src.TakeRejected() {
		it.stats.ForcedRejects++
		it.logger.Debug("prefetch rejected by source", "page", s.entry.PageID.String())
		s.release()
	}

	if s.req != nil {
		err := s.req.Wait(ctx)
		if err == nil {
			return nil
		}
		s.release()
		if !errors.Is(err, cache.ErrPrefetchRejected) {
			return fmt.Errorf("read %s: %w", s.entry.PageID, err)
		}
		it.stats.Rejections++
		it.logger.Debug("prefetch rejected by cache", "page", s.entry.PageID.String())
	}

	req, err := it.acc.Cache.Fetch(ctx, it.block(s.entry.PageID))
	if err != nil {
		return fmt.Errorf("read %s: %w", s.entry.PageID, err)
	}
	s.req = req
	it.stats.SyncFetches++
	return nil
}

func (it *Iter[T]) block(id segment.PageID) cache.BlockID {
	return it.acc.Segment.BlockID(id)
}

func (it *Iter[T]) push(s slot[T]) {
	it.window[(it.head+it.count)%it.depth] = s
	it.count++
	if n := it.Outstanding(); n > it.stats.MaxOutstanding {
		it.stats.MaxOutstanding = n
	}
}

func (it *Iter[T]) pop() slot[T] {
	s := it.window[it.head]
	it.window[it.head] = slot[T]{}
	it.head = (it.head + 1) % it.depth
	it.count--
	return s
}
