package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/pagechain/internal/resource"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrPrefetchRejected is returned by Request.Wait when a read-ahead
	// request could not be honoured. It is recoverable: fetch synchronously.
	ErrPrefetchRejected = errors.New("cache: prefetch rejected")

	// ErrClosed is returned when the cache has been closed.
	ErrClosed = errors.New("cache: closed")
)

// BlockID identifies a page slot on a Device.
type BlockID uint64

// LockMode selects how a frame is pinned.
type LockMode uint8

const (
	// LockShared allows any number of concurrent shared holders.
	LockShared LockMode = iota
	// LockExclusive excludes every other holder.
	LockExclusive
)

func (m LockMode) String() string {
	if m == LockExclusive {
		return "exclusive"
	}
	return "shared"
}

// Device reads pages by block id.
type Device interface {
	// ReadPage returns the contents of a page. The returned slice is owned
	// by the cache afterwards.
	ReadPage(ctx context.Context, id BlockID) ([]byte, error)
	// PageSize returns the logical page size in bytes.
	PageSize() int
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Prefetches  int64
	Rejections  int64
	Evictions   int64
	Resident    int
	Pinned      int
	MemoryBytes int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger for the cache.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithResourceController sets the memory/IO budget shared with other caches.
func WithResourceController(rc *resource.Controller) Option {
	return func(c *Cache) {
		c.rc = rc
	}
}

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(c *Cache) {
		if o != nil {
			c.observer = o
		}
	}
}

// Cache is a pin-aware page cache over a Device. It is safe for concurrent use.
type Cache struct {
	dev      Device
	params   Params
	rc       *resource.Controller
	logger   *slog.Logger
	observer Observer

	mu     sync.Mutex
	frames map[BlockID]*frame
	lru    *list.List // unpinned ready frames, most recent at front
	closed bool

	prefetchSem *semaphore.Weighted // nil when read-ahead is disabled
	inflight    sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc

	hits       atomic.Int64
	misses     atomic.Int64
	prefetches atomic.Int64
	rejections atomic.Int64
	evictions  atomic.Int64
}

// New creates a cache over dev.
func New(dev Device, params Params, opts ...Option) (*Cache, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: nil device", ErrInvalidParams)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		dev:      dev,
		params:   params,
		logger:   slog.New(slog.DiscardHandler),
		observer: NoopObserver{},
		frames:   make(map[BlockID]*frame),
		lru:      list.New(),
		ctx:      ctx,
		cancel:   cancel,
	}
	if params.PrefetchPagesMax > 0 {
		c.prefetchSem = semaphore.NewWeighted(int64(params.PrefetchPagesMax))
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Params returns the parameters the cache was created with.
func (c *Cache) Params() Params {
	return c.params
}

// PageSize returns the device page size.
func (c *Cache) PageSize() int {
	return c.dev.PageSize()
}

// Lock pins the page in the given mode, reading it synchronously on a miss.
// It blocks while a conflicting pin is held or the frame is still loading.
func (c *Cache) Lock(ctx context.Context, id BlockID, mode LockMode) (*Page, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}

		f, ok := c.frames[id]
		if !ok {
			f = c.admitLocked(id)
			f.pin(mode)
			c.chargeLocked(f)
			c.misses.Add(1)
			c.observer.OnMiss()
			c.mu.Unlock()

			if err := c.load(ctx, f, true); err != nil {
				c.unpin(f, mode)
				return nil, err
			}
			return &Page{c: c, f: f, mode: mode}, nil
		}

		if !f.isLoaded() {
			loaded := f.loaded
			c.mu.Unlock()
			if err := wait(ctx, loaded); err != nil {
				return nil, err
			}
			continue
		}

		if f.canPin(mode) {
			c.pinLocked(f, mode)
			c.hits.Add(1)
			c.observer.OnHit()
			c.mu.Unlock()
			return &Page{c: c, f: f, mode: mode}, nil
		}

		wake := f.wake
		c.mu.Unlock()
		if err := wait(ctx, wake); err != nil {
			return nil, err
		}
	}
}

// Fetch synchronously reads and shared-pins a page and returns it as a
// completed request. It is the fallback path for rejected read-ahead.
func (c *Cache) Fetch(ctx context.Context, id BlockID) (*Request, error) {
	p, err := c.Lock(ctx, id, LockShared)
	if err != nil {
		return nil, err
	}
	return &Request{id: id, page: p}, nil
}

// Warm loads the given pages into the cache, reading up to
// PrefetchPagesMax (at least one) pages in parallel. Pages are not left pinned.
func (c *Cache) Warm(ctx context.Context, ids []BlockID) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.params.PrefetchPagesMax, 1))

	for _, id := range ids {
		g.Go(func() error {
			p, err := c.Lock(ctx, id, LockShared)
			if err != nil {
				return err
			}
			p.Release()
			return nil
		})
	}

	return g.Wait()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Prefetches:  c.prefetches.Load(),
		Rejections:  c.rejections.Load(),
		Evictions:   c.evictions.Load(),
		Resident:    len(c.frames),
		MemoryBytes: c.rc.MemoryUsage(),
	}
	for _, f := range c.frames {
		if f.pinned() {
			s.Pinned++
		}
	}
	return s
}

// Close stops background reads and drops every frame. Pins still held
// become no-ops on release. Close is idempotent.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancel()
	c.mu.Unlock()

	c.inflight.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, f := range c.frames {
		c.rc.ReleaseMemory(f.charged)
		f.charged = 0
		delete(c.frames, id)
	}
	c.lru.Init()
	return nil
}

// admitLocked registers a new loading frame, evicting to stay within capacity
// when possible.
func (c *Cache) admitLocked(id BlockID) *frame {
	c.makeRoomLocked()
	f := newFrame(id)
	c.frames[id] = f
	return f
}

// makeRoomLocked evicts until a new frame fits. It reports false when every
// resident frame is pinned or loading.
func (c *Cache) makeRoomLocked() bool {
	for len(c.frames) >= c.params.CapacityPages {
		if !c.evictOneLocked() {
			return false
		}
	}
	return true
}

func (c *Cache) evictOverflowLocked() {
	for len(c.frames) > c.params.CapacityPages {
		if !c.evictOneLocked() {
			return
		}
	}
}

func (c *Cache) evictOneLocked() bool {
	e := c.lru.Back()
	if e == nil {
		return false
	}
	f := e.Value.(*frame)
	c.lru.Remove(e)
	f.elem = nil
	delete(c.frames, f.id)
	c.rc.ReleaseMemory(f.charged)
	f.charged = 0
	c.evictions.Add(1)
	c.observer.OnEvict()
	return true
}

// chargeLocked reserves memory for a synchronously loaded frame. A frame the
// budget refuses is loaded uncharged.
func (c *Cache) chargeLocked(f *frame) {
	size := int64(c.dev.PageSize())
	if c.rc.TryAcquireMemory(size) {
		f.charged = size
	}
}

func (c *Cache) pinLocked(f *frame, mode LockMode) {
	if f.elem != nil {
		c.lru.Remove(f.elem)
		f.elem = nil
	}
	f.pin(mode)
}

func (c *Cache) unpin(f *frame, mode LockMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unpinLocked(f, mode)
}

func (c *Cache) unpinLocked(f *frame, mode LockMode) {
	f.unpin(mode)
	if f.pinned() {
		return
	}
	c.retireLocked(f)
}

// retireLocked moves an unpinned ready frame onto the LRU list.
func (c *Cache) retireLocked(f *frame) {
	if c.frames[f.id] != f || !f.isReady() || f.elem != nil {
		return
	}
	f.elem = c.lru.PushFront(f)
	c.evictOverflowLocked()
}

// load reads the frame's page from the device and publishes the result.
// A failed frame is removed so that the next access retries the read.
func (c *Cache) load(ctx context.Context, f *frame, foreground bool) error {
	size := c.dev.PageSize()
	start := time.Now()

	var (
		data []byte
		err  error
	)
	if foreground {
		err = c.rc.AcquireIO(ctx, size)
	}
	if err == nil {
		data, err = c.dev.ReadPage(ctx, f.id)
	}
	c.observer.OnRead(time.Since(start), len(data), err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil && c.closed && errors.Is(err, context.Canceled) {
		err = ErrClosed
	}
	f.data, f.err = data, err
	close(f.loaded)

	if err != nil {
		c.logger.Warn("page read failed", "block", uint64(f.id), "error", err)
		if c.frames[f.id] == f {
			delete(c.frames, f.id)
		}
		c.rc.ReleaseMemory(f.charged)
		f.charged = 0
		return f.err
	}

	if !f.pinned() {
		c.retireLocked(f)
	}
	return nil
}

func wait(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
