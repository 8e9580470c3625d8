package pagechain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/pagechain/blobstore"
	"github.com/hupe1980/pagechain/cache"
	"github.com/hupe1980/pagechain/device"
	"github.com/hupe1980/pagechain/internal/resource"
	"github.com/hupe1980/pagechain/pageiter"
	"github.com/hupe1980/pagechain/segment"
)

// Create writes a segment holding pages, in order, to store under name.
// An existing blob with the same name is replaced.
func Create(ctx context.Context, store blobstore.BlobStore, name string, pages [][]byte, optFns ...Option) (device.Info, error) {
	o := applyOptions(optFns)

	w, err := device.NewWriter(o.pageSize, o.codec)
	if err != nil {
		return device.Info{}, fmt.Errorf("%w: %w", ErrUsage, err)
	}
	for i, p := range pages {
		if _, err := w.Append(p); err != nil {
			return device.Info{}, fmt.Errorf("page %d: %w", i, err)
		}
	}

	data, err := w.Bytes(ctx)
	if err != nil {
		return device.Info{}, translateError(err)
	}
	if err := store.Put(ctx, name, data); err != nil {
		return device.Info{}, translateError(fmt.Errorf("put %s: %w", name, err))
	}

	o.logger.InfoContext(ctx, "segment created",
		"segment", name,
		"pages", len(pages),
		"codec", o.codec,
		"bytes", len(data),
	)

	return device.Info{
		PageSize: o.pageSize,
		SlotSize: device.SlotSize(o.pageSize),
		Codec:    o.codec,
		Slots:    uint64(len(pages)),
		Pages:    uint64(len(pages)),
		Size:     int64(len(data)),
	}, nil
}

// DB is an opened segment with its page cache.
type DB struct {
	name   string
	dev    *device.BlobDevice
	cache  *cache.Cache
	acc    *segment.Accessor
	opts   options
	logger *Logger

	mu     sync.Mutex
	closed bool
}

// Open opens the segment stored under name.
func Open(ctx context.Context, store blobstore.BlobStore, name string, optFns ...Option) (*DB, error) {
	o := applyOptions(optFns)
	logger := o.logger.WithSegment(name)

	db, err := open(ctx, store, name, o, logger)
	if err != nil {
		err = translateError(err)
		logger.LogOpen(ctx, name, 0, err)
		return nil, err
	}

	logger.LogOpen(ctx, name, db.dev.Segment().PageCount(), nil)
	return db, nil
}

func open(ctx context.Context, store blobstore.BlobStore, name string, o options, logger *Logger) (*DB, error) {
	if o.queueDepth < 0 {
		return nil, fmt.Errorf("%w: negative queue depth %d", ErrUsage, o.queueDepth)
	}
	if err := o.cacheParams.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUsage, err)
	}

	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	dev, err := device.Open(ctx, blob)
	if err != nil {
		_ = blob.Close()
		return nil, err
	}

	var rc *resource.Controller
	if o.memoryLimitBytes > 0 || o.ioLimitBytesPerSec > 0 {
		rc = resource.NewController(resource.Config{
			MemoryLimitBytes:   o.memoryLimitBytes,
			IOLimitBytesPerSec: o.ioLimitBytesPerSec,
		})
	}

	c, err := cache.New(dev, o.cacheParams,
		cache.WithLogger(logger.Logger),
		cache.WithResourceController(rc),
		cache.WithObserver(o.metricsCollector),
	)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}

	return &DB{
		name:   name,
		dev:    dev,
		cache:  c,
		acc:    &segment.Accessor{Segment: dev.Segment(), Cache: c},
		opts:   o,
		logger: logger,
	}, nil
}

// Name returns the blob name the DB was opened from.
func (db *DB) Name() string {
	return db.name
}

// Info returns the segment format details.
func (db *DB) Info() device.Info {
	return db.dev.Info()
}

// Segment returns the page chain.
func (db *DB) Segment() *segment.LinearSegment {
	return db.dev.Segment()
}

// Accessor returns the segment and cache pairing iterators and page locks
// operate on.
func (db *DB) Accessor() *segment.Accessor {
	return db.acc
}

// CacheStats returns a snapshot of the page cache counters.
func (db *DB) CacheStats() cache.Stats {
	return db.cache.Stats()
}

// Warm loads pages into the cache.
func (db *DB) Warm(ctx context.Context, ids ...segment.PageID) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	blocks := make([]cache.BlockID, 0, len(ids))
	for _, id := range ids {
		if id == segment.NullPageID {
			return fmt.Errorf("%w: cannot warm %s", ErrUsage, id)
		}
		blocks = append(blocks, db.acc.Segment.BlockID(id))
	}
	return translateError(db.cache.Warm(ctx, blocks))
}

// Close releases the cache and the underlying blob. Close is idempotent.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	return errors.Join(db.cache.Close(), db.dev.Close())
}

func (db *DB) checkOpen() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	return nil
}

// NewIterator creates an iterator using the DB's queue depth and logger.
// Bind a source and call MapRange with db.Accessor() to start it.
func NewIterator[T any](db *DB) (*pageiter.Iter[T], error) {
	return pageiter.New[T](db.opts.queueDepth, pageiter.WithLogger(db.logger.Logger))
}

// WalkResult summarizes a Walk.
type WalkResult struct {
	Entries     int
	SyncFetches int64
	Rejections  int64
	Duration    time.Duration
}

// ErrStopWalk may be returned by a Walk callback to end the traversal early
// without error.
var ErrStopWalk = errors.New("pagechain: stop walk")

// Walk drives an iterator over src from after to end and calls fn for every
// entry, including the terminal one. data is nil for terminal entries and
// must not be retained after fn returns. The iterator is torn down before
// Walk returns.
func Walk[T any](ctx context.Context, db *DB, src pageiter.Source[T], after, end segment.PageID, fn func(e pageiter.Entry[T], data []byte) error) (WalkResult, error) {
	start := time.Now()
	res, err := walk(ctx, db, src, after, end, fn)
	res.Duration = time.Since(start)
	err = translateError(err)

	db.opts.metricsCollector.RecordWalk(res.Entries, res.Duration, err)
	db.logger.LogWalk(ctx, after, end, res, err)
	return res, err
}

func walk[T any](ctx context.Context, db *DB, src pageiter.Source[T], after, end segment.PageID, fn func(pageiter.Entry[T], []byte) error) (res WalkResult, err error) {
	if err := db.checkOpen(); err != nil {
		return res, err
	}

	it, err := NewIterator[T](db)
	if err != nil {
		return res, err
	}
	defer it.MakeSingular()

	defer func() {
		st := it.Stats()
		res.SyncFetches = st.SyncFetches
		res.Rejections = st.Rejections
	}()

	if err := it.SetSource(src); err != nil {
		return res, err
	}
	if err := it.MapRange(ctx, db.acc, after, end); err != nil {
		return res, err
	}

	for {
		e, err := it.Current()
		if err != nil {
			return res, err
		}
		data, err := it.Data()
		if err != nil {
			return res, err
		}

		res.Entries++
		if err := fn(e, data); err != nil {
			if errors.Is(err, ErrStopWalk) {
				return res, nil
			}
			return res, err
		}

		if it.AtEnd() {
			return res, nil
		}
		if err := it.Advance(ctx); err != nil {
			return res, err
		}
	}
}

// WalkPages visits the pages of the chain after after and before end, in
// order. after == segment.NullPageID starts at the first page;
// end == segment.NullPageID runs to the end of the chain.
func (db *DB) WalkPages(ctx context.Context, after, end segment.PageID, fn func(id segment.PageID, data []byte) error) (WalkResult, error) {
	src := pageiter.NewChainSource(segment.FirstLinearPageID, func(segment.PageID, int) struct{} { return struct{}{} })
	return Walk(ctx, db, src, after, end, func(e pageiter.Entry[struct{}], data []byte) error {
		if e.PageID == segment.NullPageID || e.PageID == end {
			return nil
		}
		return fn(e.PageID, data)
	})
}
