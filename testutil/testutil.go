package testutil

import (
	"context"
	"encoding/binary"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/pagechain/cache"
	"github.com/hupe1980/pagechain/segment"
)

// ErrInjected is the default error returned by FaultyDevice.
var ErrInjected = errors.New("injected fault error")

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Page returns a page of size bytes. Half of every page is random, the rest
// repeats its first byte, so the page compresses but not to nothing.
func (r *RNG) Page(size int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := make([]byte, size)
	half := size / 2
	_, _ = r.rand.Read(p[:half])
	for i := half; i < size; i++ {
		p[i] = p[0]
	}
	return p
}

// MemDevice serves pages from memory. Pages that were never Set read back as
// StampedPage(id).
type MemDevice struct {
	pageSize int
	latency  time.Duration

	mu    sync.RWMutex
	pages map[cache.BlockID][]byte

	reads atomic.Int64
}

// NewMemDevice creates a device with the given page size.
func NewMemDevice(pageSize int) *MemDevice {
	return &MemDevice{pageSize: pageSize, pages: make(map[cache.BlockID][]byte)}
}

// WithLatency makes every read sleep for d, to keep prefetches in flight.
func (d *MemDevice) WithLatency(latency time.Duration) *MemDevice {
	d.latency = latency
	return d
}

// Set stores the contents of a page.
func (d *MemDevice) Set(id cache.BlockID, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pages[id] = append([]byte(nil), data...)
}

// Reads returns the number of ReadPage calls.
func (d *MemDevice) Reads() int64 {
	return d.reads.Load()
}

// ReadPage implements cache.Device.
func (d *MemDevice) ReadPage(ctx context.Context, id cache.BlockID) ([]byte, error) {
	d.reads.Add(1)
	if d.latency > 0 {
		select {
		case <-time.After(d.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.RLock()
	p, ok := d.pages[id]
	d.mu.RUnlock()
	if ok {
		return append([]byte(nil), p...), nil
	}
	return StampedPage(id, d.pageSize), nil
}

// PageSize implements cache.Device.
func (d *MemDevice) PageSize() int {
	return d.pageSize
}

// StampedPage returns a page whose first 8 bytes hold id.
func StampedPage(id cache.BlockID, size int) []byte {
	p := make([]byte, max(size, 8))
	binary.LittleEndian.PutUint64(p, uint64(id))
	return p[:size]
}

// Stamp returns the id stored by StampedPage.
func Stamp(p []byte) cache.BlockID {
	if len(p) < 8 {
		return 0
	}
	return cache.BlockID(binary.LittleEndian.Uint64(p))
}

// Fault defines specific failure behavior.
type Fault struct {
	FailAfterReads int64 // Fail every read after this many succeeded. -1 to disable.
	Err            error
}

// FaultyDevice is a cache.Device wrapper that can inject read errors.
type FaultyDevice struct {
	Device  cache.Device
	mu      sync.Mutex
	rules   map[cache.BlockID]Fault
	Default Fault

	reads int64
}

// NewFaultyDevice wraps dev.
func NewFaultyDevice(dev cache.Device) *FaultyDevice {
	return &FaultyDevice{
		Device:  dev,
		rules:   make(map[cache.BlockID]Fault),
		Default: Fault{FailAfterReads: -1},
	}
}

// FailBlock makes every read of id fail with err (ErrInjected if nil).
func (f *FaultyDevice) FailBlock(id cache.BlockID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[id] = Fault{FailAfterReads: 0, Err: err}
}

// Heal removes every rule and the default fault.
func (f *FaultyDevice) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = make(map[cache.BlockID]Fault)
	f.Default = Fault{FailAfterReads: -1}
}

// ReadPage implements cache.Device.
func (f *FaultyDevice) ReadPage(ctx context.Context, id cache.BlockID) ([]byte, error) {
	f.mu.Lock()
	fault, ok := f.rules[id]
	if !ok {
		fault = f.Default
	}
	failing := fault.FailAfterReads >= 0 && f.reads >= fault.FailAfterReads
	if !failing {
		f.reads++
	}
	f.mu.Unlock()

	if failing {
		if fault.Err != nil {
			return nil, fault.Err
		}
		return nil, ErrInjected
	}
	return f.Device.ReadPage(ctx, id)
}

// PageSize implements cache.Device.
func (f *FaultyDevice) PageSize() int {
	return f.Device.PageSize()
}

// NewAccessor returns an accessor over a linear segment of n pages backed by
// dev. The cache is closed when the test ends.
func NewAccessor(t testing.TB, n uint64, dev cache.Device, params cache.Params, opts ...cache.Option) *segment.Accessor {
	t.Helper()

	seg, err := segment.NewLinearSegment(n)
	if err != nil {
		t.Fatalf("new segment: %v", err)
	}
	c, err := cache.New(dev, params, opts...)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	return &segment.Accessor{Segment: seg, Cache: c}
}
