package pagechain

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/pagechain/cache"
)

// MetricsCollector receives cache events and traversal summaries.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	cache.Observer

	// RecordWalk is called after each Walk. entries is the number of entries
	// visited, err is nil if successful.
	RecordWalk(entries int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct {
	cache.NoopObserver
}

func (NoopMetricsCollector) RecordWalk(int, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	Hits       atomic.Int64
	Misses     atomic.Int64
	Prefetches atomic.Int64
	Rejections atomic.Int64
	Evictions  atomic.Int64

	Reads          atomic.Int64
	ReadErrors     atomic.Int64
	ReadBytes      atomic.Int64
	ReadTotalNanos atomic.Int64

	Walks          atomic.Int64
	WalkErrors     atomic.Int64
	WalkEntries    atomic.Int64
	WalkTotalNanos atomic.Int64
}

// OnHit implements cache.Observer.
func (b *BasicMetricsCollector) OnHit() { b.Hits.Add(1) }

// OnMiss implements cache.Observer.
func (b *BasicMetricsCollector) OnMiss() { b.Misses.Add(1) }

// OnPrefetch implements cache.Observer.
func (b *BasicMetricsCollector) OnPrefetch() { b.Prefetches.Add(1) }

// OnReject implements cache.Observer.
func (b *BasicMetricsCollector) OnReject(string) { b.Rejections.Add(1) }

// OnEvict implements cache.Observer.
func (b *BasicMetricsCollector) OnEvict() { b.Evictions.Add(1) }

// OnRead implements cache.Observer.
func (b *BasicMetricsCollector) OnRead(duration time.Duration, bytes int, err error) {
	b.Reads.Add(1)
	b.ReadTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ReadErrors.Add(1)
		return
	}
	b.ReadBytes.Add(int64(bytes))
}

// RecordWalk implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWalk(entries int, duration time.Duration, err error) {
	b.Walks.Add(1)
	b.WalkEntries.Add(int64(entries))
	b.WalkTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.WalkErrors.Add(1)
	}
}

// MetricsStats is a snapshot of BasicMetricsCollector.
type MetricsStats struct {
	Hits         int64
	Misses       int64
	Prefetches   int64
	Rejections   int64
	Evictions    int64
	Reads        int64
	ReadErrors   int64
	ReadBytes    int64
	ReadAvgNanos int64
	Walks        int64
	WalkErrors   int64
	WalkEntries  int64
	WalkAvgNanos int64
}

// GetStats returns a snapshot of the current metrics.
func (b *BasicMetricsCollector) GetStats() MetricsStats {
	s := MetricsStats{
		Hits:        b.Hits.Load(),
		Misses:      b.Misses.Load(),
		Prefetches:  b.Prefetches.Load(),
		Rejections:  b.Rejections.Load(),
		Evictions:   b.Evictions.Load(),
		Reads:       b.Reads.Load(),
		ReadErrors:  b.ReadErrors.Load(),
		ReadBytes:   b.ReadBytes.Load(),
		Walks:       b.Walks.Load(),
		WalkErrors:  b.WalkErrors.Load(),
		WalkEntries: b.WalkEntries.Load(),
	}
	if s.Reads > 0 {
		s.ReadAvgNanos = b.ReadTotalNanos.Load() / s.Reads
	}
	if s.Walks > 0 {
		s.WalkAvgNanos = b.WalkTotalNanos.Load() / s.Walks
	}
	return s
}
