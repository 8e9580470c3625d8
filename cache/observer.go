package cache

import "time"

// Observer receives cache events, e.g. to feed a metrics system.
// Callbacks may run while the cache holds its internal lock and must not
// call back into the cache.
type Observer interface {
	// OnHit is called when a lock or prefetch finds the frame resident or loading.
	OnHit()
	// OnMiss is called when a frame has to be read from the device.
	OnMiss()
	// OnPrefetch is called when a read-ahead read is scheduled.
	OnPrefetch()
	// OnReject is called when a prefetch is rejected.
	OnReject(reason string)
	// OnEvict is called when an unpinned frame is evicted.
	OnEvict()
	// OnRead is called after every device read.
	OnRead(duration time.Duration, bytes int, err error)
}

// NoopObserver discards all events.
type NoopObserver struct{}

func (NoopObserver) OnHit()                           {}
func (NoopObserver) OnMiss()                          {}
func (NoopObserver) OnPrefetch()                      {}
func (NoopObserver) OnReject(string)                  {}
func (NoopObserver) OnEvict()                         {}
func (NoopObserver) OnRead(time.Duration, int, error) {}
