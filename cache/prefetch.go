package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// Rejection reasons reported to the Observer.
const (
	RejectDisabled = "disabled"
	RejectClosed   = "closed"
	RejectLocked   = "locked"
	RejectFull     = "full"
	RejectBusy     = "busy"
	RejectIO       = "io"
	RejectMemory   = "memory"
)

// Request is an asynchronous read-ahead of one page. A non-rejected request
// holds a shared pin from the moment it is issued until Release.
type Request struct {
	id       BlockID
	page     *Page
	rejected bool
	released atomic.Bool
}

// ID returns the requested block id.
func (r *Request) ID() BlockID {
	return r.id
}

// Rejected reports whether the cache declined the request at issue time.
func (r *Request) Rejected() bool {
	return r.rejected
}

// Wait blocks until the page is loaded. It returns ErrPrefetchRejected for a
// rejected request and the device error for a failed read. A joined frame
// whose synchronous load was abandoned because another caller's context
// ended also reports ErrPrefetchRejected.
func (r *Request) Wait(ctx context.Context) error {
	if r.rejected {
		return ErrPrefetchRejected
	}
	if err := wait(ctx, r.page.f.loaded); err != nil {
		return err
	}
	err := r.page.f.err
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: load abandoned: %w", ErrPrefetchRejected, err)
	}
	return err
}

// Data returns the page contents once Wait has returned nil.
func (r *Request) Data() []byte {
	if r.rejected || !r.page.f.isLoaded() {
		return nil
	}
	return r.page.f.data
}

// Release drops the pin held by the request. It is safe to call more than
// once and on rejected requests.
func (r *Request) Release() {
	if r == nil || !r.released.CompareAndSwap(false, true) {
		return
	}
	if r.page != nil {
		r.page.Release()
	}
}

// Prefetch issues a read-ahead for id without blocking. Requests for pages
// that are resident or already loading join the existing frame. The cache
// rejects a request when read-ahead is disabled, the page is exclusively
// locked, no frame can be freed, PrefetchPagesMax reads are already in
// flight, or the resource controller refuses the IO or memory.
func (c *Cache) Prefetch(id BlockID) *Request {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.rejectLocked(id, RejectClosed)
	}

	if f, ok := c.frames[id]; ok {
		if f.exclusive {
			return c.rejectLocked(id, RejectLocked)
		}
		c.pinLocked(f, LockShared)
		c.hits.Add(1)
		c.observer.OnHit()
		return &Request{id: id, page: &Page{c: c, f: f, mode: LockShared}}
	}

	if c.prefetchSem == nil {
		return c.rejectLocked(id, RejectDisabled)
	}
	if !c.makeRoomLocked() {
		return c.rejectLocked(id, RejectFull)
	}
	if !c.prefetchSem.TryAcquire(1) {
		return c.rejectLocked(id, RejectBusy)
	}

	size := c.dev.PageSize()
	if !c.rc.TryAcquireIO(size) {
		c.prefetchSem.Release(1)
		return c.rejectLocked(id, RejectIO)
	}
	if !c.rc.TryAcquireMemory(int64(size)) {
		c.prefetchSem.Release(1)
		return c.rejectLocked(id, RejectMemory)
	}

	f := newFrame(id)
	f.charged = int64(size)
	f.pin(LockShared)
	c.frames[id] = f
	c.prefetches.Add(1)
	c.observer.OnPrefetch()

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer c.prefetchSem.Release(1)
		_ = c.load(c.ctx, f, false)
	}()

	return &Request{id: id, page: &Page{c: c, f: f, mode: LockShared}}
}

func (c *Cache) rejectLocked(id BlockID, reason string) *Request {
	c.rejections.Add(1)
	c.observer.OnReject(reason)
	c.logger.Debug("prefetch rejected", "block", uint64(id), "reason", reason)
	return &Request{id: id, rejected: true}
}
