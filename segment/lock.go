package segment

import (
	"context"
	"fmt"

	"github.com/hupe1980/pagechain/cache"
)

// PageLock holds at most one page pin. It is not safe for concurrent use.
//
// Pins taken through a PageLock are independent of read-ahead pins held by
// an iterator on the same page; shared pins from both may coexist.
type PageLock struct {
	acc  *Accessor
	id   PageID
	page *cache.Page
}

// NewPageLock creates an unlocked handle bound to acc.
func NewPageLock(acc *Accessor) *PageLock {
	return &PageLock{acc: acc, id: NullPageID}
}

// LockShared pins id in shared mode, waiting for the page to be resident.
func (l *PageLock) LockShared(ctx context.Context, id PageID) error {
	return l.lock(ctx, id, cache.LockShared)
}

// LockExclusive pins id in exclusive mode.
func (l *PageLock) LockExclusive(ctx context.Context, id PageID) error {
	return l.lock(ctx, id, cache.LockExclusive)
}

func (l *PageLock) lock(ctx context.Context, id PageID, mode cache.LockMode) error {
	if l.page != nil {
		return fmt.Errorf("%w: page lock already holds %s", ErrUsage, l.id)
	}
	if id == NullPageID {
		return fmt.Errorf("%w: cannot lock the null page", ErrUsage)
	}
	if err := l.acc.Validate(); err != nil {
		return err
	}

	page, err := l.acc.Cache.Lock(ctx, l.acc.Segment.BlockID(id), mode)
	if err != nil {
		return fmt.Errorf("lock %s: %w", id, err)
	}
	l.id, l.page = id, page
	return nil
}

// Unlock releases the held pin. It is a no-op when nothing is held.
func (l *PageLock) Unlock() {
	if l.page == nil {
		return
	}
	l.page.Release()
	l.id, l.page = NullPageID, nil
}

// IsLocked reports whether a pin is held.
func (l *PageLock) IsLocked() bool {
	return l.page != nil
}

// PageID returns the locked page, or NullPageID.
func (l *PageLock) PageID() PageID {
	return l.id
}

// Data returns the locked page's contents, or nil.
func (l *PageLock) Data() []byte {
	if l.page == nil {
		return nil
	}
	return l.page.Data()
}
