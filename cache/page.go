package cache

import (
	"container/list"
	"sync/atomic"
)

// frame is a cache slot for one page. All fields except loaded are guarded
// by Cache.mu; data and err are immutable once loaded is closed.
type frame struct {
	id     BlockID
	data   []byte
	err    error
	loaded chan struct{}

	shared    int
	exclusive bool
	wake      chan struct{} // closed and replaced whenever the pin count drops to zero

	elem    *list.Element
	charged int64
}

func newFrame(id BlockID) *frame {
	return &frame{
		id:     id,
		loaded: make(chan struct{}),
		wake:   make(chan struct{}),
	}
}

func (f *frame) isLoaded() bool {
	select {
	case <-f.loaded:
		return true
	default:
		return false
	}
}

func (f *frame) isReady() bool {
	return f.isLoaded() && f.err == nil
}

func (f *frame) pinned() bool {
	return f.exclusive || f.shared > 0
}

func (f *frame) canPin(mode LockMode) bool {
	if mode == LockExclusive {
		return !f.pinned()
	}
	return !f.exclusive
}

func (f *frame) pin(mode LockMode) {
	if mode == LockExclusive {
		f.exclusive = true
		return
	}
	f.shared++
}

func (f *frame) unpin(mode LockMode) {
	if mode == LockExclusive {
		f.exclusive = false
	} else if f.shared > 0 {
		f.shared--
	}
	if !f.pinned() {
		close(f.wake)
		f.wake = make(chan struct{})
	}
}

// Page is a pinned, loaded page. The pin is held until Release.
type Page struct {
	c        *Cache
	f        *frame
	mode     LockMode
	released atomic.Bool
}

// ID returns the block id of the page.
func (p *Page) ID() BlockID {
	return p.f.id
}

// Mode returns the pin mode.
func (p *Page) Mode() LockMode {
	return p.mode
}

// Data returns the page contents. The slice must not be modified under a
// shared pin and must not be used after Release.
func (p *Page) Data() []byte {
	return p.f.data
}

// Release drops the pin. It is safe to call more than once.
func (p *Page) Release() {
	if p == nil || !p.released.CompareAndSwap(false, true) {
		return
	}
	p.c.unpin(p.f, p.mode)
}
