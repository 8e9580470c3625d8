package cache

import (
	"errors"
	"fmt"
)

const (
	// DefaultCapacityPages is the default number of resident frames.
	DefaultCapacityPages = 256

	// DefaultPrefetchPagesMax is the default number of read-ahead requests
	// that may be in flight at once.
	DefaultPrefetchPagesMax = 12
)

// ErrInvalidParams is returned by Params.Validate.
var ErrInvalidParams = errors.New("cache: invalid params")

// Params configures a Cache.
type Params struct {
	// CapacityPages bounds the number of resident frames. Pinned frames may
	// push the cache over capacity temporarily; the excess is evicted as soon
	// as pins drop.
	CapacityPages int

	// PrefetchPagesMax bounds concurrently outstanding read-ahead reads.
	// 0 disables read-ahead: every Prefetch is rejected.
	PrefetchPagesMax int
}

// DefaultParams returns the default cache parameters.
func DefaultParams() Params {
	return Params{
		CapacityPages:    DefaultCapacityPages,
		PrefetchPagesMax: DefaultPrefetchPagesMax,
	}
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if p.CapacityPages <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidParams, p.CapacityPages)
	}
	if p.PrefetchPagesMax < 0 {
		return fmt.Errorf("%w: prefetch pages max must not be negative, got %d", ErrInvalidParams, p.PrefetchPagesMax)
	}
	return nil
}
