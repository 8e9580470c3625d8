package pagechain

import (
	"errors"
	"fmt"

	"github.com/hupe1980/pagechain/blobstore"
	"github.com/hupe1980/pagechain/cache"
	"github.com/hupe1980/pagechain/device"
	"github.com/hupe1980/pagechain/internal/pageframe"
	"github.com/hupe1980/pagechain/segment"
)

var (
	// ErrUsage is returned for calls the current state does not allow.
	ErrUsage = segment.ErrUsage

	// ErrCorrupt is returned when stored data fails validation.
	ErrCorrupt = errors.New("pagechain: corrupt data")

	// ErrNotFound is returned when a segment blob does not exist.
	ErrNotFound = errors.New("pagechain: not found")

	// ErrClosed is returned for operations on a closed DB.
	ErrClosed = errors.New("pagechain: closed")
)

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Already a root sentinel.
	if errors.Is(err, ErrCorrupt) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrClosed) {
		return err
	}

	if errors.Is(err, blobstore.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, device.ErrCorrupt) ||
		errors.Is(err, device.ErrIncompatibleFormat) ||
		errors.Is(err, pageframe.ErrCorrupt) ||
		errors.Is(err, pageframe.ErrChecksum) {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if errors.Is(err, cache.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	return err
}
