package pagechain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/pagechain/blobstore"
	"github.com/hupe1980/pagechain/cache"
	"github.com/hupe1980/pagechain/device"
	"github.com/hupe1980/pagechain/internal/pageframe"
	"github.com/hupe1980/pagechain/pageiter"
)

func TestTranslateError(t *testing.T) {
	other := errors.New("other")

	tests := []struct {
		name string
		in   error
		want error
	}{
		{"not found", fmt.Errorf("open x: %w", blobstore.ErrNotFound), ErrNotFound},
		{"corrupt device", fmt.Errorf("%w: bad magic", device.ErrCorrupt), ErrCorrupt},
		{"incompatible", device.ErrIncompatibleFormat, ErrCorrupt},
		{"checksum", fmt.Errorf("read block 3: %w", pageframe.ErrChecksum), ErrCorrupt},
		{"cache closed", cache.ErrClosed, ErrClosed},
		{"usage", fmt.Errorf("%w: advance past end", pageiter.ErrUsage), ErrUsage},
		{"passthrough", other, other},
	}

	assert.NoError(t, translateError(nil))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateError(tt.in)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.in)
		})
	}
}

func TestApplyOptions_NilValues(t *testing.T) {
	o := applyOptions([]Option{nil, WithLogger(nil), WithMetricsCollector(nil)})

	assert.NotNil(t, o.logger)
	assert.IsType(t, NoopMetricsCollector{}, o.metricsCollector)
	assert.Equal(t, DefaultQueueDepth, o.queueDepth)
	assert.Equal(t, cache.DefaultParams(), o.cacheParams)
}
