package testutil

import (
	"context"
	"testing"

	"github.com/hupe1980/pagechain/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRNGPage(t *testing.T) {
	a := NewRNG(4711).Page(64)
	b := NewRNG(4711).Page(64)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.Equal(t, a[0], a[63])
}

func TestMemDevice(t *testing.T) {
	dev := NewMemDevice(16)
	ctx := context.Background()

	p, err := dev.ReadPage(ctx, 9)
	require.NoError(t, err)
	assert.Len(t, p, 16)
	assert.Equal(t, cache.BlockID(9), Stamp(p))

	dev.Set(9, []byte("hello"))
	p, err = dev.ReadPage(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), p)
	assert.Equal(t, int64(2), dev.Reads())
}

func TestFaultyDevice(t *testing.T) {
	f := NewFaultyDevice(NewMemDevice(8))
	ctx := context.Background()

	f.FailBlock(3, nil)
	_, err := f.ReadPage(ctx, 3)
	assert.ErrorIs(t, err, ErrInjected)

	_, err = f.ReadPage(ctx, 4)
	require.NoError(t, err)

	f.Default = Fault{FailAfterReads: 1}
	_, err = f.ReadPage(ctx, 5)
	assert.ErrorIs(t, err, ErrInjected)

	f.Heal()
	_, err = f.ReadPage(ctx, 3)
	require.NoError(t, err)
}

func TestNewAccessor(t *testing.T) {
	acc := NewAccessor(t, 4, NewMemDevice(8), cache.DefaultParams())
	require.NoError(t, acc.Validate())
	assert.Equal(t, uint64(4), acc.Segment.PageCount())
}
