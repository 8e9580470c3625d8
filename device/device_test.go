package device_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pagechain/blobstore"
	"github.com/hupe1980/pagechain/cache"
	"github.com/hupe1980/pagechain/device"
	"github.com/hupe1980/pagechain/internal/pageframe"
	"github.com/hupe1980/pagechain/segment"
	"github.com/hupe1980/pagechain/testutil"
)

const pageSize = 512

func buildBlob(t *testing.T, codec pageframe.Codec, n int, freed ...segment.PageID) ([]byte, [][]byte) {
	t.Helper()

	w, err := device.NewWriter(pageSize, codec)
	require.NoError(t, err)

	rng := testutil.NewRNG(42)
	pages := make([][]byte, n)
	for i := range pages {
		// Half random, half repetitive so compressing codecs take both paths.
		if i%2 == 0 {
			pages[i] = rng.Page(pageSize)
		} else {
			pages[i] = bytes.Repeat([]byte{byte(i)}, pageSize/2)
		}
		id, err := w.Append(pages[i])
		require.NoError(t, err)
		require.Equal(t, segment.LinearPageID(uint64(i)), id)
	}
	for _, id := range freed {
		require.NoError(t, w.Free(id))
	}

	b, err := w.Bytes(context.Background())
	require.NoError(t, err)
	return b, pages
}

func openMemory(t *testing.T, data []byte) *device.BlobDevice {
	t.Helper()

	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "seg", data))
	blob, err := store.Open(ctx, "seg")
	require.NoError(t, err)

	dev, err := device.Open(ctx, blob)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })
	return dev
}

func TestRoundTrip(t *testing.T) {
	for _, codec := range []pageframe.Codec{pageframe.CodecNone, pageframe.CodecLZ4, pageframe.CodecZSTD} {
		t.Run(codec.String(), func(t *testing.T) {
			data, pages := buildBlob(t, codec, 20)
			dev := openMemory(t, data)

			info := dev.Info()
			assert.Equal(t, pageSize, info.PageSize)
			assert.Equal(t, codec, info.Codec)
			assert.Equal(t, uint64(20), info.Slots)
			assert.Equal(t, uint64(20), info.Pages)
			assert.Equal(t, int64(len(data)), info.Size)
			assert.Zero(t, info.SlotSize%64)

			ctx := context.Background()
			for i, want := range pages {
				got, err := dev.ReadPage(ctx, cache.BlockID(i))
				require.NoError(t, err)
				if diff := cmp.Diff(want, got); diff != "" {
					t.Fatalf("page %d mismatch (-want +got):\n%s", i, diff)
				}
			}
		})
	}
}

func TestFreedPages(t *testing.T) {
	data, _ := buildBlob(t, pageframe.CodecLZ4, 8, 0, 5)
	dev := openMemory(t, data)

	seg := dev.Segment()
	assert.Equal(t, uint64(6), seg.PageCount())
	assert.Equal(t, segment.LinearPageID(1), seg.First())
	assert.Equal(t, segment.LinearPageID(6), seg.PageSuccessor(segment.LinearPageID(4)))

	_, err := dev.ReadPage(context.Background(), 5)
	assert.ErrorIs(t, err, segment.ErrNotAllocated)
}

func TestReadPage_OutOfRange(t *testing.T) {
	data, _ := buildBlob(t, pageframe.CodecNone, 3)
	dev := openMemory(t, data)

	_, err := dev.ReadPage(context.Background(), 3)
	assert.ErrorIs(t, err, device.ErrOutOfRange)
}

func TestOpen_Corrupt(t *testing.T) {
	data, _ := buildBlob(t, pageframe.CodecNone, 4)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"short", func(b []byte) []byte { return b[:10] }, device.ErrCorrupt},
		{"magic", func(b []byte) []byte { b[0] ^= 0xff; return b }, device.ErrCorrupt},
		{"version", func(b []byte) []byte { binary.LittleEndian.PutUint16(b[8:], 99); return b }, device.ErrIncompatibleFormat},
		{"checksum", func(b []byte) []byte { b[device.HeaderSize] ^= 0xff; return b }, device.ErrCorrupt},
		{"truncated", func(b []byte) []byte { return b[:len(b)-1] }, device.ErrCorrupt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.mutate(bytes.Clone(data))

			ctx := context.Background()
			store := blobstore.NewMemoryStore()
			require.NoError(t, store.Put(ctx, "seg", b))
			blob, err := store.Open(ctx, "seg")
			require.NoError(t, err)

			_, err = device.Open(ctx, blob)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReadPage_CorruptSlot(t *testing.T) {
	data, _ := buildBlob(t, pageframe.CodecNone, 4)
	dev := openMemory(t, data)
	slot := dev.Info().SlotSize

	// Flip a byte inside page 2's payload. The header checksum does not cover
	// slots, so Open succeeds and the read fails.
	off := len(data) - 2*slot + pageframe.HeaderSize + 1
	data[off] ^= 0xff
	dev = openMemory(t, data)

	_, err := dev.ReadPage(context.Background(), 2)
	assert.ErrorIs(t, err, device.ErrCorrupt)

	_, err = dev.ReadPage(context.Background(), 1)
	assert.NoError(t, err)
}

func TestReadPage_OversizedFrame(t *testing.T) {
	data, _ := buildBlob(t, pageframe.CodecLZ4, 4)
	slot := openMemory(t, data).Info().SlotSize

	off := len(data) - 2*slot + 4
	binary.LittleEndian.PutUint32(data[off:], 0xFFFFFFF0)
	dev := openMemory(t, data)

	_, err := dev.ReadPage(context.Background(), 2)
	assert.ErrorIs(t, err, device.ErrCorrupt)
	assert.ErrorIs(t, err, pageframe.ErrCorrupt)
}

func TestWriter_Errors(t *testing.T) {
	_, err := device.NewWriter(0, pageframe.CodecNone)
	assert.Error(t, err)

	_, err = device.NewWriter(pageSize, pageframe.Codec(9))
	assert.Error(t, err)

	w, err := device.NewWriter(pageSize, pageframe.CodecNone)
	require.NoError(t, err)

	_, err = w.Append(make([]byte, pageSize+1))
	assert.ErrorIs(t, err, device.ErrPageTooLarge)

	assert.ErrorIs(t, w.Free(3), segment.ErrNotAllocated)
}

func TestWriter_Cancelled(t *testing.T) {
	w, err := device.NewWriter(pageSize, pageframe.CodecZSTD)
	require.NoError(t, err)
	for range 4 {
		_, err := w.Append(make([]byte, pageSize))
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = w.Bytes(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalStoreMapped(t *testing.T) {
	data, pages := buildBlob(t, pageframe.CodecLZ4, 10)

	ctx := context.Background()
	store := blobstore.NewLocalStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, store.Put(ctx, "seg.pgc", data))

	blob, err := store.Open(ctx, "seg.pgc")
	require.NoError(t, err)
	dev, err := device.Open(ctx, blob)
	require.NoError(t, err)
	defer dev.Close()

	for i, want := range pages {
		got, err := dev.ReadPage(ctx, cache.BlockID(i))
		require.NoError(t, err)
		assert.Equal(t, want, got, "page %d", i)
	}
}

// streamBlob hides the Mappable fast path.
type streamBlob struct {
	blobstore.Blob
}

func TestStreamingBlob(t *testing.T) {
	data, pages := buildBlob(t, pageframe.CodecZSTD, 6)

	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "seg", data))
	blob, err := store.Open(ctx, "seg")
	require.NoError(t, err)

	dev, err := device.Open(ctx, streamBlob{blob})
	require.NoError(t, err)

	for i, want := range pages {
		got, err := dev.ReadPage(ctx, cache.BlockID(i))
		require.NoError(t, err)
		assert.Equal(t, want, got, "page %d", i)
	}
}

func TestCacheOverDevice(t *testing.T) {
	data, pages := buildBlob(t, pageframe.CodecLZ4, 16)
	dev := openMemory(t, data)

	c, err := cache.New(dev, cache.Params{CapacityPages: 4, PrefetchPagesMax: 2})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	for i := range pages {
		p, err := c.Lock(ctx, cache.BlockID(i), cache.LockShared)
		require.NoError(t, err, fmt.Sprintf("page %d", i))
		assert.Equal(t, pages[i], p.Data())
		p.Release()
	}
}
