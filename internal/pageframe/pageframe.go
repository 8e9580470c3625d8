// Package pageframe encodes single pages into self-describing frames.
//
// Frame layout (little endian):
//
//	[codec u8][reserved 3B][uncompressed u32][stored u32][blake3-256 32B][data]
//
// The checksum covers the uncompressed page so corruption is detected after
// decompression regardless of codec. A page that does not shrink by at least
// 10% is stored raw and flagged with CodecNone.
package pageframe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// HeaderSize is the fixed frame header length.
const HeaderSize = 44

var (
	// ErrCorrupt is returned when a frame is truncated or malformed.
	ErrCorrupt = errors.New("pageframe: corrupt frame")
	// ErrChecksum is returned when the decoded page does not match its checksum.
	ErrChecksum = errors.New("pageframe: checksum mismatch")
)

// Codec selects the compression applied to page data.
type Codec uint8

const (
	// CodecNone stores pages raw.
	CodecNone Codec = 0
	// CodecLZ4 uses LZ4 block compression (fast, for hot segments).
	CodecLZ4 Codec = 1
	// CodecZSTD uses ZSTD (better ratio, for cold segments).
	CodecZSTD Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec maps a codec name to a Codec.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZSTD, nil
	default:
		return 0, fmt.Errorf("pageframe: unknown codec %q", s)
	}
}

// MaxFrameSize is the largest frame a page of pageSize bytes can produce.
func MaxFrameSize(pageSize int) int {
	return HeaderSize + pageSize
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Encode builds a frame for page using codec.
func Encode(page []byte, codec Codec) ([]byte, error) {
	var stored []byte

	switch codec {
	case CodecNone:
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(page)))
		n, err := lz4.CompressBlock(page, buf, nil)
		if err != nil {
			return nil, err
		}
		stored = buf[:n]
	case CodecZSTD:
		enc := getZstdEncoder()
		stored = enc.EncodeAll(page, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("pageframe: unknown codec %d", codec)
	}

	// Not worth it: store raw.
	if len(stored) == 0 || float64(len(stored)) > float64(len(page))*0.9 {
		codec = CodecNone
		stored = page
	}

	frame := make([]byte, HeaderSize+len(stored))
	frame[0] = byte(codec)
	binary.LittleEndian.PutUint32(frame[4:], uint32(len(page)))
	binary.LittleEndian.PutUint32(frame[8:], uint32(len(stored)))
	sum := blake3.Sum256(page)
	copy(frame[12:HeaderSize], sum[:])
	copy(frame[HeaderSize:], stored)

	return frame, nil
}

// FrameLen returns the encoded length of the frame at the start of b.
func FrameLen(b []byte) (int, error) {
	if len(b) < HeaderSize {
		return 0, ErrCorrupt
	}
	return HeaderSize + int(binary.LittleEndian.Uint32(b[8:])), nil
}

// Decode validates a frame and returns the page it carries. Frames claiming
// more than maxSize uncompressed bytes are rejected before any allocation.
// Trailing bytes after the frame are ignored.
func Decode(b []byte, maxSize int) ([]byte, error) {
	n, err := FrameLen(b)
	if err != nil {
		return nil, err
	}
	if len(b) < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrCorrupt, n, len(b))
	}

	codec := Codec(b[0])
	size := binary.LittleEndian.Uint32(b[4:])
	if uint64(size) > uint64(max(maxSize, 0)) {
		return nil, fmt.Errorf("%w: page size %d exceeds %d", ErrCorrupt, size, maxSize)
	}
	stored := b[HeaderSize:n]

	var page []byte
	switch codec {
	case CodecNone:
		if uint32(len(stored)) != size {
			return nil, fmt.Errorf("%w: raw length %d, want %d", ErrCorrupt, len(stored), size)
		}
		page = bytes.Clone(stored)
	case CodecLZ4:
		page = make([]byte, size)
		m, err := lz4.UncompressBlock(stored, page)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if uint32(m) != size {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
	case CodecZSTD:
		dec := getZstdDecoder()
		page, err = dec.DecodeAll(stored, make([]byte, 0, size))
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if uint32(len(page)) != size {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
	default:
		return nil, fmt.Errorf("%w: unknown codec %d", ErrCorrupt, codec)
	}

	sum := blake3.Sum256(page)
	if !bytes.Equal(sum[:], b[12:HeaderSize]) {
		return nil, ErrChecksum
	}

	return page, nil
}
