package pagechain

import (
	"log/slog"

	"github.com/hupe1980/pagechain/cache"
	"github.com/hupe1980/pagechain/internal/pageframe"
)

// Codec selects page compression for new segments.
type Codec = pageframe.Codec

const (
	CodecNone = pageframe.CodecNone
	CodecLZ4  = pageframe.CodecLZ4
	CodecZSTD = pageframe.CodecZSTD
)

// ParseCodec maps a codec name ("none", "lz4", "zstd") to a Codec.
func ParseCodec(s string) (Codec, error) {
	return pageframe.ParseCodec(s)
}

const (
	// DefaultQueueDepth is the default read-ahead window of iterators.
	DefaultQueueDepth = 20

	// DefaultPageSize is the default page size of new segments.
	DefaultPageSize = 4096
)

type options struct {
	pageSize           int
	codec              Codec
	queueDepth         int
	cacheParams        cache.Params
	memoryLimitBytes   int64
	ioLimitBytesPerSec int64
	metricsCollector   MetricsCollector
	logger             *Logger
}

// Option configures Create and Open.
type Option func(*options)

// WithPageSize sets the page size of a new segment. Ignored by Open.
func WithPageSize(n int) Option {
	return func(o *options) {
		o.pageSize = n
	}
}

// WithCodec sets the page compression of a new segment. Ignored by Open.
func WithCodec(c Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithQueueDepth sets the read-ahead window used by Walk and NewIterator.
// 0 reads every page synchronously.
func WithQueueDepth(n int) Option {
	return func(o *options) {
		o.queueDepth = n
	}
}

// WithCacheParams configures the page cache.
//
// Example:
//
//	db, _ := pagechain.Open(ctx, store, "seg", pagechain.WithCacheParams(cache.Params{
//	    CapacityPages:    1024,
//	    PrefetchPagesMax: 32,
//	}))
func WithCacheParams(p cache.Params) Option {
	return func(o *options) {
		o.cacheParams = p
	}
}

// WithMemoryLimit bounds the bytes held by cached pages. Read-ahead that
// would exceed it is rejected. 0 means unlimited.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimitBytes = bytes
	}
}

// WithIOLimit rate-limits synchronous device reads. 0 means unlimited.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimitBytesPerSec = bytesPerSec
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := pagechain.NewJSONLogger(slog.LevelInfo)
//	db, _ := pagechain.Open(ctx, store, "seg", pagechain.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		pageSize:         DefaultPageSize,
		codec:            CodecLZ4,
		queueDepth:       DefaultQueueDepth,
		cacheParams:      cache.DefaultParams(),
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
