// Package config loads pagechain settings from a JSONC file.
//
// Precedence, highest wins:
//  1. Defaults
//  2. Config file (explicit path, or pagechain.json in the working directory)
//  3. Overrides (usually CLI flags)
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"

	"github.com/hupe1980/pagechain/cache"
	"github.com/hupe1980/pagechain/internal/pageframe"
)

// FileName is the config file looked up in the working directory.
const FileName = "pagechain.json"

// DefaultQueueDepth is the default iterator window.
const DefaultQueueDepth = 20

// Sentinel errors returned by Load.
var (
	ErrInvalid      = errors.New("invalid config")
	ErrFileNotFound = errors.New("config file not found")
	ErrFileRead     = errors.New("cannot read config file")
)

// Backend names accepted in Config.Store.
const (
	StoreLocal  = "local"
	StoreMemory = "memory"
	StoreS3     = "s3"
	StoreMinio  = "minio"
)

// Config holds all settings.
type Config struct {
	Store  string `json:"store"`
	Root   string `json:"root,omitempty"`
	Bucket string `json:"bucket,omitempty"`
	Prefix string `json:"prefix,omitempty"`
	Region string `json:"region,omitempty"`

	Endpoint  string `json:"endpoint,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
	Secure    bool   `json:"secure,omitempty"`

	PageSize int    `json:"page_size"`
	Codec    string `json:"codec"`

	QueueDepth       int `json:"queue_depth"`
	CachePages       int `json:"cache_pages"`
	PrefetchPagesMax int `json:"prefetch_pages_max"`

	MemoryLimitBytes   int64 `json:"memory_limit_bytes,omitempty"`
	IOLimitBytesPerSec int64 `json:"io_limit_bytes_per_sec,omitempty"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	// Source is the config file that was loaded, if any.
	Source string `json:"-"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Store:            StoreLocal,
		Root:             ".",
		PageSize:         4096,
		Codec:            "lz4",
		QueueDepth:       DefaultQueueDepth,
		CachePages:       cache.DefaultCapacityPages,
		PrefetchPagesMax: cache.DefaultPrefetchPagesMax,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Overrides carries values that replace file settings when non-nil.
type Overrides struct {
	Store            *string
	Root             *string
	Bucket           *string
	Prefix           *string
	Endpoint         *string
	PageSize         *int
	Codec            *string
	QueueDepth       *int
	CachePages       *int
	PrefetchPagesMax *int
	LogLevel         *string
	LogFormat        *string
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDir   string // empty means os.Getwd
	Path      string // explicit config file; must exist when set
	Overrides Overrides
}

// Load resolves the configuration.
func Load(in LoadInput) (Config, error) {
	workDir := in.WorkDir
	if workDir == "" {
		var err error
		if workDir, err = os.Getwd(); err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	path, mustExist := in.Path, true
	if path == "" {
		path, mustExist = FileName, false
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := Parse(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w %s: %w", ErrInvalid, path, err)
		}
		cfg.Source = path
	case errors.Is(err, os.ErrNotExist) && !mustExist:
	case errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("%w: %s", ErrFileNotFound, in.Path)
	default:
		return Config{}, fmt.Errorf("%w: %s: %w", ErrFileRead, path, err)
	}

	apply(&cfg, in.Overrides)

	if cfg.Store == StoreLocal && !filepath.IsAbs(cfg.Root) {
		cfg.Root = filepath.Join(workDir, cfg.Root)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes JSONC data over cfg. Keys absent from data keep their value.
func Parse(data []byte, cfg *Config) error {
	std, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("invalid JSONC: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(std))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func apply(cfg *Config, o Overrides) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}

	set(&cfg.Store, o.Store)
	set(&cfg.Root, o.Root)
	set(&cfg.Bucket, o.Bucket)
	set(&cfg.Prefix, o.Prefix)
	set(&cfg.Endpoint, o.Endpoint)
	set(&cfg.Codec, o.Codec)
	set(&cfg.LogLevel, o.LogLevel)
	set(&cfg.LogFormat, o.LogFormat)
	setInt(&cfg.PageSize, o.PageSize)
	setInt(&cfg.QueueDepth, o.QueueDepth)
	setInt(&cfg.CachePages, o.CachePages)
	setInt(&cfg.PrefetchPagesMax, o.PrefetchPagesMax)
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error

	switch c.Store {
	case StoreLocal:
		if c.Root == "" {
			errs = append(errs, errors.New("root must be set for the local store"))
		}
	case StoreMemory:
	case StoreS3:
		if c.Bucket == "" {
			errs = append(errs, errors.New("bucket must be set for the s3 store"))
		}
	case StoreMinio:
		if c.Bucket == "" || c.Endpoint == "" {
			errs = append(errs, errors.New("bucket and endpoint must be set for the minio store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}

	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("page_size must be positive, got %d", c.PageSize))
	}
	if _, err := pageframe.ParseCodec(c.Codec); err != nil {
		errs = append(errs, err)
	}
	if c.QueueDepth < 0 {
		errs = append(errs, fmt.Errorf("queue_depth must not be negative, got %d", c.QueueDepth))
	}
	if err := c.CacheParams().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.MemoryLimitBytes < 0 || c.IOLimitBytesPerSec < 0 {
		errs = append(errs, errors.New("resource limits must not be negative"))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// CacheParams returns the cache parameters.
func (c Config) CacheParams() cache.Params {
	return cache.Params{
		CapacityPages:    c.CachePages,
		PrefetchPagesMax: c.PrefetchPagesMax,
	}
}
