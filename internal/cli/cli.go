// Package cli implements the pagechain command line tool.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/hupe1980/pagechain"
	"github.com/hupe1980/pagechain/blobstore"
	"github.com/hupe1980/pagechain/blobstore/minio"
	"github.com/hupe1980/pagechain/blobstore/s3"
	"github.com/hupe1980/pagechain/config"
)

// StoreOpener builds the blob store a command operates on.
type StoreOpener func(ctx context.Context, cfg config.Config) (blobstore.BlobStore, error)

// OpenStore builds a store from the config.
func OpenStore(ctx context.Context, cfg config.Config) (blobstore.BlobStore, error) {
	switch cfg.Store {
	case config.StoreLocal:
		return blobstore.NewLocalStore(cfg.Root), nil
	case config.StoreMemory:
		return blobstore.NewMemoryStore(), nil
	case config.StoreS3:
		return s3.Connect(ctx, cfg.Bucket, cfg.Prefix, cfg.Region)
	case config.StoreMinio:
		return minio.Connect(minio.ConnectConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Secure:    cfg.Secure,
			Region:    cfg.Region,
		}, cfg.Bucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// env is what a command runs against.
type env struct {
	io     *IO
	cfg    config.Config
	store  blobstore.BlobStore
	logger *pagechain.Logger
}

// dbOptions maps the config onto Open options.
func (e *env) dbOptions() []pagechain.Option {
	return []pagechain.Option{
		pagechain.WithLogger(e.logger),
		pagechain.WithQueueDepth(e.cfg.QueueDepth),
		pagechain.WithCacheParams(e.cfg.CacheParams()),
		pagechain.WithMemoryLimit(e.cfg.MemoryLimitBytes),
		pagechain.WithIOLimit(e.cfg.IOLimitBytesPerSec),
	}
}

// flagValues receives every flag that can override the config file.
type flagValues struct {
	configPath string
	workDir    string

	store     string
	root      string
	bucket    string
	prefix    string
	endpoint  string
	logLevel  string
	logFormat string

	codec       string
	pageSize    int
	queueDepth  int
	cachePages  int
	prefetchMax int
}

func (v *flagValues) globalFlags() *flag.FlagSet {
	fs := flag.NewFlagSet("pagechain", flag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.StringVarP(&v.configPath, "config", "c", "", "config file (default ./"+config.FileName+" if present)")
	fs.StringVarP(&v.workDir, "cwd", "C", "", "run as if started in `dir`")
	fs.StringVar(&v.store, "store", "", "blob store: local, memory, s3, minio")
	fs.StringVar(&v.root, "root", "", "directory of the local store")
	fs.StringVar(&v.bucket, "bucket", "", "bucket of the s3 or minio store")
	fs.StringVar(&v.prefix, "prefix", "", "key prefix inside the bucket")
	fs.StringVar(&v.endpoint, "endpoint", "", "minio endpoint (host:port)")
	fs.StringVar(&v.logLevel, "log-level", "", "debug, info, warn, error")
	fs.StringVar(&v.logFormat, "log-format", "", "text or json")
	return fs
}

func (v *flagValues) overrides(sets ...*flag.FlagSet) config.Overrides {
	changed := func(name string) bool {
		for _, fs := range sets {
			if f := fs.Lookup(name); f != nil && f.Changed {
				return true
			}
		}
		return false
	}

	var o config.Overrides
	if changed("store") {
		o.Store = &v.store
	}
	if changed("root") {
		o.Root = &v.root
	}
	if changed("bucket") {
		o.Bucket = &v.bucket
	}
	if changed("prefix") {
		o.Prefix = &v.prefix
	}
	if changed("endpoint") {
		o.Endpoint = &v.endpoint
	}
	if changed("log-level") {
		o.LogLevel = &v.logLevel
	}
	if changed("log-format") {
		o.LogFormat = &v.logFormat
	}
	if changed("codec") {
		o.Codec = &v.codec
	}
	if changed("page-size") {
		o.PageSize = &v.pageSize
	}
	if changed("queue-depth") {
		o.QueueDepth = &v.queueDepth
	}
	if changed("cache-pages") {
		o.CachePages = &v.cachePages
	}
	if changed("prefetch-max") {
		o.PrefetchPagesMax = &v.prefetchMax
	}
	return o
}

func newLogger(cfg config.Config, w io.Writer) (*pagechain.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return pagechain.NewLogger(slog.NewJSONHandler(w, opts)), nil
	}
	return pagechain.NewLogger(slog.NewTextHandler(w, opts)), nil
}

// Run executes the CLI with args (without the program name) and returns the
// exit code.
func Run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string, openStore StoreOpener) int {
	o := &IO{out: stdout, errOut: stderr}
	if openStore == nil {
		openStore = OpenStore
	}

	var v flagValues
	global := v.globalFlags()
	global.SetOutput(&strings.Builder{})

	cmds := commands(&v, stdin)

	if err := global.Parse(args); err != nil {
		if isHelp(err) {
			printUsage(o, global, cmds)
			return 0
		}
		o.ErrPrintln("error:", err)
		return 1
	}

	rest := global.Args()
	if len(rest) == 0 {
		printUsage(o, global, cmds)
		return 1
	}

	var cmd *Command
	for _, c := range cmds {
		if c.Name() == rest[0] {
			cmd = c
			break
		}
	}
	if cmd == nil {
		o.ErrPrintln("error: unknown command:", rest[0])
		return 1
	}

	cmdArgs, err := cmd.parse(rest[1:])
	if err != nil {
		if isHelp(err) {
			cmd.PrintHelp(o)
			return 0
		}
		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		cmd.PrintHelp(o)
		return 1
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDir:   v.workDir,
		Path:      v.configPath,
		Overrides: v.overrides(global, cmd.Flags),
	})
	if err != nil {
		o.ErrPrintln("error:", err)
		return 1
	}

	logger, err := newLogger(cfg, stderr)
	if err != nil {
		o.ErrPrintln("error:", err)
		return 1
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		o.ErrPrintln("error:", err)
		return 1
	}

	if err := cmd.Exec(ctx, &env{io: o, cfg: cfg, store: store, logger: logger}, cmdArgs); err != nil {
		o.ErrPrintln("error:", err)
		return 1
	}
	return 0
}

func printUsage(o *IO, global *flag.FlagSet, cmds []*Command) {
	o.Println("pagechain - walk page chains with bounded read-ahead")
	o.Println()
	o.Println("Usage: pagechain [global flags] <command> [flags] [args]")
	o.Println()
	o.Println("Commands:")
	for _, c := range cmds {
		o.Println(c.HelpLine())
	}
	o.Println()
	o.Println("Global flags:")

	var buf strings.Builder
	global.SetOutput(&buf)
	global.PrintDefaults()
	o.Printf("%s", buf.String())
}
