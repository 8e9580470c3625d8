package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/hupe1980/pagechain"
	"github.com/hupe1980/pagechain/config"
	"github.com/hupe1980/pagechain/segment"
)

func commands(v *flagValues, stdin io.Reader) []*Command {
	return []*Command{
		createCmd(v, stdin),
		walkCmd(v),
		statCmd(),
		lsCmd(),
	}
}

func createCmd(v *flagValues, stdin io.Reader) *Command {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.IntVar(&v.pageSize, "page-size", 0, fmt.Sprintf("page size in bytes (default %d)", config.Default().PageSize))
	fs.StringVar(&v.codec, "codec", "", "page compression: none, lz4, zstd (default "+config.Default().Codec+")")

	return &Command{
		Flags: fs,
		Usage: "create <name> <input|->",
		Short: "Split a file into pages and store it as a segment",
		Args:  2,
		Exec: func(ctx context.Context, e *env, args []string) error {
			name, input := args[0], args[1]

			var (
				data []byte
				err  error
			)
			if input == "-" {
				data, err = io.ReadAll(stdin)
			} else {
				data, err = os.ReadFile(input)
			}
			if err != nil {
				return err
			}

			codec, err := pagechain.ParseCodec(e.cfg.Codec)
			if err != nil {
				return err
			}

			info, err := pagechain.Create(ctx, e.store, name, split(data, e.cfg.PageSize),
				pagechain.WithPageSize(e.cfg.PageSize),
				pagechain.WithCodec(codec),
				pagechain.WithLogger(e.logger),
			)
			if err != nil {
				return err
			}

			e.io.Printf("created %s: %s pages, %s (%s input)\n",
				name,
				humanize.Comma(int64(info.Pages)),
				humanize.IBytes(uint64(info.Size)),
				humanize.IBytes(uint64(len(data))),
			)
			return nil
		},
	}
}

// split cuts data into pages of at most size bytes.
func split(data []byte, size int) [][]byte {
	var pages [][]byte
	for len(data) > 0 {
		n := min(size, len(data))
		pages = append(pages, data[:n])
		data = data[n:]
	}
	return pages
}

func walkCmd(v *flagValues) *Command {
	fs := flag.NewFlagSet("walk", flag.ContinueOnError)
	fs.IntVar(&v.queueDepth, "queue-depth", 0, fmt.Sprintf("read-ahead window (default %d)", config.DefaultQueueDepth))
	fs.IntVar(&v.cachePages, "cache-pages", 0, "page cache capacity")
	fs.IntVar(&v.prefetchMax, "prefetch-max", 0, "read-ahead requests the cache accepts at once; 0 disables read-ahead")
	after := fs.Int64("after", -1, "start after this page (-1: from the first page)")
	end := fs.Int64("end", -1, "stop at this page (-1: end of chain)")
	verbose := fs.BoolP("verbose", "v", false, "print every page")
	cat := fs.Bool("cat", false, "write page contents to stdout instead of a summary")

	return &Command{
		Flags: fs,
		Usage: "walk <name> [flags]",
		Short: "Traverse a segment and report read-ahead statistics",
		Args:  1,
		Exec: func(ctx context.Context, e *env, args []string) error {
			db, err := pagechain.Open(ctx, e.store, args[0], e.dbOptions()...)
			if err != nil {
				return err
			}
			defer db.Close()

			res, err := db.WalkPages(ctx, pageArg(*after), pageArg(*end), func(id segment.PageID, data []byte) error {
				switch {
				case *cat:
					_, err := e.io.out.Write(data)
					return err
				case *verbose:
					e.io.Printf("%-12s %s\n", id, humanize.IBytes(uint64(len(data))))
				}
				return nil
			})
			if err != nil {
				return err
			}
			if *cat {
				return nil
			}

			st := db.CacheStats()
			e.io.Printf("entries:      %s\n", humanize.Comma(int64(res.Entries)))
			e.io.Printf("sync fetches: %s\n", humanize.Comma(res.SyncFetches))
			e.io.Printf("rejections:   %s\n", humanize.Comma(res.Rejections))
			e.io.Printf("cache:        %s hits, %s misses, %s prefetches\n",
				humanize.Comma(st.Hits), humanize.Comma(st.Misses), humanize.Comma(st.Prefetches))
			e.io.Printf("duration:     %s\n", res.Duration.Round(time.Microsecond))
			return nil
		},
	}
}

func pageArg(n int64) segment.PageID {
	if n < 0 {
		return segment.NullPageID
	}
	return segment.LinearPageID(uint64(n))
}

func statCmd() *Command {
	return &Command{
		Flags: flag.NewFlagSet("stat", flag.ContinueOnError),
		Usage: "stat <name>",
		Short: "Show segment format details",
		Args:  1,
		Exec: func(ctx context.Context, e *env, args []string) error {
			db, err := pagechain.Open(ctx, e.store, args[0], e.dbOptions()...)
			if err != nil {
				return err
			}
			defer db.Close()

			info := db.Info()
			e.io.Printf("segment:   %s\n", db.Name())
			e.io.Printf("pages:     %s of %s slots\n", humanize.Comma(int64(info.Pages)), humanize.Comma(int64(info.Slots)))
			e.io.Printf("page size: %s\n", humanize.IBytes(uint64(info.PageSize)))
			e.io.Printf("slot size: %s\n", humanize.IBytes(uint64(info.SlotSize)))
			e.io.Printf("codec:     %s\n", info.Codec)
			e.io.Printf("blob size: %s\n", humanize.IBytes(uint64(info.Size)))
			if first := db.Segment().First(); first != segment.NullPageID {
				e.io.Printf("first:     %s\n", first)
			}
			return nil
		},
	}
}

func lsCmd() *Command {
	return &Command{
		Flags: flag.NewFlagSet("ls", flag.ContinueOnError),
		Usage: "ls [prefix]",
		Short: "List blobs in the store",
		Args:  -1,
		Exec: func(ctx context.Context, e *env, args []string) error {
			if len(args) > 1 {
				return errors.New("ls expects at most one prefix")
			}
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			names, err := e.store.List(ctx, prefix)
			if err != nil {
				return err
			}
			for _, n := range names {
				e.io.Println(n)
			}
			return nil
		},
	}
}
