// Package pagechain walks chains of storage pages with a bounded
// asynchronous read-ahead window.
//
// A segment is a linear chain of fixed-size pages stored in a blob
// (local file, memory, S3 or MinIO). Pages are read through a page cache
// that pins frames shared or exclusive and accepts a bounded number of
// read-ahead requests. Iterators keep up to a queue depth of read-ahead
// requests in flight ahead of the cursor and fall back to synchronous reads
// whenever the cache rejects one.
//
// # Quick Start
//
//	ctx := context.Background()
//	store := blobstore.NewLocalStore("./data")
//
//	if _, err := pagechain.Create(ctx, store, "events.pgc", pages,
//	    pagechain.WithPageSize(4096),
//	    pagechain.WithCodec(pagechain.CodecZSTD),
//	); err != nil {
//	    log.Fatal(err)
//	}
//
//	db, err := pagechain.Open(ctx, store, "events.pgc", pagechain.WithQueueDepth(20))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	_, err = db.WalkPages(ctx, segment.NullPageID, segment.NullPageID,
//	    func(id segment.PageID, data []byte) error {
//	        fmt.Println(id, len(data))
//	        return nil
//	    })
//
// # Custom Sources
//
// Walk accepts any pageiter.Source. A source decides which pages the
// iterator visits and which value each entry carries; it may repeat a page
// and the iterator passes repeats through unchanged.
//
// For full control use NewIterator together with pageiter.Iter's
// MapRange, Current, Advance and AtEnd, and segment.PageLock to lock pages
// independently of the iterator's pins.
package pagechain
