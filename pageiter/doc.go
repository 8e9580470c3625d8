// Package pageiter implements a cursor over a page chain that keeps a
// bounded window of asynchronous read-ahead requests in flight.
//
// An Iter pulls entries from a Source in order. For every entry it issues a
// cache prefetch ahead of the cursor, up to the configured queue depth, and
// tops the window back up after each Advance. Entries are always delivered in
// source order regardless of the order in which reads complete.
//
// A prefetch the cache rejects (or one a source forces to be rejected through
// Source.ForceNextRejected) is satisfied by a synchronous fetch when the
// cursor reaches it; the rejection is never reported to the caller. A queue
// depth of 0 disables read-ahead entirely.
//
// Typical use:
//
//	it, _ := pageiter.New[int](20)
//	_ = it.SetSource(src)
//	if err := it.MapRange(ctx, acc, segment.NullPageID, end); err != nil { ... }
//	defer it.MakeSingular()
//	for {
//		e, _ := it.Current()
//		...
//		if it.AtEnd() {
//			break
//		}
//		if err := it.Advance(ctx); err != nil { ... }
//	}
//
// An Iter is not safe for concurrent use.
package pageiter
