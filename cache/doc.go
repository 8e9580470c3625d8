// Package cache implements the page cache and lock provider used by chain
// traversal.
//
// The cache holds a bounded number of page frames read from a Device. Frames
// are pinned in shared or exclusive mode; pinned frames are never evicted and
// unpinned frames are evicted in LRU order.
//
// # Read-ahead
//
// Prefetch schedules an asynchronous read and returns a Request ticket that
// holds a shared pin on the frame until released. At most
// Params.PrefetchPagesMax reads are in flight at once. A prefetch that cannot
// be honoured right now (read-ahead disabled, all slots busy, cache full of
// pinned frames, frame locked exclusively, memory or IO budget exhausted) is
// rejected immediately; callers fall back to Fetch, which always loads the
// page synchronously.
//
// # Pins
//
// Shared pins are counted, so independent holders (an iterator's read-ahead
// tickets and a caller's scoped lock) can pin the same page at the same time.
// An exclusive pin waits until no other pin is held.
package cache
