// Package resource governs the shared budgets of the page cache.
//
// A Controller tracks two resources:
//
//   - Memory: bytes held by resident page frames (non-blocking, fail-fast)
//   - IO: read-ahead throughput, as a token bucket
//
// Read-ahead is opportunistic, so the cache only ever calls the Try* variants
// on the prefetch path and turns a refusal into a prefetch rejection.
// Synchronous fetches wait for IO tokens but never for memory: a frame that
// cannot be charged is still loaded, uncharged.
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:   64 << 20,
//	    IOLimitBytesPerSec: 200 << 20,
//	})
//	if !rc.TryAcquireMemory(pageSize) {
//	    // reject the prefetch
//	}
//
// All methods are safe for concurrent use and treat a nil *Controller as
// "unlimited".
package resource
