// Package mmap maps segment files read-only so the local blob backend can
// serve page slots without copying through kernel buffers.
//
//	f, err := mmap.Open("orders.seg", mmap.AccessSequential)
//	if err != nil { ... }
//	defer f.Close()
//	n, err := f.ReadAt(buf, off)
//
// Chain traversal reads slots mostly in ascending order, which is why Open
// takes an access hint. On platforms without mmap the file is read into
// memory instead; callers cannot tell the difference.
package mmap
