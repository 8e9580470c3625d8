// Package testutil provides testing utilities for pagechain.
//
// This package is intended for use in tests and benchmarks only.
//
// # Devices
//
//	dev := testutil.NewMemDevice(4096)            // pages stamped with their block id
//	faulty := testutil.NewFaultyDevice(dev)
//	faulty.FailBlock(7, nil)                      // reads of block 7 fail with ErrInjected
//
// # Fixtures
//
//	acc := testutil.NewAccessor(t, 52, dev, cache.DefaultParams())
package testutil
