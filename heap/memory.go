// Copyright 2026 The memheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// An abstraction of a monotonically growable, byte addressable memory
// region - the host side of the allocator.

package heap

// A Memory is a []byte-like model of a contiguous region of address space
// whose only structural mutation is appending more bytes at its end. ReadAt
// and WriteAt are always "addressed" by an absolute offset and are assumed to
// perform atomically. A Memory is not safe for concurrent access; the
// allocator is single threaded by contract and uses its Memory from one
// goroutine only.
type Memory interface {
	// As os.File.Close().
	Close() error

	// Grow appends n zeroed bytes at the current end of the region and
	// returns the offset of the first appended byte, i.e. the value of
	// Size() before the call. The region end ("the break") never moves
	// down. Grow is the sbrk primitive of the host: when it fails, it
	// MUST fail without any observable change to the region.
	Grow(n int64) (off int64, err error)

	// Name returns the name of the region.
	Name() string

	// PunchHole deallocates backing space inside the region in the byte
	// range starting at off and continuing for size bytes. The region
	// size (as reported by Size) does not change when hole punching. A
	// Memory is free to ignore PunchHole (implement it as a nop), and no
	// guarantees about the content of the hole, when eventually read
	// back, are required.
	PunchHole(off, size int64) error

	// As os.File.ReadAt. `off` is an absolute address and cannot be
	// negative.
	ReadAt(b []byte, off int64) (n int, err error)

	// Size returns the current break, i.e. the number of bytes in the
	// region.
	Size() int64

	// As os.File.WriteAt(). `off` is an absolute address and cannot be
	// negative. Writing above the break moves the break up accordingly.
	WriteAt(b []byte, off int64) (n int, err error)
}
