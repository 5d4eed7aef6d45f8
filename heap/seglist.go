// Copyright 2026 The memheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"github.com/cznic/mathutil"
)

// classes is the number of slots in the segregated free list table. Slot i
// keeps the head of the doubly linked list of free blocks with sizes in
// [minBlock<<i, minBlock<<(i+1)); the last slot is an unbounded catch-all.
const classes = 20

// class maps a block size to its table slot. The mapping is monotone
// non-decreasing in size. size must be a multiple of dsize and >= minBlock.
func class(size int64) int {
	c := mathutil.Log2Uint64(uint64(size) >> minBlockLog)
	if c < 0 {
		c = 0
	}

	return mathutil.Min(c, classes-1)
}

// seglist keeps the heads of the per-class free block lists. The links
// themselves are intrusive: they live in the first two payload words of the
// free blocks, so everything below the heads is heap state, not process
// state.
type seglist struct {
	heads [classes]int64
}

// link registers the free block bp of the given size as the new head of its
// class list (LIFO). The block's prev link becomes 0, marking the head.
func (a *Allocator) link(bp, size int64) (err error) {
	c := class(size)
	next := a.seg.heads[c]
	if err = putWord(a.m, bp, 0); err != nil {
		return
	}

	if err = putWord(a.m, bp+wsize, next); err != nil {
		return
	}

	if next != 0 {
		if err = putWord(a.m, next, bp); err != nil {
			return
		}
	}

	a.seg.heads[c] = bp
	return
}

// unlink splices the free block bp of the given size out of its class list.
func (a *Allocator) unlink(bp, size int64) (err error) {
	p, err := getWord(a.m, bp)
	if err != nil {
		return
	}

	n, err := getWord(a.m, bp+wsize)
	if err != nil {
		return
	}

	switch {
	case p == 0:
		a.seg.heads[class(size)] = n
	default:
		if err = putWord(a.m, p+wsize, n); err != nil {
			return
		}
	}

	if n != 0 {
		err = putWord(a.m, n, p)
	}
	return
}
