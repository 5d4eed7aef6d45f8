// Copyright 2026 The memheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Block layout and boundary tags.
//
// Every block is a contiguous run of heap bytes whose size is a multiple of
// dsize and at least minBlock. The first and the last word of a block are the
// boundary tags (header and footer); both carry the same value: the block
// size in bytes with the allocated flag packed into the lowest bit. Public
// API functions exchange payload offsets - the address of the byte right
// after the header:
//
//	offset 0          : header = size | alloc    (8 B)
//	offset 8..size-16 : payload
//	offset size-8     : footer = size | alloc    (8 B)
//
// While a block is free its first two payload words are repurposed as the
// prev and next links of the doubly linked free list the block is registered
// in; they are valid only while the allocated flag is clear. The minimum
// block size guarantees room for the header, both links and the footer.

package heap

import (
	"io"
)

const (
	wsize = 8         // word: machine pointer width
	dsize = 2 * wsize // double word: block size granularity and alignment

	minBlock    = 2 * dsize // header + prev link + next link + footer
	minBlockLog = 5         // log2(minBlock)

	chunkSize = 128  // initial heap extension at Init
	extPage   = 4096 // extension floor for Malloc misses

	// Free blocks whose payload interior is at least this large have it
	// hole punched after coalescing.
	punchThreshold = 1 << 16

	// Largest accepted request. Way above anything the class table has a
	// dedicated slot for; the last slot is an unbounded catch-all.
	maxRq = 1 << 46
)

// pack packs a block size and an allocated flag into a boundary tag word.
func pack(size int64, alloc bool) int64 {
	if alloc {
		return size | 1
	}

	return size
}

// unpack is the inverse of pack.
func unpack(w int64) (size int64, alloc bool) {
	return w &^ (dsize - 1), w&1 != 0
}

// hdroff returns the header offset of the block with payload offset bp.
func hdroff(bp int64) int64 { return bp - wsize }

// ftroff returns the footer offset of a block with payload offset bp and
// size size.
func ftroff(bp, size int64) int64 { return bp + size - dsize }

// nextOff returns the payload offset of the right physical neighbour of a
// block with payload offset bp and size size.
func nextOff(bp, size int64) int64 { return bp + size }

// w2b encodes w into b in big endian order and returns b[:8].
func w2b(b []byte, w int64) []byte {
	for i := 7; i >= 0; i-- {
		b[i] = byte(w)
		w >>= 8
	}
	return b[:8]
}

// b2w is the inverse of w2b.
func b2w(b []byte) (w int64) {
	for _, v := range b[:8] {
		w = w<<8 | int64(v)
	}
	return
}

func getWord(m Memory, off int64) (w int64, err error) {
	var b [wsize]byte
	if n, err := m.ReadAt(b[:], off); n != wsize {
		return 0, &ErrILSEQ{Type: ErrOther, Off: off, More: err}
	}

	return b2w(b[:]), nil
}

func putWord(m Memory, off, w int64) (err error) {
	var b [wsize]byte
	if n, err := m.WriteAt(w2b(b[:], w), off); n != wsize {
		if err == nil {
			err = io.ErrShortWrite
		}
		return err
	}

	return nil
}

// tag reads the header of the block with payload offset bp.
func (a *Allocator) tag(bp int64) (size int64, alloc bool, err error) {
	w, err := getWord(a.m, hdroff(bp))
	if err != nil {
		return
	}

	size, alloc = unpack(w)
	return
}

// stamp writes both boundary tags of the block with payload offset bp. The
// header goes first so that the footer position can be derived from it.
func (a *Allocator) stamp(bp, size int64, alloc bool) (err error) {
	w := pack(size, alloc)
	if err = putWord(a.m, hdroff(bp), w); err != nil {
		return
	}

	return putWord(a.m, ftroff(bp, size), w)
}
