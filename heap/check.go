// Copyright 2026 The memheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Consistency checking of a heap image.

package heap

import (
	"sort"

	"github.com/cznic/mathutil"
	"github.com/cznic/sortutil"
)

// Stats records statistics about a heap. It can be optionally filled by
// Verify, if successful.
type Stats struct {
	TotalBytes  int64 // heap size including the pad word and both sentinels
	AllocBytes  int64 // bytes in allocated blocks, boundary tags included
	AllocBlocks int64 // number of allocated blocks
	FreeBytes   int64 // bytes in free blocks, boundary tags included
	FreeBlocks  int64 // number of free blocks
}

var nolog = func(error) bool { return false }

// Check returns nil iff the heap is consistent: boundary tags agree, block
// sizes are well formed (payload alignment follows, since the walk starts at
// the fixed prologue layout), no two adjacent blocks are both free,
// blocks do not overlap or escape the sentinels, and a block is registered
// in the free list table - in the right class, on a well chained list,
// exactly once - iff its allocated flag is clear.
func (a *Allocator) Check() error {
	return a.Verify(NewArena(), nil, nil)
}

// Verify attempts to find any structural errors in the heap image. 'bitmap'
// is a scratch pad for necessary bookkeeping and must be zero sized on
// entry; it will grow to at most Size()/64. Problems found are reported to
// 'log' except non verify related errors like Memory read fails. The
// verification process stops at the first problem found and returns it as
// the error, whatever 'log' returns. Passing a nil log works like providing
// a log function always returning false.
//
// The heap is scanned twice: once block by block between the sentinels, once
// list by list through the table, with the bitmap cross-checking that the
// two scans saw the same set of free blocks.
//
// Statistics are returned via 'stats' if non nil. The statistics are valid
// only if Verify succeeded.
func (a *Allocator) Verify(bitmap Memory, log func(error) bool, stats *Stats) (err error) {
	if log == nil {
		log = nolog
	}

	if n := bitmap.Size(); n != 0 {
		return &ErrINVAL{"Verify: bit map initial size non zero", n}
	}

	sz := a.m.Size()
	if sz < 4*wsize || sz%dsize != 0 {
		err = &ErrILSEQ{Type: ErrHeapSize, Arg: sz}
		log(err)
		return
	}

	if a.epilogue != sz-wsize {
		err = &ErrILSEQ{Type: ErrEpilogue, Off: a.epilogue, Arg: sz - wsize}
		log(err)
		return
	}

	for i, e := range [4]int64{0, pack(dsize, true), pack(dsize, true), 0} {
		off := int64(i) * wsize
		if i == 3 {
			off, e = a.epilogue, pack(0, true)
		}

		var w int64
		if w, err = getWord(a.m, off); err != nil {
			return
		}

		if w != e {
			typ := ErrPrologue
			if i == 3 {
				typ = ErrEpilogue
			}
			err = &ErrILSEQ{Type: typ, Off: off, Arg: w}
			log(err)
			return
		}
	}

	var bits int64
	bitMask := [8]byte{1, 2, 4, 8, 16, 32, 64, 128}
	byteBuf := []byte{0}

	// One bit per possible block start; the index is the header offset in
	// words.
	bit := func(on bool, ix int64) (wasOn bool, err error) {
		m := bitMask[ix&7]
		off := ix >> 3
		var v byte
		if off < bitmap.Size() {
			if n, err := bitmap.ReadAt(byteBuf, off); n != 1 {
				return false, &ErrILSEQ{Type: ErrOther, Off: off, More: err}
			}

			v = byteBuf[0]
		}
		switch wasOn = v&m != 0; on {
		case true:
			if !wasOn {
				v |= m
				bits++
			}
		case false:
			if wasOn {
				v ^= m
				bits--
			}
		}
		byteBuf[0] = v
		if n, err := bitmap.WriteAt(byteBuf, off); n != 1 || err != nil {
			return false, &ErrILSEQ{Type: ErrOther, Off: off, More: err}
		}

		return
	}

	// Phase 1 - walk the blocks between the sentinels, validating the
	// boundary tags. Set a bit for every free block start.
	var (
		st       Stats
		w, fw    int64
		wasOn    bool
		prevHoff = int64(-1)
	)

	st.TotalBytes = sz
	for hoff := int64(3 * wsize); hoff != a.epilogue; {
		if w, err = getWord(a.m, hoff); err != nil {
			return
		}

		size, alloc := unpack(w)
		switch {
		case size < minBlock || size%dsize != 0:
			err = &ErrILSEQ{Type: ErrBlockSize, Off: hoff, Arg: size}
			log(err)
			return
		case hoff+size > a.epilogue:
			err = &ErrILSEQ{Type: ErrBlockSpan, Off: hoff, Arg: hoff + size - a.epilogue}
			log(err)
			return
		}

		if fw, err = getWord(a.m, hoff+size-wsize); err != nil {
			return
		}

		if fw != w {
			err = &ErrILSEQ{Type: ErrTagMismatch, Off: hoff, Arg: w, Arg2: fw}
			log(err)
			return
		}

		switch alloc {
		case true:
			st.AllocBytes += size
			st.AllocBlocks++
		case false:
			if prevHoff >= 0 {
				err = &ErrILSEQ{Type: ErrAdjacentFree, Off: prevHoff, Arg: hoff}
				log(err)
				return
			}

			if wasOn, err = bit(true, hoff>>3); err != nil {
				return
			}

			if wasOn {
				panic("internal error")
			}

			st.FreeBytes += size
			st.FreeBlocks++
		}

		if alloc {
			prevHoff = -1
		} else {
			prevHoff = hoff
		}
		hoff += size
	}

	// Phase 2 - walk every list of the table. Verify the allocated flag,
	// the class assignment and the prev/next chaining, and turn the
	// respective bit off. After processing all lists the bit count should
	// be zero, otherwise there are "lost" free blocks.
	var reg sortutil.Int64Slice
	for c := range a.seg.heads {
		prev := int64(0)
		for h := a.seg.heads[c]; h != 0; {
			if h%dsize != 0 || h < 2*dsize || h >= a.epilogue {
				err = &ErrILSEQ{Type: ErrTableEntry, Off: h, Arg: int64(c)}
				log(err)
				return
			}

			if w, err = getWord(a.m, hdroff(h)); err != nil {
				return
			}

			size, alloc := unpack(w)
			if alloc {
				err = &ErrILSEQ{Type: ErrFreeFlag, Off: hdroff(h), Arg: int64(c)}
				log(err)
				return
			}

			if class(size) != c {
				err = &ErrILSEQ{Type: ErrClass, Off: hdroff(h), Arg: size, Arg2: int64(c)}
				log(err)
				return
			}

			var p, n int64
			if p, err = getWord(a.m, h); err != nil {
				return
			}

			if n, err = getWord(a.m, h+wsize); err != nil {
				return
			}

			if p != prev {
				err = &ErrILSEQ{Type: ErrChaining, Off: hdroff(h), Arg: p, Arg2: prev}
				log(err)
				return
			}

			if wasOn, err = bit(false, hdroff(h)>>3); err != nil {
				return
			}

			if !wasOn {
				err = &ErrILSEQ{Type: ErrTableEntry, Off: h, Arg: int64(c)}
				log(err)
				return
			}

			reg = append(reg, h)
			prev, h = h, n
		}
	}

	sort.Sort(reg)
	for i := 1; i < len(reg); i++ {
		if reg[i] == reg[i-1] {
			err = &ErrILSEQ{Type: ErrDupFree, Off: reg[i]}
			log(err)
			return
		}
	}

	if bits == 0 { // Verify succeeded
		if stats != nil {
			*stats = st
		}
		return nil
	}

	// Phase 3 - some free blocks seen in phase 1 were never reached
	// through the table; report them.
	var off int64
	buf := make([]byte, 4096)
	rem := bitmap.Size()
	for rem != 0 {
		rq := int(mathutil.MinInt64(int64(len(buf)), rem))
		var n int
		if n, err = bitmap.ReadAt(buf[:rq], off); n != rq {
			return &ErrILSEQ{Type: ErrOther, Off: off, More: err}
		}

		for d, v := range buf[:rq] {
			if v == 0 {
				continue
			}

			for i, m := range bitMask {
				if v&m != 0 {
					hoff := (8*(off+int64(d)) + int64(i)) << 3
					err = &ErrILSEQ{Type: ErrLostFreeBlock, Off: hoff}
					log(err)
					return
				}
			}
		}

		off += int64(rq)
		rem -= int64(rq)
	}

	panic("internal error")
}
