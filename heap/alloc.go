// Copyright 2026 The memheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The heap space management.

package heap

import (
	"github.com/cznic/mathutil"
)

/*

Allocator implements dynamic memory management over the contiguous region of
address space abstracted by a Memory. Client code requests blocks by byte
size and releases them when finished; the allocator satisfies the requests
from a segregated free list index, reusing freed space, and grows the region
through the Memory's sbrk-style Grow primitive only when no registered free
block fits.

Heap layout

The region starts with one zero pad word followed by the prologue - an
allocated block of size dsize whose footer anchors left-neighbour traversal -
and ends with the epilogue, a zero size allocated header occupying the last
word of the region. Between the two sentinels the heap is a gapless sequence
of blocks; see the block layout comments in block.go.

Free list index

Free blocks are organized in doubly linked lists, one per size class, with
LIFO insertion. The links are intrusive: a free block's first two payload
words hold them. A block is registered in the index if and only if its
allocated flag is clear, and after every public call no two physically
adjacent blocks are both free - deallocation joins neighbours eagerly.

The merged result of a coalesce is registered by coalesce itself, exactly
once; callers never pre-insert. Realloc's move path copies the old payload
out, then deallocates the old block through a dedicated no-coalesce
deallocation, which registers it without joining its neighbours.

Offsets

All public methods exchange payload offsets: the absolute Memory offset of
the first payload byte of a block, one word above its header. The zero
offset is the null value; no valid payload ever resides there. Passing
offsets not obtained from Malloc or Realloc, or not anymore valid, can
result in an irreparably corrupted heap.

*/
type Allocator struct {
	m        Memory
	seg      seglist
	epilogue int64 // offset of the epilogue header
}

// NewAllocator returns a new Allocator managing m. For a new heap, pass a
// Memory of zero size and call Init. Passing a non empty Memory attaches to
// an existing heap image, for example one restored from a snapshot: the
// image is validated and the free list index is rebuilt from the boundary
// tags.
func NewAllocator(m Memory) (a *Allocator, err error) {
	a = &Allocator{m: m}
	if m.Size() == 0 {
		return a, nil
	}

	if err = a.attach(); err != nil {
		return nil, err
	}

	return a, nil
}

// Init lays out an empty heap: the pad word, the prologue, the epilogue, a
// zeroed free list index, and an initial free block of chunkSize bytes. Init
// must be called exactly once and only over a zero size Memory; re-running a
// process against a retained Memory means a new Memory, not a second Init.
func (a *Allocator) Init() (err error) {
	if a.m.Size() != 0 {
		return &ErrPERM{a.m.Name() + ":Init"}
	}

	off, err := a.m.Grow(4 * wsize)
	if err != nil {
		return &ErrOOM{Src: a.m.Name() + ":Init", Rq: 4 * wsize, More: err}
	}

	if err = putWord(a.m, off, 0); err != nil { // pad
		return
	}

	if err = putWord(a.m, off+wsize, pack(dsize, true)); err != nil { // prologue header
		return
	}

	if err = putWord(a.m, off+2*wsize, pack(dsize, true)); err != nil { // prologue footer
		return
	}

	a.epilogue = off + 3*wsize
	if err = putWord(a.m, a.epilogue, pack(0, true)); err != nil {
		return
	}

	a.seg = seglist{}
	_, err = a.extend(chunkSize)
	return
}

// attach validates the sentinels of an existing heap image and rebuilds the
// free list index by walking the boundary tags.
func (a *Allocator) attach() (err error) {
	sz := a.m.Size()
	if sz < 4*wsize || sz%dsize != 0 {
		return &ErrILSEQ{Type: ErrHeapSize, Arg: sz}
	}

	for off, e := range [3]int64{0: 0, 1: pack(dsize, true), 2: pack(dsize, true)} {
		w, err := getWord(a.m, int64(off)*wsize)
		if err != nil {
			return err
		}

		if w != e {
			return &ErrILSEQ{Type: ErrPrologue, Off: int64(off) * wsize}
		}
	}

	a.epilogue = sz - wsize
	w, err := getWord(a.m, a.epilogue)
	if err != nil {
		return
	}

	if w != pack(0, true) {
		return &ErrILSEQ{Type: ErrEpilogue, Off: a.epilogue}
	}

	a.seg = seglist{}
	for hoff := int64(3 * wsize); hoff != a.epilogue; {
		if w, err = getWord(a.m, hoff); err != nil {
			return
		}

		size, alloc := unpack(w)
		if size < minBlock || size%dsize != 0 {
			return &ErrILSEQ{Type: ErrBlockSize, Off: hoff, Arg: size}
		}

		if hoff+size > a.epilogue {
			return &ErrILSEQ{Type: ErrBlockSpan, Off: hoff, Arg: hoff + size - a.epilogue}
		}

		if !alloc {
			if err = a.link(hoff+wsize, size); err != nil {
				return
			}
		}

		hoff += size
	}
	return
}

// adjust returns the block size needed to serve a request of size bytes:
// the payload plus both boundary tags, rounded up to a dsize multiple, at
// least minBlock.
func adjust(size int64) int64 {
	if size <= dsize {
		return minBlock
	}

	return dsize * ((size + dsize + dsize - 1) / dsize)
}

// Malloc allocates a block with a payload capacity of at least size bytes
// and returns its payload offset. The payload offset is dsize aligned and
// remains stable for the life of the block. A zero size request returns the
// null offset and no error. The content of the block is not zeroed.
func (a *Allocator) Malloc(size int64) (bp int64, err error) {
	switch {
	case size == 0:
		return 0, nil
	case size < 0 || size > maxRq:
		return 0, &ErrINVAL{"Malloc: size out of limits", size}
	}

	asize := adjust(size)
	if bp, err = a.find(asize); bp != 0 || err != nil {
		return
	}

	ext, err := a.extend(mathutil.MaxInt64(asize, extPage))
	if err != nil {
		return 0, err
	}

	return a.place(ext, asize)
}

// find searches the free list index for the first block of size >= asize,
// first-fit in list order within a class, classes searched smallest first.
// It returns the placed block's payload offset, or 0 if no registered block
// fits.
func (a *Allocator) find(asize int64) (bp int64, err error) {
	for c := class(asize); c < classes; c++ {
		for h := a.seg.heads[c]; h != 0; {
			size, alloc, err := a.tag(h)
			if err != nil {
				return 0, err
			}

			if alloc {
				return 0, &ErrILSEQ{Type: ErrExpFree, Off: hdroff(h)}
			}

			if size >= asize {
				return a.place(h, asize)
			}

			if h, err = getWord(a.m, h+wsize); err != nil {
				return 0, err
			}
		}
	}
	return 0, nil
}

// place deregisters the free block bp and allocates its first asize bytes.
// If the remainder is big enough to stand as a block of its own the block is
// split and the free tail registered; otherwise the whole block is
// allocated. The new header is written before the footer position is
// computed from it.
func (a *Allocator) place(bp, asize int64) (int64, error) {
	size, _, err := a.tag(bp)
	if err != nil {
		return 0, err
	}

	if err = a.unlink(bp, size); err != nil {
		return 0, err
	}

	rem := size - asize
	if rem < minBlock {
		return bp, a.stamp(bp, size, true)
	}

	if err = a.stamp(bp, asize, true); err != nil {
		return 0, err
	}

	tail := nextOff(bp, asize)
	if err = a.stamp(tail, rem, false); err != nil {
		return 0, err
	}

	return bp, a.link(tail, rem)
}

// Free deallocates the block with payload offset bp, joining it with any
// free physical neighbour, and registers the merged result. Freeing the null
// offset is a nop. bp must have been obtained from Malloc or Realloc and
// must still be valid; an invalid bp in range corrupts the heap.
func (a *Allocator) Free(bp int64) (err error) {
	if bp == 0 {
		return
	}

	if err = a.checkOff(bp, "Free"); err != nil {
		return
	}

	size, alloc, err := a.tag(bp)
	if err != nil {
		return
	}

	if !alloc {
		return &ErrINVAL{"Free: attempt to free a free block at off", bp}
	}

	if err = a.stamp(bp, size, false); err != nil {
		return
	}

	_, err = a.coalesce(bp)
	return
}

// freeNoCoalesce deallocates bp and registers it as-is, without joining
// neighbours. Used by Realloc so the block keeps its identity and can be
// revived if the move fails; any adjacency it leaves behind is repaired
// before Realloc returns.
func (a *Allocator) freeNoCoalesce(bp int64) (err error) {
	size, _, err := a.tag(bp)
	if err != nil {
		return
	}

	if err = a.stamp(bp, size, false); err != nil {
		return
	}

	return a.link(bp, size)
}

// coalesce joins the unregistered free block bp with its free physical
// neighbours, deregistering any absorbed neighbour, and registers the merged
// block. On return the merged block is in the index exactly once. Returns
// the merged block's payload offset.
func (a *Allocator) coalesce(bp int64) (merged int64, err error) {
	size, _, err := a.tag(bp)
	if err != nil {
		return
	}

	pw, err := getWord(a.m, bp-dsize) // left neighbour's footer
	if err != nil {
		return
	}

	nw, err := getWord(a.m, bp+size-wsize) // right neighbour's header
	if err != nil {
		return
	}

	psize, palloc := unpack(pw)
	nsize, nalloc := unpack(nw)

	merged = bp
	switch {
	case palloc && nalloc:
		// nothing to join
	case palloc && !nalloc:
		if err = a.unlink(nextOff(bp, size), nsize); err != nil {
			return
		}

		size += nsize
	case !palloc && nalloc:
		if err = a.unlink(bp-psize, psize); err != nil {
			return
		}

		merged = bp - psize
		size += psize
	default:
		if err = a.unlink(bp-psize, psize); err != nil {
			return
		}

		if err = a.unlink(nextOff(bp, size), nsize); err != nil {
			return
		}

		merged = bp - psize
		size += psize + nsize
	}

	if err = a.stamp(merged, size, false); err != nil {
		return
	}

	if err = a.link(merged, size); err != nil {
		return
	}

	return merged, a.maybePunch(merged, size)
}

// maybePunch releases the backing space of a large free block's payload
// interior. The boundary tags and both link words are left in place.
func (a *Allocator) maybePunch(bp, size int64) error {
	if size-2*dsize < punchThreshold {
		return nil
	}

	return a.m.PunchHole(bp+dsize, size-2*dsize)
}

// extend grows the heap by at least bytes, net of the size of a free block
// sitting at the heap tail (growing past a trailing free block would double
// count it). The freshly acquired range is stamped as one free block reusing
// the old epilogue word as its header, a new epilogue is written at the new
// break, and the block is coalesced - which joins it with the trailing free
// block, if any, and registers the result. On Grow failure no metadata is
// touched.
func (a *Allocator) extend(bytes int64) (bp int64, err error) {
	rq := (bytes + dsize - 1) &^ (dsize - 1)

	w, err := getWord(a.m, a.epilogue-wsize) // footer of the last block
	if err != nil {
		return
	}

	if tsize, talloc := unpack(w); !talloc {
		rq -= tsize
		if rq <= 0 {
			// The trailing free block alone covers the request.
			return a.epilogue - tsize + wsize, nil
		}
	}

	off, err := a.m.Grow(rq)
	if err != nil {
		return 0, &ErrOOM{Src: a.m.Name() + ":extend", Rq: rq, More: err}
	}

	bp = off // the old epilogue word becomes the new block's header
	if err = a.stamp(bp, rq, false); err != nil {
		return
	}

	a.epilogue = nextOff(bp, rq) - wsize
	if err = putWord(a.m, a.epilogue, pack(0, true)); err != nil {
		return
	}

	return a.coalesce(bp)
}

// Realloc resizes the block with payload offset bp to a payload capacity of
// at least size bytes, preserving the first min(old, new) payload bytes, and
// returns the payload offset of the resized block - which may differ from
// bp. A null bp is plain Malloc; a zero size is plain Free returning the
// null offset. When the block must move, twice the requested size is
// allocated to smooth repeated growth.
func (a *Allocator) Realloc(bp, size int64) (nbp int64, err error) {
	switch {
	case size == 0:
		return 0, a.Free(bp)
	case bp == 0:
		return a.Malloc(size)
	case size < 0 || size > maxRq:
		return 0, &ErrINVAL{"Realloc: size out of limits", size}
	}

	if err = a.checkOff(bp, "Realloc"); err != nil {
		return
	}

	bsize, alloc, err := a.tag(bp)
	if err != nil {
		return
	}

	if !alloc {
		return 0, &ErrINVAL{"Realloc: attempt to resize a free block at off", bp}
	}

	asize := adjust(size)
	if asize <= bsize {
		return bp, nil
	}

	// Grow in place when the right neighbour is a free block big enough
	// to absorb.
	nw, err := getWord(a.m, bp+bsize-wsize)
	if err != nil {
		return
	}

	if nsize, nalloc := unpack(nw); !nalloc && bsize+nsize >= asize {
		if err = a.unlink(nextOff(bp, bsize), nsize); err != nil {
			return
		}

		total := bsize + nsize
		rem := total - asize
		if rem < minBlock {
			if err = a.stamp(bp, total, true); err != nil {
				return
			}

			return bp, nil
		}

		if err = a.stamp(bp, asize, true); err != nil {
			return
		}

		tail := nextOff(bp, asize)
		if err = a.stamp(tail, rem, false); err != nil {
			return
		}

		if err = a.link(tail, rem); err != nil {
			return
		}

		return bp, nil
	}

	// Must move. Copy the payload prefix out first: once deallocated, the
	// block can be joined into a large free block by a coalesce inside
	// Malloc and have its interior hole punched. Save the two payload
	// words the free list links will clobber, deallocate without
	// coalescing so a refused Malloc can revive the block in place, and
	// let Malloc reuse the tail - through the trailing-free fold - or
	// relocate.
	n := mathutil.MinInt64(size, bsize-dsize)
	buf := make([]byte, n)
	if rn, e := a.m.ReadAt(buf, bp); int64(rn) != n {
		if e == nil {
			e = &ErrILSEQ{Type: ErrOther, Off: bp}
		}
		return 0, e
	}

	w1, err := getWord(a.m, bp)
	if err != nil {
		return
	}

	w2, err := getWord(a.m, bp+wsize)
	if err != nil {
		return
	}

	if err = a.freeNoCoalesce(bp); err != nil {
		return
	}

	if nbp, err = a.Malloc(2 * size); err != nil {
		// Grow refused and no metadata was touched since the
		// deallocation above, so bp is still intact; revive it.
		if e := a.revive(bp, bsize, w1, w2); e != nil {
			return 0, e
		}

		return 0, err
	}

	if wn, e := a.m.WriteAt(buf, nbp); int64(wn) != n {
		if e == nil {
			e = &ErrILSEQ{Type: ErrOther, Off: nbp}
		}
		return 0, e
	}

	if err = putWord(a.m, nbp, w1); err != nil {
		return
	}

	if err = putWord(a.m, nbp+wsize, w2); err != nil {
		return
	}

	// If the old block came through untouched it is free, registered and
	// possibly adjacent to another free block; join it now that its
	// bytes are copied out.
	if osize, oalloc, e := a.tag(bp); e == nil && !oalloc && osize == bsize {
		if err = a.unlink(bp, bsize); err != nil {
			return
		}

		if _, err = a.coalesce(bp); err != nil {
			return
		}
	}

	return nbp, nil
}

// revive rolls a freeNoCoalesce back: bp is deregistered, marked allocated
// again and its first two payload words restored.
func (a *Allocator) revive(bp, size, w1, w2 int64) (err error) {
	if err = a.unlink(bp, size); err != nil {
		return
	}

	if err = a.stamp(bp, size, true); err != nil {
		return
	}

	if err = putWord(a.m, bp, w1); err != nil {
		return
	}

	return putWord(a.m, bp+wsize, w2)
}

// checkOff rejects payload offsets which cannot possibly refer to a block:
// misaligned, below the first possible payload, or at/above the epilogue.
// Valid-looking offsets into the middle of blocks are not detected.
func (a *Allocator) checkOff(bp int64, src string) error {
	if bp%dsize != 0 || bp < 2*dsize || bp >= a.epilogue {
		return &ErrINVAL{src + ": offset out of limits", bp}
	}

	return nil
}
