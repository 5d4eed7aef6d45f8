// Copyright 2026 The memheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// A memory-only implementation of Memory.

package heap

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/cznic/mathutil"
	"github.com/cznic/sortutil"
	"github.com/cznic/zappy"
)

// One page per extension quantum: pgSize equals extPage. The break is not
// kept page aligned, so an extension may start and end inside a page.
const (
	pgBits = 12
	pgSize = 1 << pgBits // == extPage
	pgMask = pgSize - 1
)

var _ Memory = &Arena{} // Ensure Arena is a Memory.

type arenaMap map[int64]*[pgSize]byte

// Arena is a memory backed Memory. Pages are allocated lazily and a write
// covering a whole page with zeros drops that page, so a sparsely touched
// heap costs little.
// Arena is not automatically persistent, but it has ReadFrom and WriteTo
// methods producing a compressed snapshot of the heap image; an Allocator
// can attach to a restored snapshot.
type Arena struct {
	m    arenaMap
	size int64
}

// NewArena returns a new Arena.
func NewArena() *Arena {
	return &Arena{m: arenaMap{}}
}

// Close implements Memory.
func (a *Arena) Close() (err error) { return }

// Grow implements Memory.
func (a *Arena) Grow(n int64) (off int64, err error) {
	if n < 0 {
		return 0, &ErrINVAL{a.Name() + ":Grow", n}
	}

	off = a.size
	a.size += n
	return
}

// Name implements Memory.
func (a *Arena) Name() string {
	return fmt.Sprintf("%p.arena", a)
}

// PunchHole implements Memory. Only pages lying fully inside the hole can
// be dropped: the edge pages still carry bytes outside it - for the holes
// the allocator punches, the freed block's boundary tags and links among
// them.
func (a *Arena) PunchHole(off, size int64) (err error) {
	if off < 0 || size < 0 || off+size > a.size {
		return &ErrINVAL{a.Name() + ":PunchHole", off}
	}

	for pgI := (off + pgMask) >> pgBits; (pgI+1)<<pgBits <= off+size; pgI++ {
		delete(a.m, pgI)
	}
	return
}

var zeroPage [pgSize]byte

// ReadAt implements Memory. Unstored pages - never written, hole punched or
// zero elided - read back as zeros.
func (a *Arena) ReadAt(b []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, &ErrINVAL{a.Name() + ":ReadAt", off}
	}

	end := off + int64(len(b))
	if end > a.size {
		end = a.size
		err = io.EOF
	}
	for off < end {
		o := int(off & pgMask)
		nc := int(mathutil.MinInt64(end-off, int64(pgSize-o)))
		switch pg := a.m[off>>pgBits]; pg {
		case nil:
			for i := range b[n : n+nc] {
				b[n+i] = 0
			}
		default:
			copy(b[n:n+nc], pg[o:])
		}
		n += nc
		off += int64(nc)
	}
	return
}

// Size implements Memory.
func (a *Arena) Size() int64 {
	return a.size
}

// WriteAt implements Memory. A write covering a whole page with zeros drops
// the page instead of storing it, so freed and punched ranges cost nothing.
func (a *Arena) WriteAt(b []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, &ErrINVAL{a.Name() + ":WriteAt", off}
	}

	for n < len(b) {
		pgI := off >> pgBits
		o := int(off & pgMask)
		nc := mathutil.Min(len(b)-n, pgSize-o)
		src := b[n : n+nc]
		switch {
		case nc == pgSize && bytes.Equal(src, zeroPage[:]):
			delete(a.m, pgI)
		default:
			pg := a.m[pgI]
			if pg == nil {
				pg = new([pgSize]byte)
				a.m[pgI] = pg
			}
			copy(pg[o:], src)
		}
		n += nc
		off += int64(nc)
	}
	if off > a.size {
		a.size = off
	}
	return
}

// Snapshot wire format: the magic, the region size, then one record per
// stored page - page index, compressed length, zappy compressed page
// content - terminated by a pseudo record with page index -1.
var snapMagic = []byte("memheap\x01")

func snapWriteRecord(w io.Writer, pgI int64, z []byte) (n int64, err error) {
	var b [2 * wsize]byte
	w2b(b[:], pgI)
	w2b(b[wsize:], int64(len(z)))
	wn, err := w.Write(b[:])
	n = int64(wn)
	if err != nil {
		return
	}

	if len(z) != 0 {
		wn, err = w.Write(z)
		n += int64(wn)
	}
	return
}

func snapReadRecord(r io.Reader, z []byte) (pgI int64, data []byte, n int64, err error) {
	var b [2 * wsize]byte
	rn, err := io.ReadFull(r, b[:])
	n = int64(rn)
	if err != nil {
		return
	}

	pgI = b2w(b[:])
	clen := b2w(b[wsize:])
	if pgI < 0 {
		return
	}

	if clen < 0 || clen > pgSize+pgSize/4 {
		return 0, nil, n, &ErrILSEQ{Type: ErrOther, Off: n}
	}

	data = need(int(clen), z)
	rn, err = io.ReadFull(r, data)
	n += int64(rn)
	return
}

// Return len(slice) == n, reuse src if possible.
func need(n int, src []byte) []byte {
	if cap(src) < n {
		return make([]byte, n)
	}

	return src[:n]
}

// WriteTo writes a snapshot of the Arena to w. 'n' reports the number of
// bytes written.
func (a *Arena) WriteTo(w io.Writer) (n int64, err error) {
	wn, err := w.Write(snapMagic)
	n = int64(wn)
	if err != nil {
		return
	}

	var b [wsize]byte
	if wn, err = w.Write(w2b(b[:], a.size)); err != nil {
		return n + int64(wn), err
	}

	n += int64(wn)

	pgs := make(sortutil.Int64Slice, 0, len(a.m))
	for pgI := range a.m {
		pgs = append(pgs, pgI)
	}
	sort.Sort(pgs)

	var z []byte
	var rn int64
	for _, pgI := range pgs {
		pg := a.m[pgI]
		if bytes.Equal(pg[:], zeroPage[:]) {
			continue
		}

		if z, err = zappy.Encode(z, pg[:]); err != nil {
			return
		}

		if rn, err = snapWriteRecord(w, pgI, z); err != nil {
			return n + rn, err
		}

		n += rn
	}

	rn, err = snapWriteRecord(w, -1, nil)
	return n + rn, err
}

// ReadFrom replaces the Arena's content with the snapshot read from r. 'n'
// reports the number of bytes read.
func (a *Arena) ReadFrom(r io.Reader) (n int64, err error) {
	var magic [8]byte
	rn, err := io.ReadFull(r, magic[:])
	n = int64(rn)
	if err != nil {
		return
	}

	if !bytes.Equal(magic[:], snapMagic) {
		return n, &ErrILSEQ{Type: ErrOther, More: fmt.Errorf("%s: bad snapshot magic", a.Name())}
	}

	var b [wsize]byte
	if rn, err = io.ReadFull(r, b[:]); err != nil {
		return n + int64(rn), err
	}

	n += int64(rn)
	size := b2w(b[:])
	if size < 0 {
		return n, &ErrILSEQ{Type: ErrOther, Off: n}
	}

	a.m = arenaMap{}
	a.size = size

	var z, u []byte
	for {
		pgI, data, rn, e := snapReadRecord(r, z)
		n += rn
		if e != nil {
			return n, e
		}

		if pgI < 0 {
			return n, nil
		}

		z = data
		if u, err = zappy.Decode(u, data); err != nil {
			return
		}

		if len(u) != pgSize {
			return n, &ErrILSEQ{Type: ErrOther, Off: n}
		}

		if bytes.Equal(u, zeroPage[:]) {
			continue
		}

		pg := new([pgSize]byte)
		copy(pg[:], u)
		a.m[pgI] = pg
	}
}
