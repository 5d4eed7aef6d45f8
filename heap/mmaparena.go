// Copyright 2026 The memheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix

package heap

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

var _ Memory = &MmapArena{} // Ensure MmapArena is a Memory.

// MmapArena is a Memory over one anonymous mapping reserved up front. Grow
// bumps the break inside the reservation, so the region's base never moves;
// requests past the reservation fail with ErrOOM. PunchHole releases the
// backing pages of the hole to the OS.
type MmapArena struct {
	b   []byte
	brk int64
}

// NewMmapArena reserves max bytes of anonymous memory and returns a
// MmapArena over them.
func NewMmapArena(max int64) (*MmapArena, error) {
	if max <= 0 {
		return nil, &ErrINVAL{"NewMmapArena: invalid reservation size", max}
	}

	b, err := unix.Mmap(-1, 0, int(max), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, &ErrOOM{Src: "NewMmapArena", Rq: max, More: err}
	}

	return &MmapArena{b: b}, nil
}

// Close implements Memory.
func (a *MmapArena) Close() (err error) {
	b := a.b
	a.b = nil
	a.brk = 0
	if b == nil {
		return
	}

	return unix.Munmap(b)
}

// Grow implements Memory.
func (a *MmapArena) Grow(n int64) (off int64, err error) {
	if n < 0 {
		return 0, &ErrINVAL{a.Name() + ":Grow", n}
	}

	if a.brk+n > int64(len(a.b)) {
		return 0, &ErrOOM{Src: a.Name() + ":Grow", Rq: n, More: unix.ENOMEM}
	}

	off = a.brk
	a.brk += n
	return
}

// Name implements Memory.
func (a *MmapArena) Name() string {
	return fmt.Sprintf("%p.mmap", a)
}

// PunchHole implements Memory. Pages fully inside the hole are returned to
// the OS; they read back as zeros when touched again.
func (a *MmapArena) PunchHole(off, size int64) (err error) {
	if off < 0 || size < 0 || off+size > a.brk {
		return &ErrINVAL{a.Name() + ":PunchHole", off}
	}

	from := (off + pgMask) &^ pgMask
	to := (off + size) &^ pgMask
	if to <= from {
		return
	}

	return unix.Madvise(a.b[from:to], unix.MADV_DONTNEED)
}

// ReadAt implements Memory.
func (a *MmapArena) ReadAt(b []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, &ErrINVAL{a.Name() + ":ReadAt", off}
	}

	if off >= a.brk {
		return 0, io.EOF
	}

	n = copy(b, a.b[off:a.brk])
	if n < len(b) {
		err = io.EOF
	}
	return
}

// Size implements Memory.
func (a *MmapArena) Size() int64 {
	return a.brk
}

// WriteAt implements Memory. Writing above the break moves the break up, but
// never past the reservation.
func (a *MmapArena) WriteAt(b []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, &ErrINVAL{a.Name() + ":WriteAt", off}
	}

	if off+int64(len(b)) > int64(len(a.b)) {
		return 0, &ErrOOM{Src: a.Name() + ":WriteAt", Rq: off + int64(len(b)) - int64(len(a.b)), More: unix.ENOMEM}
	}

	n = copy(a.b[off:], b)
	if end := off + int64(n); end > a.brk {
		a.brk = end
	}
	return
}
