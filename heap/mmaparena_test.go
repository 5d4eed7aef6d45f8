// Copyright 2026 The memheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix

package heap

import (
	"bytes"
	"testing"
)

func TestMmapArena(t *testing.T) {
	ma, err := NewMmapArena(1 << 20)
	if err != nil {
		t.Fatal(err)
	}

	defer ma.Close()

	off, err := ma.Grow(4096)
	if err != nil {
		t.Fatal(err)
	}

	if g, e := off, int64(0); g != e {
		t.Fatal(g, e)
	}

	pat := []byte{1, 2, 3}
	if n, err := ma.WriteAt(pat, 100); n != len(pat) {
		t.Fatal(n, err)
	}

	b := make([]byte, 3)
	if n, err := ma.ReadAt(b, 100); n != 3 {
		t.Fatal(n, err)
	}

	if !bytes.Equal(b, pat) {
		t.Fatal(b)
	}

	// Growing past the reservation fails.
	if _, err = ma.Grow(2 << 20); err == nil {
		t.Fatal("unexpected success")
	}

	if _, ok := err.(*ErrOOM); !ok {
		t.Fatalf("%T %v", err, err)
	}
}

func TestMmapArenaPunchHole(t *testing.T) {
	ma, err := NewMmapArena(1 << 20)
	if err != nil {
		t.Fatal(err)
	}

	defer ma.Close()

	if _, err = ma.Grow(3 * pgSize); err != nil {
		t.Fatal(err)
	}

	b := make([]byte, 3*pgSize)
	for i := range b {
		b[i] = 0xFF
	}
	if n, err := ma.WriteAt(b, 0); n != len(b) {
		t.Fatal(n, err)
	}

	if err = ma.PunchHole(pgSize, pgSize); err != nil {
		t.Fatal(err)
	}

	rb := make([]byte, pgSize)
	if n, err := ma.ReadAt(rb, pgSize); n != pgSize {
		t.Fatal(n, err)
	}

	if !bytes.Equal(rb, zeroPage[:]) {
		t.Fatal("hole reads back non zero")
	}
}

// The allocator works unchanged over an mmap backed heap and surfaces
// reservation exhaustion as ErrOOM without corrupting its metadata.
func TestMmapArenaAllocator(t *testing.T) {
	ma, err := NewMmapArena(64 << 10)
	if err != nil {
		t.Fatal(err)
	}

	defer ma.Close()

	a, err := NewAllocator(ma)
	if err != nil {
		t.Fatal(err)
	}

	if err = a.Init(); err != nil {
		t.Fatal(err)
	}

	var bps []int64
	for i := 0; i < 10; i++ {
		bp, err := a.Malloc(1000)
		if err != nil {
			t.Fatal(i, err)
		}

		bps = append(bps, bp)
	}

	if _, err = a.Malloc(1 << 20); err == nil {
		t.Fatal("unexpected success")
	}

	if _, ok := err.(*ErrOOM); !ok {
		t.Fatalf("%T %v", err, err)
	}

	if err = a.Check(); err != nil {
		t.Fatal(err)
	}

	for _, bp := range bps {
		if err = a.Free(bp); err != nil {
			t.Fatal(err)
		}
	}

	if err = a.Check(); err != nil {
		t.Fatal(err)
	}
}
