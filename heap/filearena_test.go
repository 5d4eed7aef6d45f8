// Copyright 2026 The memheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func tmpFileArena(t *testing.T) *FileArena {
	f, err := os.Create(filepath.Join(t.TempDir(), "heap.bin"))
	if err != nil {
		t.Fatal(err)
	}

	fa, err := NewFileArena(f)
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { fa.Close() })
	return fa
}

func TestFileArenaGrow(t *testing.T) {
	fa := tmpFileArena(t)
	off, err := fa.Grow(100)
	if err != nil {
		t.Fatal(err)
	}

	if g, e := off, int64(0); g != e {
		t.Fatal(g, e)
	}

	if g, e := fa.Size(), int64(100); g != e {
		t.Fatal(g, e)
	}

	b := make([]byte, 100)
	if n, err := fa.ReadAt(b, 0); n != 100 {
		t.Fatal(n, err)
	}

	if !bytes.Equal(b, make([]byte, 100)) {
		t.Fatal("garbage in grown range")
	}
}

// The allocator works unchanged over a file backed heap.
func TestFileArenaAllocator(t *testing.T) {
	fa := tmpFileArena(t)
	a, err := NewAllocator(fa)
	if err != nil {
		t.Fatal(err)
	}

	if err = a.Init(); err != nil {
		t.Fatal(err)
	}

	pat := []byte("persistent heap payload")
	p, err := a.Malloc(int64(len(pat)))
	if err != nil {
		t.Fatal(err)
	}

	if n, err := fa.WriteAt(pat, p); n != len(pat) {
		t.Fatal(n, err)
	}

	q, err := a.Malloc(5000)
	if err != nil {
		t.Fatal(err)
	}

	if err = a.Free(q); err != nil {
		t.Fatal(err)
	}

	if err = a.Check(); err != nil {
		t.Fatal(err)
	}

	b := make([]byte, len(pat))
	if n, err := fa.ReadAt(b, p); n != len(pat) {
		t.Fatal(n, err)
	}

	if !bytes.Equal(b, pat) {
		t.Fatal("payload damaged")
	}
}

// An Arena snapshot restores into a FileArena and vice versa.
func TestFileArenaSnapshot(t *testing.T) {
	a := newPAlloc(t)
	p := a.malloc(t, 500)
	pat := make([]byte, 500)
	for i := range pat {
		pat[i] = byte(i*13 + 1)
	}
	a.writePayload(t, p, pat)

	var buf bytes.Buffer
	if _, err := a.arena.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}

	fa := tmpFileArena(t)
	if _, err := fa.ReadFrom(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatal(err)
	}

	if g, e := fa.Size(), a.arena.Size(); g != e {
		t.Fatal(g, e)
	}

	b, err := NewAllocator(fa)
	if err != nil {
		t.Fatal(err)
	}

	if err = b.Check(); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, len(pat))
	if n, err := fa.ReadAt(got, p); n != len(pat) {
		t.Fatal(n, err)
	}

	if !bytes.Equal(got, pat) {
		t.Fatal("payload damaged by snapshot round trip")
	}

	// And back: file image to snapshot to Arena.
	var buf2 bytes.Buffer
	if _, err := fa.WriteTo(&buf2); err != nil {
		t.Fatal(err)
	}

	r := NewArena()
	if _, err := r.ReadFrom(&buf2); err != nil {
		t.Fatal(err)
	}

	if g, e := r.Size(), fa.Size(); g != e {
		t.Fatal(g, e)
	}

	got2 := make([]byte, len(pat))
	if n, err := r.ReadAt(got2, p); n != len(pat) {
		t.Fatal(n, err)
	}

	if !bytes.Equal(got2, pat) {
		t.Fatal("content differs")
	}
}
