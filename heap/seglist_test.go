// Copyright 2026 The memheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"testing"
)

func TestClass(t *testing.T) {
	tab := []struct {
		size int64
		c    int
	}{
		{minBlock, 0},
		{48, 0},
		{63, 0},
		{64, 1},
		{127, 1},
		{128, 2},
		{1024, 5},
		{4096, 7},
		{minBlock << (classes - 1), classes - 1},
		{minBlock << classes, classes - 1},
		{1 << 40, classes - 1},
	}
	for i, test := range tab {
		if g, e := class(test.size), test.c; g != e {
			t.Fatal(i, test.size, g, e)
		}
	}
}

func TestClassMonotone(t *testing.T) {
	prev := 0
	for size := int64(minBlock); size <= 1<<22; size += dsize {
		c := class(size)
		if c < prev {
			t.Fatal(size, c, prev)
		}

		if c < 0 || c >= classes {
			t.Fatal(size, c)
		}

		prev = c
	}
}

// LIFO discipline: the most recently registered block of a class is found
// first.
func TestLIFO(t *testing.T) {
	a := newPAlloc(t)
	p := a.malloc(t, 16)
	x := a.malloc(t, 16) // keeps p and q apart
	q := a.malloc(t, 16)
	y := a.malloc(t, 16) // keeps q off the heap tail
	_, _ = x, y

	a.free(t, q)
	a.free(t, p)
	if g, e := a.seg.heads[0], p; g != e {
		t.Fatal(g, e)
	}

	n, err := getWord(a.m, p+wsize)
	if err != nil {
		t.Fatal(err)
	}

	if g, e := n, q; g != e {
		t.Fatal(g, e)
	}
}
