// Copyright 2026 The memheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Error types the package produces.

package heap

import (
	"fmt"
)

// ErrINVAL reports invalid values passed as API arguments, for example an
// out of range payload offset. More details in the error message.
type ErrINVAL struct {
	Src string
	Val interface{}
}

// Error implements the built in error type.
func (e *ErrINVAL) Error() string {
	return fmt.Sprintf("%s: %+v", e.Src, e.Val)
}

// ErrPERM is for example reported when calling Init over a Memory which
// already has content.
type ErrPERM struct {
	Src string
}

// Error implements the built in error type.
func (e *ErrPERM) Error() string {
	return fmt.Sprintf("%s: operation not permitted", e.Src)
}

// ErrOOM is reported when the host Memory refuses to grow. It is the
// recoverable out-of-memory condition: the allocator metadata is left
// exactly as it was before the failed call.
type ErrOOM struct {
	Src  string
	Rq   int64
	More error
}

// Error implements the built in error type.
func (e *ErrOOM) Error() string {
	if e.More != nil {
		return fmt.Sprintf("%s: cannot grow heap by %d bytes: %v", e.Src, e.Rq, e.More)
	}

	return fmt.Sprintf("%s: cannot grow heap by %d bytes", e.Src, e.Rq)
}

// ErrType is the type of a structural error detected in a heap image.
type ErrType int

// Possible ErrILSEQ types.
const (
	ErrOther         ErrType = iota // Other errors, could have More info attached
	ErrHeapSize                     // Heap size is not well formed
	ErrPrologue                     // Malformed prologue block or pad word
	ErrEpilogue                     // Epilogue header missing or misplaced
	ErrTagMismatch                  // Header and footer of a block differ
	ErrBlockSize                    // Block size not a multiple of dsize or below minimum
	ErrBlockSpan                    // Block extends beyond the epilogue
	ErrAdjacentFree                 // Two adjacent blocks are both free
	ErrExpFree                      // Expected a free block
	ErrFreeFlag                     // An allocated block is registered in the free list table
	ErrClass                        // A free block is registered in the wrong size class
	ErrChaining                     // prev/next links of a free list are not inverses
	ErrTableEntry                   // A list references an offset which is not a free block start
	ErrDupFree                      // A free block is registered more than once
	ErrLostFreeBlock                // A free block is not registered in any list
)

// ErrILSEQ reports a corrupted heap image as detected by Check or Verify.
// The invariants the allocator maintains make such errors impossible unless
// the client wrote through an invalid offset or the heap bytes were damaged
// by other means.
type ErrILSEQ struct {
	Type ErrType
	Off  int64
	Arg  int64
	Arg2 int64
	More error
}

// Error implements the built in error type.
func (e *ErrILSEQ) Error() string {
	switch e.Type {
	case ErrHeapSize:
		return fmt.Sprintf("heap size %#x is not well formed", e.Arg)
	case ErrPrologue:
		return fmt.Sprintf("malformed prologue at off %#x", e.Off)
	case ErrEpilogue:
		return fmt.Sprintf("missing or misplaced epilogue header at off %#x", e.Off)
	case ErrTagMismatch:
		return fmt.Sprintf("block at off %#x: header %#x != footer %#x", e.Off, e.Arg, e.Arg2)
	case ErrBlockSize:
		return fmt.Sprintf("block at off %#x has invalid size %d", e.Off, e.Arg)
	case ErrBlockSpan:
		return fmt.Sprintf("block at off %#x spans %d bytes beyond the epilogue", e.Off, e.Arg)
	case ErrAdjacentFree:
		return fmt.Sprintf("adjacent free blocks at off %#x and %#x", e.Off, e.Arg)
	case ErrExpFree:
		return fmt.Sprintf("expected a free block at off %#x", e.Off)
	case ErrFreeFlag:
		return fmt.Sprintf("allocated block at off %#x is registered in class %d", e.Off, e.Arg)
	case ErrClass:
		return fmt.Sprintf("free block at off %#x of size %d registered in class %d", e.Off, e.Arg, e.Arg2)
	case ErrChaining:
		return fmt.Sprintf("broken free list chaining at off %#x", e.Off)
	case ErrTableEntry:
		return fmt.Sprintf("free list table references off %#x which is not a free block", e.Off)
	case ErrDupFree:
		return fmt.Sprintf("free block at off %#x registered more than once", e.Off)
	case ErrLostFreeBlock:
		return fmt.Sprintf("free block at off %#x not registered in any list", e.Off)
	}

	more := ""
	if e.More != nil {
		more = ", " + e.More.Error()
	}
	off := ""
	if e.Off != 0 {
		off = fmt.Sprintf(", off: %#x", e.Off)
	}

	return fmt.Sprintf("heap corrupted%s%s", off, more)
}
