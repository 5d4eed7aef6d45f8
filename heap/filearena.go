// Copyright 2026 The memheap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// A basic os.File backed Memory.

package heap

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/cznic/fileutil"
	"github.com/cznic/mathutil"
	"github.com/cznic/zappy"
)

var _ Memory = &FileArena{} // Ensure FileArena is a Memory.

// FileArena is an os.File backed Memory. There is no journaling or other
// protection of the heap image against crashes mid-write; it is intended for
// working data sets and for persisting snapshots, not as a durable store.
// Freed space hole punching is delegated to the OS where supported.
type FileArena struct {
	file *os.File
	size int64
}

// NewFileArena returns a new FileArena backed by f.
func NewFileArena(f *os.File) (*FileArena, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	return &FileArena{file: f, size: fi.Size()}, nil
}

// Close implements Memory.
func (f *FileArena) Close() (err error) {
	return f.file.Close()
}

// Grow implements Memory.
func (f *FileArena) Grow(n int64) (off int64, err error) {
	if n < 0 {
		return 0, &ErrINVAL{f.Name() + ":Grow", n}
	}

	if err = f.file.Truncate(f.size + n); err != nil {
		return 0, err
	}

	off = f.size
	f.size += n
	return
}

// Name implements Memory.
func (f *FileArena) Name() string {
	return f.file.Name()
}

// PunchHole implements Memory.
func (f *FileArena) PunchHole(off, size int64) (err error) {
	return fileutil.PunchHole(f.file, off, size)
}

// ReadAt implements Memory.
func (f *FileArena) ReadAt(b []byte, off int64) (n int, err error) {
	return f.file.ReadAt(b, off)
}

// Size implements Memory.
func (f *FileArena) Size() int64 {
	return f.size
}

// WriteAt implements Memory.
func (f *FileArena) WriteAt(b []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, &ErrINVAL{f.Name() + ":WriteAt", off}
	}

	if n, err = f.file.WriteAt(b, off); err != nil {
		return
	}

	f.size = mathutil.MaxInt64(f.size, off+int64(n))
	return
}

// WriteTo writes a snapshot of the heap image to w, in the same wire format
// Arena.WriteTo produces. All-zero pages - including punched holes - are not
// recorded.
func (f *FileArena) WriteTo(w io.Writer) (n int64, err error) {
	wn, err := w.Write(snapMagic)
	n = int64(wn)
	if err != nil {
		return
	}

	var b [wsize]byte
	if wn, err = w.Write(w2b(b[:], f.size)); err != nil {
		return n + int64(wn), err
	}

	n += int64(wn)

	var (
		pg [pgSize]byte
		z  []byte
		rn int64
	)

	lastPgI := (f.size + pgMask) >> pgBits
	for pgI := int64(0); pgI < lastPgI; pgI++ {
		for i := range pg {
			pg[i] = 0
		}
		if _, e := f.file.ReadAt(pg[:], pgI<<pgBits); e != nil && e != io.EOF {
			return n, e
		}

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

// ReadFrom replaces the heap image with the snapshot read from r. Pages the
// snapshot does not record, and recorded pages which decompress to all
// zeros, become holes. 'n' reports the number of bytes read.
func (f *FileArena) ReadFrom(r io.Reader) (n int64, err error) {
	var magic [8]byte
	rn, err := io.ReadFull(r, magic[:])
	n = int64(rn)
	if err != nil {
		return
	}

	if !bytes.Equal(magic[:], snapMagic) {
		return n, &ErrILSEQ{Type: ErrOther, More: fmt.Errorf("%s: bad snapshot magic", f.Name())}
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

	if err = f.file.Truncate(0); err != nil {
		return
	}

	if err = f.file.Truncate(size); err != nil {
		return
	}

	f.size = size

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
			if err = fileutil.PunchHole(f.file, pgI<<pgBits, pgSize); err != nil {
				return
			}

			continue
		}

		end := mathutil.MinInt64((pgI+1)<<pgBits, size)
		if _, e := f.file.WriteAt(u[:end-pgI<<pgBits], pgI<<pgBits); e != nil {
			return n, e
		}
	}
}
