// Package buffer provides a small growable byte buffer used by the wire
// codecs in this module. It plays the same role as the teacher's
// internal/buffer package, but is implemented with plain Go slices instead
// of unsafe pointer arithmetic, because nothing here type-puns onto a fixed
// kernel struct layout: every wire format below is our own.
package buffer

import "errors"

// ErrOutOfMemory is returned by Reserve and Assign when the requested
// allocation cannot be satisfied: a negative length, a single request larger
// than maxReserve, or a total that would overflow int. make(...) panics for ordinary
// out-of-memory conditions, which is consistent with how the rest of this
// module treats allocation failure as fatal rather than recoverable.
var ErrOutOfMemory = errors.New("buffer: out of memory")

// Buffer is a growable scratch region. The zero value is an
// empty, ready-to-use buffer.
//
// Buffer is not safe for concurrent use; callers that share a Buffer across
// goroutines must provide their own synchronization.
type Buffer struct {
	data []byte
}

// maxReserve bounds a single Reserve call so that a malformed length prefix
// read from the network can't be used to force an enormous allocation.
const maxReserve = 256 << 20 // 256 MiB

// Reserve ensures the buffer has room for n additional bytes beyond its
// current size and returns the offset at which those bytes may be written.
// The reserved region becomes part of the buffer's contents immediately:
// Len grows by n on return, and the caller fills the bytes at
// [offset, offset+n) in place.
func (b *Buffer) Reserve(n int) (offset int, err error) {
	if n < 0 || n > maxReserve {
		return 0, ErrOutOfMemory
	}

	offset = len(b.data)
	need := offset + n
	if need < 0 {
		return 0, ErrOutOfMemory
	}

	if cap(b.data) < need {
		grown := make([]byte, len(b.data), need)
		copy(grown, b.data)
		b.data = grown
	}

	b.data = b.data[:need]
	return offset, nil
}

// Grow is a convenience wrapper around Reserve that returns a slice over the
// newly reserved region, ready to be written into directly.
func (b *Buffer) Grow(n int) ([]byte, error) {
	offset, err := b.Reserve(n)
	if err != nil {
		return nil, err
	}
	return b.data[offset : offset+n], nil
}

// Append grows the buffer by len(p) and copies p into the new region.
func (b *Buffer) Append(p []byte) error {
	dst, err := b.Grow(len(p))
	if err != nil {
		return err
	}
	copy(dst, p)
	return nil
}

// Assign replaces the buffer's contents with a copy of data.
func (b *Buffer) Assign(data []byte) error {
	if len(data) > maxReserve {
		return ErrOutOfMemory
	}
	b.data = append(b.data[:0], data...)
	return nil
}

// Len returns the current size of the buffer's contents.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes returns a reference to the buffer's current contents. The slice is
// invalidated by any subsequent call to Reserve, Grow, Append, Assign, or
// Cleanup.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Cleanup releases the buffer's storage, returning it to the zero value.
func (b *Buffer) Cleanup() {
	b.data = nil
}
