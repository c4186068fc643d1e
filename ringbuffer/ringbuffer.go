// Package ringbuffer implements a fixed size circular byte buffer with
// independent, atomically published read and write cursors.
//
// The cursors are free running uint32 counters. Callers reserve space by
// inspecting the distance between the cursors, copy bytes in or out using the
// masked offset, then publish the new cursor. A single writer of each cursor
// makes the buffer safe for one producer and one consumer without locks.
package ringbuffer

import (
	"errors"
	"sync/atomic"
)

// ErrSize is returned by New when the size is not a nonzero power of two.
var ErrSize = errors.New("ringbuffer: size must be a nonzero power of two")

// RingBuffer is a power of two sized byte ring. The zero value is not
// usable; use New.
type RingBuffer struct {
	data  []byte
	mask  uint32
	read  atomic.Uint32
	write atomic.Uint32
}

// New allocates a RingBuffer with size bytes of backing storage.
func New(size uint32) (*RingBuffer, error) {
	if size == 0 || size&(size-1) != 0 {
		return nil, ErrSize
	}
	return &RingBuffer{data: make([]byte, size), mask: size - 1}, nil
}

// Size returns the capacity in bytes.
func (x *RingBuffer) Size() uint32 { return x.mask + 1 }

// Bytes exposes the backing storage. Offsets into it are index&(Size()-1).
func (x *RingBuffer) Bytes() []byte { return x.data }

// Offset masks a cursor value into the backing storage.
func (x *RingBuffer) Offset(index uint32) uint32 { return index & x.mask }

// ReadIndex returns the read cursor and the number of bytes available to
// read. A negative value indicates an underrun.
func (x *RingBuffer) ReadIndex() (index uint32, filled int32) {
	index = x.read.Load()
	filled = int32(x.write.Load() - index)
	return
}

// WriteIndex returns the write cursor and the number of bytes currently
// filled. A value larger than Size indicates an overrun.
func (x *RingBuffer) WriteIndex() (index uint32, filled int32) {
	index = x.write.Load()
	filled = int32(index - x.read.Load())
	return
}

// ReadData copies len(p) bytes starting at index into p, wrapping at the end
// of the backing storage.
func (x *RingBuffer) ReadData(index uint32, p []byte) {
	off := index & x.mask
	n := copy(p, x.data[off:])
	if n < len(p) {
		copy(p[n:], x.data)
	}
}

// WriteData copies p into the buffer starting at index, wrapping at the end
// of the backing storage.
func (x *RingBuffer) WriteData(index uint32, p []byte) {
	off := index & x.mask
	n := copy(x.data[off:], p)
	if n < len(p) {
		copy(x.data, p[n:])
	}
}

// ReadUpdate publishes a new read cursor, releasing space to the writer.
func (x *RingBuffer) ReadUpdate(index uint32) { x.read.Store(index) }

// WriteUpdate publishes a new write cursor. Bytes written before the call
// are visible to a reader that observes the new cursor.
func (x *RingBuffer) WriteUpdate(index uint32) { x.write.Store(index) }

// Reset discards all content.
func (x *RingBuffer) Reset() {
	x.read.Store(0)
	x.write.Store(0)
}
