// Package ringbuf provides a fixed-capacity circular byte buffer used as the
// staging area between an FTP data channel and an HTTP response.
//
// The buffer never grows. Producers and consumers that run at different
// rates see backpressure through Free and Len instead of unbounded memory
// use. Fill and Drain move bytes between the buffer and an io.Reader or
// io.Writer without an intermediate copy.
//
// A Buffer is not safe for concurrent use; it is owned by a single transfer
// loop for its whole lifetime.
package ringbuf

import (
	"errors"
	"io"
)

// ErrInvalidSize is returned by New for a non-positive capacity.
var ErrInvalidSize = errors.New("ringbuf: size must be positive")

// Buffer is a circular buffer over a contiguous byte slice.
type Buffer struct {
	buf  []byte
	r    int // next read position
	w    int // next write position
	full bool
}

// New allocates a buffer with the given capacity.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	return &Buffer{buf: make([]byte, size)}, nil
}

// NewWithBacking wraps an existing slice. The buffer takes ownership of p;
// its capacity is len(p).
func NewWithBacking(p []byte) (*Buffer, error) {
	if len(p) == 0 {
		return nil, ErrInvalidSize
	}
	return &Buffer{buf: p}, nil
}

// Cap returns the total capacity in bytes.
func (b *Buffer) Cap() int { return len(b.buf) }

// Len returns the number of bytes available for reading.
func (b *Buffer) Len() int {
	switch {
	case b.full:
		return len(b.buf)
	case b.w >= b.r:
		return b.w - b.r
	default:
		return len(b.buf) - (b.r - b.w)
	}
}

// Free returns the number of bytes that can be written before the buffer is full.
func (b *Buffer) Free() int { return len(b.buf) - b.Len() }

// IsEmpty reports whether there is nothing to read.
func (b *Buffer) IsEmpty() bool { return !b.full && b.r == b.w }

// IsFull reports whether there is no room to write.
func (b *Buffer) IsFull() bool { return b.full }

// Reset discards all buffered data.
func (b *Buffer) Reset() {
	b.r, b.w, b.full = 0, 0, false
}

// Write copies as much of p as fits and returns the number of bytes written.
// It never blocks and never returns an error; a full buffer accepts 0 bytes.
func (b *Buffer) Write(p []byte) int {
	if b.full || len(p) == 0 {
		return 0
	}
	n := min(len(p), b.Free())

	first := min(n, len(b.buf)-b.w)
	copy(b.buf[b.w:], p[:first])
	copy(b.buf, p[first:n])

	b.advanceWrite(n)
	return n
}

// Read copies up to len(p) buffered bytes into p in FIFO order.
func (b *Buffer) Read(p []byte) int {
	if b.IsEmpty() || len(p) == 0 {
		return 0
	}
	n := min(len(p), b.Len())

	first := min(n, len(b.buf)-b.r)
	copy(p, b.buf[b.r:b.r+first])
	copy(p[first:n], b.buf)

	b.advanceRead(n)
	return n
}

// Fill performs a single Read from r directly into the contiguous free region
// of the buffer, reading at most limit bytes when limit > 0. It returns the
// number of bytes stored and the reader's error, if any. Fill on a full buffer
// returns 0, nil without touching r.
func (b *Buffer) Fill(r io.Reader, limit int) (int, error) {
	region := b.writable()
	if len(region) == 0 {
		return 0, nil
	}
	if limit > 0 && len(region) > limit {
		region = region[:limit]
	}
	n, err := r.Read(region)
	if n < 0 || n > len(region) {
		return 0, errors.New("ringbuf: reader returned invalid count")
	}
	b.advanceWrite(n)
	return n, err
}

// Drain performs a single Write of the contiguous readable region to w,
// writing at most limit bytes when limit > 0. Bytes accepted by w are
// consumed even when w also returns an error.
func (b *Buffer) Drain(w io.Writer, limit int) (int, error) {
	region := b.readable()
	if len(region) == 0 {
		return 0, nil
	}
	if limit > 0 && len(region) > limit {
		region = region[:limit]
	}
	n, err := w.Write(region)
	if n < 0 || n > len(region) {
		return 0, errors.New("ringbuf: writer returned invalid count")
	}
	b.advanceRead(n)
	if err == nil && n < len(region) {
		err = io.ErrShortWrite
	}
	return n, err
}

// writable returns the contiguous free region starting at the write position.
func (b *Buffer) writable() []byte {
	if b.full {
		return nil
	}
	if b.w >= b.r {
		return b.buf[b.w:]
	}
	return b.buf[b.w:b.r]
}

// readable returns the contiguous filled region starting at the read position.
func (b *Buffer) readable() []byte {
	if b.IsEmpty() {
		return nil
	}
	if b.r < b.w {
		return b.buf[b.r:b.w]
	}
	return b.buf[b.r:]
}

func (b *Buffer) advanceWrite(n int) {
	if n == 0 {
		return
	}
	b.w = (b.w + n) % len(b.buf)
	if b.w == b.r {
		b.full = true
	}
}

func (b *Buffer) advanceRead(n int) {
	if n == 0 {
		return
	}
	b.r = (b.r + n) % len(b.buf)
	b.full = false
	// Rewind when drained so the next Fill gets the largest contiguous region.
	if b.r == b.w {
		b.r, b.w = 0, 0
	}
}
