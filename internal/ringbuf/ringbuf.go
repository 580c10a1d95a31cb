// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package ringbuf implements a fixed-capacity single-producer,
// single-consumer byte queue with zero-copy contiguous read/write
// windows.
package ringbuf

import "github.com/pkg/errors"

// ErrOverflow is returned by Store when the caller asks to store more
// bytes than Room() currently reports.
var ErrOverflow = errors.New("ringbuf: store exceeds available room")

// ErrUnderflow is returned by Advance when asked to release more bytes
// than Available() currently reports.
var ErrUnderflow = errors.New("ringbuf: advance exceeds available bytes")

// RingBuffer is a fixed-capacity byte ring. One slot of the backing
// array is always kept empty so a full buffer can be told apart from an
// empty one without a separate counter. Capacity() reports the usable
// size N; the backing array is N+1 bytes.
type RingBuffer struct {
	buf  []byte
	rpos int
	wpos int
	n    int // public capacity, len(buf) == n+1
}

// New allocates a RingBuffer able to hold up to n bytes at once.
func New(n int) *RingBuffer {
	if n <= 0 {
		n = 1
	}
	return &RingBuffer{
		buf: make([]byte, n+1),
		n:   n,
	}
}

// Capacity returns the usable capacity N passed to New.
func (r *RingBuffer) Capacity() int {
	return r.n
}

// Room returns the number of bytes that can be stored without loss.
func (r *RingBuffer) Room() int {
	switch {
	case r.rpos == r.wpos:
		return r.n
	case r.rpos < r.wpos:
		return r.rpos + len(r.buf) - r.wpos - 1
	default:
		return r.rpos - r.wpos - 1
	}
}

// Available returns the number of bytes that can be consumed.
func (r *RingBuffer) Available() int {
	switch {
	case r.rpos == r.wpos:
		return 0
	case r.rpos < r.wpos:
		return r.wpos - r.rpos
	default:
		return r.wpos + len(r.buf) - r.rpos
	}
}

// FillRatio reports Available()/Capacity() as a float in [0,1], used by
// the producer pipeline's prebuffer threshold check.
func (r *RingBuffer) FillRatio() float64 {
	return float64(r.Available()) / float64(r.n)
}

// contiguousRoom returns the bytes available to the write cursor before
// it must wrap.
func (r *RingBuffer) contiguousRoom() int {
	return len(r.buf) - r.wpos
}

// contiguousAvailable returns the bytes available to the read cursor
// before it must wrap.
func (r *RingBuffer) contiguousAvailable() int {
	if r.wpos > r.rpos {
		return r.wpos - r.rpos
	}
	return len(r.buf) - r.rpos
}

// Store copies src into the ring, splitting the copy at the wrap point
// when necessary. It fails with ErrOverflow if len(src) > Room().
func (r *RingBuffer) Store(src []byte) error {
	size := len(src)
	if size == 0 {
		return nil
	}
	if size > r.Room() {
		return ErrOverflow
	}

	first := size
	if cr := r.contiguousRoom(); first > cr {
		first = cr
	}
	copy(r.buf[r.wpos:], src[:first])
	r.wpos += first
	size -= first

	if size == 0 {
		if r.wpos == len(r.buf) {
			r.wpos = 0
		}
		return nil
	}

	r.wpos = 0
	copy(r.buf, src[first:])
	r.wpos += size
	return nil
}

// GetReadWindow returns the largest contiguous readable slice starting
// at the read cursor. The returned slice aliases the ring's backing
// array and is only valid until the next Store or Advance call. It is
// empty when Available() == 0.
func (r *RingBuffer) GetReadWindow() []byte {
	if r.rpos == len(r.buf) {
		r.rpos = 0
	}
	n := r.contiguousAvailable()
	if n > r.Available() {
		n = r.Available()
	}
	return r.buf[r.rpos : r.rpos+n]
}

// Advance releases k bytes at the read cursor, wrapping as needed. It
// fails with ErrUnderflow if k > Available().
func (r *RingBuffer) Advance(k int) error {
	if k == 0 {
		return nil
	}
	if k > r.Available() {
		return ErrUnderflow
	}
	r.rpos += k
	if r.rpos >= len(r.buf) {
		r.rpos -= len(r.buf)
	}
	return nil
}

// Reset returns the ring to the empty state. Not used on the hot path;
// exists for test fixtures that reuse a single RingBuffer across cases.
func (r *RingBuffer) Reset() {
	r.rpos = 0
	r.wpos = 0
}
