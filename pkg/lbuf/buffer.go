// Copyright 2018-2019 The logrange Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package lbuf contains Buffer, a buffered reader which turns a bytes stream
// into a sequence of lines. The Buffer tracks absolute stream offsets of the
// lines and supports Mark() and Reset() within the data it still keeps in
// memory.
//
// The Buffer works over an internal slice of bytes with the following layout:
//
// +-------------+-----------------+--------------+---------------+
// | compactable | kept (marked)   | unread       | free          |
// +-------------+-----------------+--------------+---------------+
// 0             mark              r              w               len(buf)
//
// r is the read position, w is the position where the next read from the
// stream goes. pos is the stream offset which corresponds to w, so buf[i]
// has the stream offset pos - w + i.
package lbuf

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/logrange/lsort/pkg/util"
)

type (
	// Buffer reads lines from an io.Reader. The '\n', "\r\n" and "\n\r"
	// sequences are considered as line terminators. The Buffer methods can be
	// called from different go-routines, but the order of the calls is up to
	// the caller, so sharing one Buffer between concurrent readers makes
	// little sense.
	Buffer struct {
		lock sync.Mutex
		rd   io.Reader

		buf []byte
		r   int   // buf read position
		w   int   // buf write position
		pos int64 // stream offset of buf[w]

		marked  bool
		markPos int64
		lastPos int64 // start of the line returned by last ReadLine or -1

		eof    bool
		err    error
		closed bool
	}
)

const (
	// DefaultBufSize is the buffer size used when a non-positive size is
	// provided to New()
	DefaultBufSize = 1024

	// ResetOK is returned by Reset() when the position was restored from the
	// buffer
	ResetOK = int64(0)

	maxEmptyReads = 100
)

// New creates new Buffer which reads data from rd. The stream is considered
// to start at offset 0.
func New(rd io.Reader, size int) *Buffer {
	return NewAt(rd, size, 0)
}

// NewAt creates new Buffer for rd, which first byte has the stream offset
// offset. It is used when a file is re-opened from a position.
func NewAt(rd io.Reader, size int, offset int64) *Buffer {
	if size <= 0 {
		size = DefaultBufSize
	}
	b := new(Buffer)
	b.rd = rd
	b.buf = make([]byte, size)
	b.pos = offset
	b.lastPos = -1
	return b
}

func (b *Buffer) String() string {
	return fmt.Sprintf("{pos=%d, bufLen=%d, r=%d, w=%d, marked=%t, markPos=%d, eof=%t}",
		b.pos, len(b.buf), b.r, b.w, b.marked, b.markPos, b.eof)
}

// Available returns number of unread bytes in the buffer. If there is no such
// bytes, it tries to read the stream. 0 and nil error are returned when the
// stream returned nothing, but it is not over yet. 0 and io.EOF are returned
// when the stream is over and the buffer is empty.
func (b *Buffer) Available() (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.closed {
		return 0, util.ErrWrongState
	}

	if b.r < b.w {
		return b.w - b.r, nil
	}

	_, err := b.fill()
	if b.r < b.w {
		return b.w - b.r, nil
	}
	if err == nil && b.eof {
		err = io.EOF
	}
	return 0, err
}

// ReadLine reads next line into rec and returns it. If rec is nil, new Record
// is allocated. Lines longer than the buffer make the buffer grow. The last
// line of the stream could have no terminator. io.EOF is returned when there
// is no data left.
func (b *Buffer) ReadLine(rec *Record) (*Record, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.closed {
		return nil, util.ErrWrongState
	}

	scan := b.r
	empties := 0
	for {
		if idx := bytes.IndexByte(b.buf[scan:b.w], '\n'); idx >= 0 {
			idx += scan
			end, next := idx, idx+1
			if end > b.r && b.buf[end-1] == '\r' {
				return b.takeLine(rec, end-1, next), nil
			}
			if next < b.w {
				if b.buf[next] == '\r' {
					next++
				}
				return b.takeLine(rec, end, next), nil
			}
			if b.eof {
				return b.takeLine(rec, end, next), nil
			}
			// "\n\r" could be the terminator, need the next byte to know
			scan = idx
		} else {
			scan = b.w
			if b.eof {
				if b.r == b.w {
					return nil, io.EOF
				}
				return b.takeLine(rec, b.w, b.w), nil
			}
		}

		rel := scan - b.r
		n, err := b.fill()
		if err != nil {
			return nil, err
		}
		scan = b.r + rel

		if n == 0 && !b.eof {
			empties++
			if empties > maxEmptyReads {
				return nil, io.ErrNoProgress
			}
		}
	}
}

// Mark remembers the current read position. Reset() will return to the
// position later.
func (b *Buffer) Mark() {
	b.lock.Lock()
	b.markPos = b.readPos()
	b.marked = true
	b.lock.Unlock()
}

// Reset moves the read position to the marked one. It returns ResetOK if the
// marked position is still in the buffer, or there is no mark at all.
// Otherwise the buffer position stays unchanged and the number of bytes
// between the mark and the first byte the buffer still holds is returned.
// The caller has to re-open the stream from MarkPos() then.
func (b *Buffer) Reset() int64 {
	b.lock.Lock()
	defer b.lock.Unlock()

	if !b.marked {
		return ResetOK
	}

	start := b.startPos()
	if b.markPos < start {
		return start - b.markPos
	}
	b.r = int(b.markPos - start)
	b.lastPos = -1
	return ResetOK
}

// MarkPos returns the marked position and whether the mark is set
func (b *Buffer) MarkPos() (int64, bool) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.markPos, b.marked
}

// Unread returns the line read by the last ReadLine() back to the buffer,
// so the next ReadLine() will return it again. Returns false if there was no
// ReadLine() call since the last Unread() or Reset(), or if the line bytes
// are not in the buffer anymore.
func (b *Buffer) Unread() bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	start := b.startPos()
	if b.lastPos < start {
		return false
	}
	b.r = int(b.lastPos - start)
	b.lastPos = -1
	return true
}

// Pos returns the stream offset of the next byte to be read
func (b *Buffer) Pos() int64 {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.readPos()
}

// Close closes the underlying reader, if it is an io.Closer.
func (b *Buffer) Close() error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.buf = nil
	b.r, b.w = 0, 0
	if c, ok := b.rd.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (b *Buffer) readPos() int64 {
	return b.pos - int64(b.w-b.r)
}

func (b *Buffer) startPos() int64 {
	return b.pos - int64(b.w)
}

// takeLine copies buf[r:end] into rec and moves the read position to next
func (b *Buffer) takeLine(rec *Record, end, next int) *Record {
	if rec == nil {
		rec = new(Record)
	}
	off := b.readPos()
	rec.set(b.buf[b.r:end], off)
	b.lastPos = off
	b.r = next
	return rec
}

// fill reads the stream into the free part of the buffer, compacting or
// growing the buffer if there is no free space. It returns number of bytes read.
// io.EOF is never returned, but the eof flag is set instead.
func (b *Buffer) fill() (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	if b.eof {
		return 0, nil
	}

	if b.w == len(b.buf) {
		b.compact()
	}
	if b.w == len(b.buf) {
		b.grow()
	}

	n, err := b.rd.Read(b.buf[b.w:])
	if n < 0 {
		panic("Negative read result, received from the stream")
	}
	b.w += n
	b.pos += int64(n)
	if err == io.EOF {
		b.eof = true
		err = nil
	}
	b.err = err
	return n, err
}

// compact shifts the data to the buffer beginning. The data from the mark is
// kept if the marked region leaves some free space after the shift, so Reset()
// still could be done from the buffer. Otherwise the data from the read
// position is kept and the mark becomes not reachable from the buffer.
func (b *Buffer) compact() {
	from := b.r
	if b.marked {
		start := b.startPos()
		if b.markPos >= start {
			mi := int(b.markPos - start)
			if b.w-mi < len(b.buf) {
				from = mi
			}
		}
	}

	if from == 0 {
		return
	}
	copy(b.buf, b.buf[from:b.w])
	b.w -= from
	b.r -= from
}

// grow doubles the buffer size, it happens when a line doesn't fit the buffer
func (b *Buffer) grow() {
	nb := make([]byte, 2*len(b.buf))
	copy(nb, b.buf[:b.w])
	b.buf = nb
}
