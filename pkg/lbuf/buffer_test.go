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

package lbuf

import (
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/logrange/lsort/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type (
	closeRecorder struct {
		io.Reader
		closed bool
	}

	// lazyReader returns 0, nil every second call
	lazyReader struct {
		io.Reader
		cnt int
	}
)

func (cr *closeRecorder) Close() error {
	cr.closed = true
	return nil
}

func (lr *lazyReader) Read(p []byte) (int, error) {
	lr.cnt++
	if lr.cnt%2 == 1 {
		return 0, nil
	}
	return lr.Reader.Read(p)
}

func readAll(t *testing.T, b *Buffer) []string {
	var res []string
	var rec Record
	for {
		r, err := b.ReadLine(&rec)
		if err == io.EOF {
			return res
		}
		require.NoError(t, err)
		require.True(t, r == &rec, "the record must be reused")
		res = append(res, r.String())
	}
}

func TestReadLineSimple(t *testing.T) {
	b := New(strings.NewReader("aa\nbb\n\ncc"), 0)
	assert.Equal(t, DefaultBufSize, len(b.buf))
	assert.Equal(t, []string{"aa", "bb", "", "cc"}, readAll(t, b))

	_, err := b.ReadLine(nil)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, int64(9), b.Pos())
}

func TestReadLineEmptyStream(t *testing.T) {
	b := New(strings.NewReader(""), 10)
	_, err := b.ReadLine(nil)
	assert.Equal(t, io.EOF, err)

	b = New(strings.NewReader("\n"), 10)
	assert.Equal(t, []string{""}, readAll(t, b))
}

func TestReadLineTerminators(t *testing.T) {
	lines := []string{"chr1\t100", "", "chr2\t200", "", "", "chrX\t1", "x"}
	canonical := strings.Join(lines, "\n") + "\n"
	terms := []string{"\n", "\r\n", "\n\r"}

	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		var sb strings.Builder
		for _, l := range lines {
			sb.WriteString(l)
			sb.WriteString(terms[rnd.Intn(len(terms))])
		}

		for _, sz := range []int{1, 2, 3, 7, 64} {
			exp := readAll(t, New(strings.NewReader(canonical), sz))
			assert.Equal(t, lines, exp)

			act := readAll(t, New(strings.NewReader(sb.String()), sz))
			assert.Equal(t, exp, act, "input=%q, bufSize=%d", sb.String(), sz)

			act = readAll(t, New(iotest.OneByteReader(strings.NewReader(sb.String())), sz))
			assert.Equal(t, exp, act, "one byte reader, input=%q, bufSize=%d", sb.String(), sz)
		}
	}
}

func TestReadLineOffsets(t *testing.T) {
	b := NewAt(strings.NewReader("ab\r\ncd\n\ref\n"), 4, 100)
	var offs []int64
	for {
		r, err := b.ReadLine(nil)
		if err != nil {
			assert.Equal(t, io.EOF, err)
			break
		}
		offs = append(offs, r.Offset())
	}
	assert.Equal(t, []int64{100, 104, 108}, offs)
	assert.Equal(t, int64(111), b.Pos())
}

func TestReadLineLongLine(t *testing.T) {
	long := strings.Repeat("0123456789", 20)
	b := New(strings.NewReader("a\n"+long+"\nb"), 8)
	assert.Equal(t, []string{"a", long, "b"}, readAll(t, b))
	assert.True(t, len(b.buf) >= len(long))
}

func TestReadLineLazyReader(t *testing.T) {
	b := New(&lazyReader{Reader: strings.NewReader("a\nbb\nccc\n")}, 2)
	assert.Equal(t, []string{"a", "bb", "ccc"}, readAll(t, b))
}

func TestReadLineNoProgress(t *testing.T) {
	b := New(readerFunc(func(p []byte) (int, error) { return 0, nil }), 2)
	_, err := b.ReadLine(nil)
	assert.Equal(t, io.ErrNoProgress, err)
}

func TestReadLineError(t *testing.T) {
	errBoom := errors.New("boom")
	b := New(io.MultiReader(strings.NewReader("a\nb"), iotest.ErrReader(errBoom)), 16)
	r, err := b.ReadLine(nil)
	assert.NoError(t, err)
	assert.Equal(t, "a", r.String())

	_, err = b.ReadLine(nil)
	assert.Equal(t, errBoom, err)
	_, err = b.ReadLine(nil)
	assert.Equal(t, errBoom, err, "the error must be sticky")
}

func TestAvailable(t *testing.T) {
	b := New(&lazyReader{Reader: strings.NewReader("abc\n")}, 8)
	n, err := b.Available()
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = b.Available()
	assert.NoError(t, err)
	assert.Equal(t, 4, n)

	r, err := b.ReadLine(nil)
	assert.NoError(t, err)
	assert.Equal(t, "abc", r.String())

	for i := 0; i < 3 && err == nil; i++ {
		n, err = b.Available()
		assert.Equal(t, 0, n)
	}
	assert.Equal(t, io.EOF, err)
}

func TestAvailableCompacts(t *testing.T) {
	b := New(strings.NewReader("0123456789"), 4)
	n, err := b.Available()
	assert.NoError(t, err)
	assert.Equal(t, 4, n)

	b.r = b.w
	n, err = b.Available()
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 0, b.r)
	assert.Equal(t, int64(8), b.pos)
	assert.Equal(t, 4, len(b.buf), "compaction must not grow the buffer")
}

func TestMarkResetInBuffer(t *testing.T) {
	b := New(strings.NewReader("aa\nbb\ncc\ndd\nee\n"), 64)
	assert.Equal(t, ResetOK, b.Reset(), "no mark, no-op")

	r, _ := b.ReadLine(nil)
	assert.Equal(t, "aa", r.String())
	b.Mark()
	pos, ok := b.MarkPos()
	assert.True(t, ok)
	assert.Equal(t, int64(3), pos)

	first := readAll(t, b)
	assert.Equal(t, []string{"bb", "cc", "dd", "ee"}, first)

	assert.Equal(t, ResetOK, b.Reset())
	assert.Equal(t, int64(3), b.Pos())
	assert.Equal(t, first, readAll(t, b))

	// the mark stays after reset
	assert.Equal(t, ResetOK, b.Reset())
	assert.Equal(t, first, readAll(t, b))
}

func TestMarkCompaction(t *testing.T) {
	b := New(strings.NewReader("aa\nbb\ncc\ndd\n"), 8)
	r, err := b.ReadLine(nil)
	require.NoError(t, err)
	assert.Equal(t, "aa", r.String())
	b.Mark()

	r, _ = b.ReadLine(r)
	assert.Equal(t, "bb", r.String())
	r, _ = b.ReadLine(r)
	assert.Equal(t, "cc", r.String())
	// compaction happened, but the marked data was kept
	assert.Equal(t, int64(3), b.startPos())

	assert.Equal(t, ResetOK, b.Reset())
	assert.Equal(t, []string{"bb", "cc", "dd"}, readAll(t, b))

	// reading "dd" required to drop the marked data
	assert.Equal(t, int64(9), b.startPos())
	assert.Equal(t, int64(6), b.Reset())
	assert.Equal(t, int64(12), b.Pos(), "unsuccessful reset doesn't change the position")
	pos, ok := b.MarkPos()
	assert.True(t, ok)
	assert.Equal(t, int64(3), pos)
}

func TestMarkResetOutOfBuffer(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 100; i++ {
		sb.WriteString("line-")
		sb.WriteByte(byte('a' + i%26))
		sb.WriteString("\n")
	}
	b := New(strings.NewReader(sb.String()), 16)
	b.Mark()
	lines := readAll(t, b)
	assert.Len(t, lines, 100)

	d := b.Reset()
	assert.True(t, d > 0)
	start := b.startPos()
	assert.Equal(t, start, d)
}

func TestUnread(t *testing.T) {
	b := New(strings.NewReader("aa\nbb\n"), 16)
	assert.False(t, b.Unread())

	r, _ := b.ReadLine(nil)
	assert.Equal(t, "aa", r.String())
	assert.True(t, b.Unread())
	assert.False(t, b.Unread())
	assert.Equal(t, int64(0), b.Pos())

	r, _ = b.ReadLine(r)
	assert.Equal(t, "aa", r.String())
	r, _ = b.ReadLine(r)
	assert.Equal(t, "bb", r.String())
	assert.True(t, b.Unread())
	assert.Equal(t, int64(3), b.Pos())
}

func TestRecordCopy(t *testing.T) {
	b := New(strings.NewReader("aa\nbb\n"), 16)
	r, _ := b.ReadLine(nil)
	c := r.Copy()
	b.ReadLine(r)
	assert.Equal(t, "bb", r.String())
	assert.Equal(t, "aa", c.String())
	assert.Equal(t, int64(0), c.Offset())
	assert.Equal(t, 2, c.Len())
}

func TestClose(t *testing.T) {
	cr := &closeRecorder{Reader: strings.NewReader("aa\n")}
	b := New(cr, 16)
	assert.NoError(t, b.Close())
	assert.True(t, cr.closed)
	assert.NoError(t, b.Close())

	_, err := b.ReadLine(nil)
	assert.Equal(t, util.ErrWrongState, err)
	_, err = b.Available()
	assert.Equal(t, util.ErrWrongState, err)
}

type readerFunc func(p []byte) (int, error)

func (rf readerFunc) Read(p []byte) (int, error) {
	return rf(p)
}
