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

package lsort

import (
	"context"
	"io"
	"sync"

	"github.com/logrange/lsort/pkg/util"
	"github.com/pkg/errors"
)

type (
	// chunkPipe is an in-memory pipe which connects the copying and the
	// sorting goroutines. Unlike io.Pipe the writer doesn't wait for the
	// reader until the pipe has capacity chunks in flight.
	chunkPipe struct {
		ch    chan []byte
		done  chan struct{}
		cur   []byte
		wOnce sync.Once
		rOnce sync.Once
		werr  error
		rerr  error
	}
)

const (
	pipeChunkSize = 32 * 1024
	maxEmptyReads = 100
)

func newChunkPipe(capacity int) *chunkPipe {
	return &chunkPipe{
		ch:   make(chan []byte, capacity),
		done: make(chan struct{}),
	}
}

// Write splits b to chunks and puts them into the pipe. It blocks while
// the pipe is full, and returns the reader error if the reading side is
// closed.
func (p *chunkPipe) Write(b []byte) (int, error) {
	total := 0
	for len(b) > 0 {
		n := len(b)
		if n > pipeChunkSize {
			n = pipeChunkSize
		}
		c := util.BytesCopy(b[:n])
		if p.readClosed() {
			return total, p.rerr
		}
		select {
		case <-p.done:
			return total, p.rerr
		case p.ch <- c:
		}
		total += n
		b = b[n:]
	}
	return total, nil
}

// CloseWrite closes the writing side. The reader gets err when all chunks
// are read, or io.EOF if err is nil.
func (p *chunkPipe) CloseWrite(err error) {
	p.wOnce.Do(func() {
		p.werr = err
		close(p.ch)
	})
}

// Read reads data from the pipe, it blocks until a chunk is available
func (p *chunkPipe) Read(b []byte) (int, error) {
	if p.readClosed() {
		return 0, io.ErrClosedPipe
	}
	for len(p.cur) == 0 {
		select {
		case <-p.done:
			return 0, io.ErrClosedPipe
		case c, ok := <-p.ch:
			if !ok {
				if p.werr != nil {
					return 0, p.werr
				}
				return 0, io.EOF
			}
			p.cur = c
		}
	}
	n := copy(b, p.cur)
	p.cur = p.cur[n:]
	return n, nil
}

// CloseRead closes the reading side, a blocked writer is released with
// err, or with io.ErrClosedPipe if err is nil.
func (p *chunkPipe) CloseRead(err error) {
	p.rOnce.Do(func() {
		if err == nil {
			err = io.ErrClosedPipe
		}
		p.rerr = err
		close(p.done)
	})
}

func (p *chunkPipe) readClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// copyChunked transfers bytes from src to dst as is. The context is
// checked between the chunks.
func copyChunked(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, pipeChunkSize)
	var total int64
	empty := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, errors.Wrapf(ErrCancelled, "copying interrupted after %d bytes: %v", total, err)
		}

		n, err := src.Read(buf)
		if n > 0 {
			empty = 0
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, errors.Wrapf(werr, "could not write %d bytes", n)
			}
			total += int64(n)
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, errors.Wrapf(err, "could not read after %d bytes", total)
		}
		if n == 0 {
			empty++
			if empty >= maxEmptyReads {
				return total, io.ErrNoProgress
			}
		}
	}
}
