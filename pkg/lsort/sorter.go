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
	"bufio"
	"container/heap"
	"context"
	"io"
	"os"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/jrivets/log4g"
	"github.com/logrange/lsort/pkg/lbuf"
	"github.com/pkg/errors"
)

type (
	// Interceptor is called for every line before it is written to the
	// output. It returns the line to be written, or nil to skip the line.
	// An empty line is written if a non-nil empty slice is returned.
	Interceptor func(line []byte) []byte

	// sorter does the external sort of one job. Lines are collected into
	// chunks, a chunk is sorted in memory and spilled to a temporary file
	// when it is full. The spilled chunks are merged into the output.
	sorter struct {
		cfg    *Config
		cmp    *comparer
		icpts  []Interceptor
		logger log4g.Logger
		spills []string
		lines  int64
		bytes  int64
	}

	// chunk keeps lines in one continuous arena
	chunk struct {
		data  []byte
		ends  []int
		lines [][]byte
	}

	mergeSource struct {
		idx  int
		lb   *lbuf.Buffer
		rec  lbuf.Record
		line []byte
	}

	mergeHeap struct {
		srcs []*mergeSource
		cmp  *comparer
	}
)

const (
	readBufSize  = 64 * 1024
	writeBufSize = 64 * 1024

	// the context is checked every ctxCheckLines lines
	ctxCheckLines = 4096
)

var emptyLine = []byte{}

// run reads lines from in and writes them to out. Lines are sorted if the
// sorter has the comparer, otherwise the input is transferred as is.
func (s *sorter) run(ctx context.Context, in io.Reader, out io.Writer) error {
	bw := bufio.NewWriterSize(out, writeBufSize)
	lw := lbuf.NewWriter(bw)
	var err error
	switch {
	case s.cmp != nil:
		err = s.sortLines(ctx, in, lw)
	case len(s.icpts) > 0:
		err = s.passLines(ctx, in, lw)
	default:
		var n int64
		n, err = copyChunked(ctx, bw, in)
		s.bytes += n
	}
	if err == nil {
		err = errors.Wrapf(lw.Close(), "could not write line")
	}
	if err != nil {
		return err
	}
	return errors.Wrapf(bw.Flush(), "could not flush the output")
}

// passLines writes lines through the interceptors keeping their order
func (s *sorter) passLines(ctx context.Context, in io.Reader, w *lbuf.Writer) error {
	lb := lbuf.New(in, readBufSize)
	var rec lbuf.Record
	for {
		if err := s.checkCtx(ctx); err != nil {
			return err
		}
		r, err := lb.ReadLine(&rec)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "could not read line %d", s.lines+1)
		}
		s.lines++
		s.bytes += int64(r.Len())
		if err := s.writeLine(w, r.Bytes()); err != nil {
			return err
		}
	}
}

func (s *sorter) sortLines(ctx context.Context, in io.Reader, w *lbuf.Writer) error {
	defer s.removeSpills()

	maxBytes := s.cfg.chunkBytes()
	maxLines := s.cfg.ChunkLines
	lb := lbuf.New(in, readBufSize)
	var rec lbuf.Record
	ch := new(chunk)
	for {
		if err := s.checkCtx(ctx); err != nil {
			return err
		}
		r, err := lb.ReadLine(&rec)
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "could not read line %d", s.lines+1)
		}
		ch.add(r.Bytes())
		s.lines++
		s.bytes += int64(r.Len())

		if int64(len(ch.data)) >= maxBytes || len(ch.ends) >= maxLines {
			if err := s.spill(ch); err != nil {
				return err
			}
			ch.reset()
		}
	}

	if len(s.spills) == 0 {
		ch.sort(s.cmp)
		for _, line := range ch.lines {
			if err := s.writeLine(w, line); err != nil {
				return err
			}
		}
		return nil
	}

	if len(ch.ends) > 0 {
		if err := s.spill(ch); err != nil {
			return err
		}
	}
	return s.merge(ctx, w)
}

// spill sorts the chunk and writes it into a new temporary file
func (s *sorter) spill(ch *chunk) (err error) {
	ch.sort(s.cmp)

	f, err := os.CreateTemp(s.cfg.TempDir, "lsort-spill-*")
	if err != nil {
		return errors.Wrapf(err, "could not create a spill file in %s", s.cfg.TempDir)
	}
	s.spills = append(s.spills, f.Name())
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "could not close the spill file %s", f.Name())
		}
	}()

	bw := bufio.NewWriterSize(f, writeBufSize)
	lw := lbuf.NewWriter(bw)
	for _, line := range ch.lines {
		lw.WriteLine(line)
	}
	lw.Close()
	if err = bw.Flush(); err != nil {
		return errors.Wrapf(err, "could not write the spill file %s", f.Name())
	}
	s.logger.Debug("Spilled ", len(ch.lines), " lines (", humanize.Bytes(uint64(len(ch.data))), ") to ", f.Name())
	return nil
}

// merge does the k-way merge of the spilled chunks. Equal lines are taken
// from the earlier chunk first, so the merge is stable.
func (s *sorter) merge(ctx context.Context, w *lbuf.Writer) (err error) {
	s.logger.Debug("Merging ", len(s.spills), " spilled chunks")
	mh := &mergeHeap{cmp: s.cmp}
	defer func() {
		for _, src := range mh.srcs {
			src.lb.Close()
		}
	}()

	for i, fn := range s.spills {
		f, err := os.Open(fn)
		if err != nil {
			return errors.Wrapf(err, "could not open the spill file %s", fn)
		}
		src := &mergeSource{idx: i, lb: lbuf.New(f, readBufSize)}
		ok, err := src.next()
		if err != nil {
			src.lb.Close()
			return err
		}
		if ok {
			mh.srcs = append(mh.srcs, src)
		} else {
			src.lb.Close()
		}
	}
	heap.Init(mh)

	var cnt int64
	for mh.Len() > 0 {
		if cnt%ctxCheckLines == 0 {
			if err := ctx.Err(); err != nil {
				return errors.Wrapf(ErrCancelled, "merge interrupted after %d lines: %v", cnt, err)
			}
		}
		cnt++

		src := mh.srcs[0]
		if err := s.writeLine(w, src.line); err != nil {
			return err
		}
		ok, err := src.next()
		if err != nil {
			return err
		}
		if ok {
			heap.Fix(mh, 0)
		} else {
			heap.Pop(mh)
			src.lb.Close()
		}
	}
	return nil
}

func (s *sorter) writeLine(w *lbuf.Writer, line []byte) error {
	if line == nil {
		line = emptyLine
	}
	for _, icpt := range s.icpts {
		if line = icpt(line); line == nil {
			return nil
		}
	}
	return errors.Wrapf(w.WriteLine(line), "could not write line")
}

func (s *sorter) checkCtx(ctx context.Context) error {
	if s.lines%ctxCheckLines != 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(ErrCancelled, "interrupted after %d lines: %v", s.lines, err)
	}
	return nil
}

// removeSpills deletes all spill files, it returns nothing cause the errors
// must not fail the job
func (s *sorter) removeSpills() {
	var errs *multierror.Error
	for _, fn := range s.spills {
		if err := os.Remove(fn); err != nil && !os.IsNotExist(err) {
			errs = multierror.Append(errs, err)
		}
	}
	s.spills = nil
	if errs != nil {
		s.logger.Warn("Could not remove spill files: ", errs)
	}
}

func (ch *chunk) add(line []byte) {
	ch.data = append(ch.data, line...)
	ch.ends = append(ch.ends, len(ch.data))
}

// sort makes the lines index over the arena and sorts it stably
func (ch *chunk) sort(cmp *comparer) {
	ch.lines = ch.lines[:0]
	start := 0
	for _, end := range ch.ends {
		ch.lines = append(ch.lines, ch.data[start:end:end])
		start = end
	}
	slices.SortStableFunc(ch.lines, cmp.compare)
}

func (ch *chunk) reset() {
	ch.data = ch.data[:0]
	ch.ends = ch.ends[:0]
	ch.lines = ch.lines[:0]
}

func (src *mergeSource) next() (bool, error) {
	r, err := src.lb.ReadLine(&src.rec)
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "could not read spilled chunk %d", src.idx)
	}
	src.line = r.Bytes()
	return true, nil
}

func (mh *mergeHeap) Len() int {
	return len(mh.srcs)
}

func (mh *mergeHeap) Less(i, j int) bool {
	a, b := mh.srcs[i], mh.srcs[j]
	if c := mh.cmp.compare(a.line, b.line); c != 0 {
		return c < 0
	}
	return a.idx < b.idx
}

func (mh *mergeHeap) Swap(i, j int) {
	mh.srcs[i], mh.srcs[j] = mh.srcs[j], mh.srcs[i]
}

func (mh *mergeHeap) Push(x interface{}) {
	mh.srcs = append(mh.srcs, x.(*mergeSource))
}

func (mh *mergeHeap) Pop() interface{} {
	n := len(mh.srcs)
	src := mh.srcs[n-1]
	mh.srcs = mh.srcs[:n-1]
	return src
}
