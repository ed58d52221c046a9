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

// Package sorted provides the Iterator which reads lines of a file or a
// stream in the order defined by a comparison chain. Unsorted data is sorted
// into a temporary file by a background job first, sorted files are read
// directly.
package sorted

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/jrivets/log4g"
	"github.com/logrange/lsort/pkg/lbuf"
	"github.com/logrange/lsort/pkg/lsort"
	"github.com/logrange/lsort/pkg/util"
	"github.com/mohae/deepcopy"
	"github.com/pkg/errors"
)

type (
	// Iterator returns lines of the sorted source one by one. The position
	// can be marked and reset back to the mark any time.
	//
	// Iterator is not safe for concurrent use. Clear() interrupts the sort
	// job if Init() was cancelled by its context before the job is over.
	Iterator struct {
		cfg    *Config
		chain  *lsort.Chain
		inFile string
		in     io.Reader

		// source is the name of the sorted file. tmp is true if the file
		// is created by the iterator.
		source string
		tmp    bool
		task   *lsort.Task

		buf   *lbuf.Buffer
		rec   lbuf.Record
		ahead bool
		state int

		marked  bool
		markPos int64

		// failErr is the first failure. pending keeps it until Next()
		// returns it after HasNext() has reported false.
		failErr  error
		reported bool
		pending  error

		logger log4g.Logger
	}
)

const (
	stUninitialized = iota
	stSorting
	stReady
	stFailed
	stCleared
)

// ErrFailed is returned by the Iterator which failed before. The first
// failure is returned once, the following calls get ErrFailed.
var ErrFailed = errors.New("the iterator failed before, see Err()")

// NewFileIterator returns the iterator over the file fn. The file is read
// directly if chain is nil, otherwise it is sorted into a temporary file
// first. Files with .gz extension are decompressed. cfg can be nil.
func NewFileIterator(fn string, chain *lsort.Chain, cfg *Config) *Iterator {
	it := newIterator(chain, cfg)
	it.inFile = fn
	it.logger = log4g.GetLogger("sorted.iterator").WithId(fmt.Sprintf("{%s}", fn)).(log4g.Logger)
	return it
}

// NewStreamIterator returns the iterator over the stream r. The stream is
// copied, or sorted if chain is not nil, into a temporary file. The stream
// is not closed by the iterator. cfg can be nil.
func NewStreamIterator(r io.Reader, chain *lsort.Chain, cfg *Config) *Iterator {
	it := newIterator(chain, cfg)
	it.in = r
	it.logger = log4g.GetLogger("sorted.iterator").WithId("{<stream>}").(log4g.Logger)
	return it
}

func newIterator(chain *lsort.Chain, cfg *Config) *Iterator {
	it := new(Iterator)
	it.cfg = NewDefaultConfig()
	if cfg != nil {
		it.cfg.Apply(deepcopy.Copy(cfg).(*Config))
	}
	it.chain = chain
	it.state = stUninitialized
	return it
}

// Init prepares the sorted source. It starts the sort job if needed and
// waits until it is done. Init is called by the first HasNext() or Next()
// implicitly. ctx bounds the waiting only, the job is stopped by Clear().
func (it *Iterator) Init(ctx context.Context) error {
	switch it.state {
	case stReady:
		return nil
	case stFailed:
		return it.failedErr()
	case stCleared:
		return util.ErrWrongState
	case stUninitialized:
		if err := it.start(); err != nil {
			return it.fail(err)
		}
	}

	if it.task != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-it.task.Done():
		}
		err := it.task.Join()
		it.task = nil
		if err != nil {
			return it.fail(errors.Wrapf(err, "could not prepare the sorted source"))
		}
	}

	if err := it.openAt(0); err != nil {
		return it.fail(err)
	}
	if it.marked {
		it.buf.Mark()
	}
	it.state = stReady
	it.logger.Debug("Ready to read ", it.source)
	return nil
}

// HasNext returns whether the iterator has more lines. It returns false
// at the end of data and on errors, Err() or Next() tell what happened.
func (it *Iterator) HasNext(ctx context.Context) bool {
	err := it.lookahead(ctx)
	if err != nil && err != io.EOF {
		it.pending = err
	}
	return err == nil
}

// Next returns the next line. io.EOF is returned when there are no more
// lines. The returned record is valid until the next call of the iterator
// methods, use Copy() to keep it.
func (it *Iterator) Next(ctx context.Context) (*lbuf.Record, error) {
	if err := it.lookahead(ctx); err != nil {
		return nil, err
	}
	it.ahead = false
	return &it.rec, nil
}

// Err returns the first failure of the iterator, if any
func (it *Iterator) Err() error {
	return it.failErr
}

// Mark remembers the position of the line which will be returned by the
// next Next() call. Mark replaces the previous mark.
func (it *Iterator) Mark() {
	it.marked = true
	if it.state != stReady {
		// the source will be opened at the start
		it.markPos = 0
		return
	}

	if it.ahead {
		if !it.buf.Unread() {
			// the buffer lost the line, the file will be reopened
			it.markPos = it.rec.Offset()
			it.ahead = false
			it.reopenAt(it.markPos)
			return
		}
		it.ahead = false
	}
	it.buf.Mark()
	it.markPos, _ = it.buf.MarkPos()
}

// Reset returns the iterator to the marked position. The mark stays, so the
// iterator can be reset to the same position again. It does nothing if
// there is no mark.
func (it *Iterator) Reset(ctx context.Context) error {
	if err := it.Init(ctx); err != nil {
		return err
	}
	if !it.marked {
		return nil
	}

	it.ahead = false
	if it.buf.Reset() == lbuf.ResetOK {
		return nil
	}
	it.logger.Debug("The mark is not in the buffer, reopening ", it.source, " at ", it.markPos)
	return it.reopenAt(it.markPos)
}

// SetAtStart moves the iterator to the first line and drops the mark
func (it *Iterator) SetAtStart(ctx context.Context) error {
	if err := it.Init(ctx); err != nil {
		return err
	}
	it.marked = false
	it.markPos = 0
	it.ahead = false
	return it.reopenAt(0)
}

// CountRemainingElements returns the number of lines left. The position is
// not changed, but the mark is moved to the current position.
func (it *Iterator) CountRemainingElements(ctx context.Context) (int, error) {
	if err := it.Init(ctx); err != nil {
		return 0, err
	}

	it.Mark()
	cnt := 0
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		_, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		cnt++
	}
	return cnt, it.Reset(ctx)
}

// Source returns the name of the sorted file. It is empty until the source
// is prepared.
func (it *Iterator) Source() string {
	if it.state == stUninitialized || it.state == stSorting {
		return ""
	}
	return it.source
}

// Clear stops the sort job if it runs, closes the file and removes it if
// the file was created by the iterator. The iterator cannot be used after
// that.
func (it *Iterator) Clear() error {
	if it.state == stCleared {
		return nil
	}
	it.state = stCleared

	var errs *multierror.Error
	if it.task != nil {
		it.task.Cancel()
		// the job must not write the file after it is removed
		it.task.Join()
		it.task = nil
	}
	if it.buf != nil {
		if err := it.buf.Close(); err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "could not close %s", it.source))
		}
		it.buf = nil
	}
	if it.tmp {
		if err := os.Remove(it.source); err != nil && !os.IsNotExist(err) {
			errs = multierror.Append(errs, errors.Wrapf(err, "could not remove %s", it.source))
		}
		it.tmp = false
	}
	it.ahead = false
	it.logger.Debug("Cleared")
	return errs.ErrorOrNil()
}

func (it *Iterator) String() string {
	return fmt.Sprintf("{inFile=%s, source=%s, state=%d, marked=%t, markPos=%d}",
		it.inFile, it.source, it.state, it.marked, it.markPos)
}

// start chooses the sorted source and runs the job which prepares it
func (it *Iterator) start() error {
	if err := it.cfg.Check(); err != nil {
		return err
	}

	if it.inFile != "" && it.chain == nil {
		it.source = it.inFile
		it.state = stSorting
		return nil
	}

	if err := it.cfg.Sort.CheckTempDir(); err != nil {
		return err
	}
	f, err := os.CreateTemp(it.cfg.Sort.TempDir, "lsort-*.sorted")
	if err != nil {
		return errors.Wrapf(err, "could not create a temporary file in %s", it.cfg.Sort.TempDir)
	}
	f.Close()
	it.source = f.Name()
	it.tmp = true

	b := lsort.NewBuilder(it.cfg.Sort).OutputFile(it.source)
	if it.inFile != "" {
		b.InputFile(it.inFile)
	} else {
		b.Input(it.in)
	}
	if it.chain != nil {
		b.Chain(it.chain)
	}

	it.task, err = b.SortInBackground(context.Background())
	if err != nil {
		return err
	}
	it.state = stSorting
	it.logger.Info("Preparing ", it.source, ", chain=", it.chain)
	return nil
}

func (it *Iterator) lookahead(ctx context.Context) error {
	if it.pending != nil {
		err := it.pending
		it.pending = nil
		return err
	}
	if err := it.Init(ctx); err != nil {
		return err
	}
	if it.ahead {
		return nil
	}

	_, err := it.buf.ReadLine(&it.rec)
	if err == io.EOF {
		return err
	}
	if err != nil {
		return it.fail(errors.Wrapf(err, "could not read %s", it.source))
	}
	it.ahead = true
	return nil
}

// openAt opens the sorted source, so the next line is read from the offset
func (it *Iterator) openAt(offset int64) error {
	rc, err := util.OpenFileAt(it.source, offset)
	if err != nil {
		return errors.Wrapf(err, "could not open %s at %d", it.source, offset)
	}
	it.buf = lbuf.NewAt(rc, it.cfg.BufSize, offset)
	return nil
}

// reopenAt closes the current buffer and opens the source at the offset.
// The mark is kept.
func (it *Iterator) reopenAt(offset int64) error {
	if it.buf != nil {
		it.buf.Close()
		it.buf = nil
	}
	if err := it.openAt(offset); err != nil {
		return it.fail(err)
	}
	if it.marked && it.markPos == offset {
		it.buf.Mark()
	}
	return nil
}

func (it *Iterator) fail(err error) error {
	it.logger.Error("Failed: ", err)
	it.state = stFailed
	it.failErr = err
	it.ahead = false
	if it.buf != nil {
		it.buf.Close()
		it.buf = nil
	}
	return it.failedErr()
}

func (it *Iterator) failedErr() error {
	if it.reported {
		return ErrFailed
	}
	it.reported = true
	return it.failErr
}
