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
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jrivets/log4g"
	"github.com/logrange/lsort/pkg/util"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type (
	// Job binds the input, the output and the comparison chain. A job
	// without the chain transfers the input to the output as is. Jobs are
	// made by Builder.
	Job struct {
		id      int64
		cfg     *Config
		in      io.Reader
		inFile  string
		out     io.Writer
		outFile string
		chain   *Chain
		icpts   []Interceptor
		logger  log4g.Logger
	}
)

var lastJobId int64

func nextJobId() int64 {
	return atomic.AddInt64(&lastJobId, 1)
}

// Run executes the job in the current goroutine. An input file which has to
// be sorted is read by a separate goroutine through the in-memory pipe.
// The output file is removed if the job fails.
func (j *Job) Run(ctx context.Context) (err error) {
	start := time.Now()
	j.logger.Info("Starting ", j)

	in, err := j.openInput()
	if err != nil {
		j.logger.Error("Could not open input: ", err)
		return err
	}
	if c, ok := in.(io.Closer); ok && j.inFile != "" {
		defer c.Close()
	}

	out, err := j.openOutput()
	if err != nil {
		j.logger.Error("Could not open output: ", err)
		return err
	}

	srt := j.newSorter()
	if j.inFile != "" && j.chain != nil {
		err = j.copyThenSort(ctx, in, out, srt)
	} else {
		err = srt.run(ctx, in, out)
	}

	if err = j.closeOutput(out, err); err != nil {
		j.logger.Error("Failed after ", time.Now().Sub(start), ": ", err)
		return err
	}

	j.logger.Info("Done in ", time.Now().Sub(start), ", ", humanize.Comma(srt.lines), " lines (",
		humanize.Bytes(uint64(srt.bytes)), ") processed")
	return nil
}

// Chain returns the comparison chain, it is nil for the jobs which don't
// sort
func (j *Job) Chain() *Chain {
	return j.chain
}

func (j *Job) String() string {
	in, out := j.inFile, j.outFile
	if in == "" {
		in = "<stream>"
	}
	if out == "" {
		out = "<stream>"
	}
	chain := "<none>"
	if j.chain != nil {
		chain = j.chain.String()
	}
	return fmt.Sprintf("{id=%d, in=%s, out=%s, chain=%s, interceptors=%d}", j.id, in, out, chain, len(j.icpts))
}

func (j *Job) copyThenSort(ctx context.Context, in io.Reader, out io.Writer, srt *sorter) error {
	p := newChunkPipe(j.cfg.PipeChunks)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := copyChunked(gctx, p, in)
		p.CloseWrite(err)
		if err != nil {
			return errors.Wrapf(err, "copying of %s failed", j.inFile)
		}
		j.logger.Debug("Copied ", humanize.Bytes(uint64(n)), " from ", j.inFile)
		return nil
	})
	g.Go(func() error {
		err := srt.run(gctx, p, out)
		p.CloseRead(err)
		return err
	})
	return g.Wait()
}

func (j *Job) openInput() (io.Reader, error) {
	if j.inFile == "" {
		return j.in, nil
	}
	rc, err := util.OpenFile(j.inFile)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open input file %s", j.inFile)
	}
	return rc, nil
}

func (j *Job) openOutput() (io.Writer, error) {
	if j.outFile == "" {
		if j.out == nil {
			return io.Discard, nil
		}
		return j.out, nil
	}
	wc, err := util.CreateFile(j.outFile)
	if err != nil {
		return nil, errors.Wrapf(err, "could not create output file %s", j.outFile)
	}
	return wc, nil
}

// closeOutput closes the output file, if the job has one. The file is
// removed when the job is failed.
func (j *Job) closeOutput(out io.Writer, err error) error {
	if j.outFile == "" {
		return err
	}

	if cerr := out.(io.Closer).Close(); cerr != nil {
		if err == nil {
			err = errors.Wrapf(cerr, "could not close output file %s", j.outFile)
		} else {
			j.logger.Warn("Could not close output file ", j.outFile, ": ", cerr)
		}
	}
	if err == nil {
		return nil
	}

	if rerr := os.Remove(j.outFile); rerr != nil && !os.IsNotExist(rerr) {
		j.logger.Warn("Could not remove output file ", j.outFile, " of the failed job: ", rerr)
	}
	return err
}

func (j *Job) newSorter() *sorter {
	srt := &sorter{cfg: j.cfg, icpts: j.icpts, logger: j.logger}
	if j.chain != nil {
		srt.cmp = newComparer(j.chain, j.cfg.KeyCacheSize)
	}
	return srt
}
