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

	"github.com/jrivets/log4g"
	"github.com/pkg/errors"
)

type (
	// Builder configures a sort job. All setters return the builder, so the
	// calls can be chained. The first configuration error is returned by
	// Build(), Sort() or SortInBackground() before any work is started.
	//
	// A job without rules transfers the input to the output as is.
	Builder struct {
		cfg     *Config
		in      io.Reader
		inFile  string
		out     io.Writer
		outFile string
		cb      *ChainBuilder
		chain   *Chain
		icpts   []Interceptor
		pool    *Pool
		err     error
	}
)

// NewBuilder returns the builder with cfg applied over the default
// configuration. cfg can be nil.
func NewBuilder(cfg *Config) *Builder {
	b := new(Builder)
	b.cfg = NewDefaultConfig()
	b.cfg.Apply(cfg)
	b.cb = NewChainBuilder()
	return b
}

// Input sets the stream to be sorted
func (b *Builder) Input(r io.Reader) *Builder {
	if r == nil {
		b.setErr(errors.Wrapf(ErrConfig, "input reader must not be nil"))
	}
	if b.inFile != "" {
		b.setErr(errors.Wrapf(ErrConfig, "input file %s is already set", b.inFile))
	}
	b.in = r
	return b
}

// InputFile sets the file to be sorted. Files with .gz extension are
// decompressed.
func (b *Builder) InputFile(fn string) *Builder {
	if fn == "" {
		b.setErr(errors.Wrapf(ErrConfig, "input file name must not be empty"))
	}
	if b.in != nil {
		b.setErr(errors.Wrapf(ErrConfig, "input stream is already set"))
	}
	b.inFile = fn
	return b
}

// Output sets the writer for the result. The result is discarded if
// no output is set.
func (b *Builder) Output(w io.Writer) *Builder {
	if w == nil {
		b.setErr(errors.Wrapf(ErrConfig, "output writer must not be nil"))
	}
	if b.outFile != "" {
		b.setErr(errors.Wrapf(ErrConfig, "output file %s is already set", b.outFile))
	}
	b.out = w
	return b
}

// OutputFile sets the file for the result. The file is truncated if it
// exists, and it is removed if the job fails. Files with .gz extension
// are compressed.
func (b *Builder) OutputFile(fn string) *Builder {
	if fn == "" {
		b.setErr(errors.Wrapf(ErrConfig, "output file name must not be empty"))
	}
	if b.out != nil {
		b.setErr(errors.Wrapf(ErrConfig, "output stream is already set"))
	}
	b.outFile = fn
	return b
}

// Delimiter sets the fields separator, it is "\t" by default
func (b *Builder) Delimiter(delim string) *Builder {
	b.cb.Delimiter(delim)
	return b
}

// Line adds the rule which compares whole lines
func (b *Builder) Line() *Builder {
	b.cb.Line()
	return b
}

// Field adds the rule which compares field idx of lines
func (b *Builder) Field(idx int, numeric bool) *Builder {
	b.cb.Field(idx, numeric)
	return b
}

// Fields adds the rule which compares the concatenated fields of lines
func (b *Builder) Fields(idxs ...int) *Builder {
	b.cb.Fields(idxs...)
	return b
}

// FieldFunc adds the rule which compares lines by cmp
func (b *Builder) FieldFunc(cmp Comparator) *Builder {
	b.cb.FieldFunc(cmp)
	return b
}

// Chain sets the prepared chain. It cannot be mixed with the rule setters.
func (b *Builder) Chain(c *Chain) *Builder {
	if c == nil {
		b.setErr(errors.Wrapf(ErrConfig, "chain must not be nil"))
	}
	b.chain = c
	return b
}

// Intercept adds the interceptor, interceptors are called in the order
// they are added
func (b *Builder) Intercept(icpt Interceptor) *Builder {
	if icpt == nil {
		b.setErr(errors.Wrapf(ErrConfig, "interceptor must not be nil"))
	}
	b.icpts = append(b.icpts, icpt)
	return b
}

// Pool sets the pool for SortInBackground(). Without it the job runs in
// SharedPool() of the configured Workers.
func (b *Builder) Pool(p *Pool) *Builder {
	if p == nil {
		b.setErr(errors.Wrapf(ErrConfig, "pool must not be nil"))
	}
	b.pool = p
	return b
}

// Build checks the configuration and returns the new job
func (b *Builder) Build() (*Job, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.in == nil && b.inFile == "" {
		return nil, errors.Wrapf(ErrConfig, "input must be set")
	}
	if err := b.cfg.Check(); err != nil {
		return nil, err
	}

	chain := b.chain
	if b.cb.hasRules() {
		if chain != nil {
			return nil, errors.Wrapf(ErrConfig, "either rules or chain can be set, but not both")
		}
		var err error
		if chain, err = b.cb.Build(); err != nil {
			return nil, err
		}
	} else if b.cb.err != nil {
		return nil, b.cb.err
	}

	if chain != nil {
		if err := b.cfg.CheckTempDir(); err != nil {
			return nil, err
		}
	}

	j := new(Job)
	j.id = nextJobId()
	j.cfg = b.cfg
	j.in = b.in
	j.inFile = b.inFile
	j.out = b.out
	j.outFile = b.outFile
	j.chain = chain
	j.icpts = append([]Interceptor(nil), b.icpts...)
	j.logger = log4g.GetLogger("lsort.job").WithId(fmt.Sprintf("{%d}", j.id)).(log4g.Logger)
	return j, nil
}

// Sort builds the job and runs it in the current goroutine
func (b *Builder) Sort(ctx context.Context) error {
	j, err := b.Build()
	if err != nil {
		return err
	}
	return j.Run(ctx)
}

// SortInBackground builds the job and runs it in the pool. The returned
// task must be joined to get the result.
func (b *Builder) SortInBackground(ctx context.Context) (*Task, error) {
	j, err := b.Build()
	if err != nil {
		return nil, err
	}
	p := b.pool
	if p == nil {
		p = SharedPool(j.cfg.Workers)
	}
	return p.Execute(ctx, j), nil
}

func (b *Builder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}
