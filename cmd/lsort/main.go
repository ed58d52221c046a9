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

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/jrivets/log4g"
	"github.com/logrange/lsort/pkg/lbuf"
	"github.com/logrange/lsort/pkg/lsort"
	"github.com/logrange/lsort/pkg/sorted"
	"github.com/logrange/lsort/pkg/util"
	"github.com/pkg/errors"
	ucli "gopkg.in/urfave/cli.v2"
)

const (
	Version = "0.1.0"
)

const (
	argLogCfgFile = "log-config-file"
	argCfgFile    = "config-file"
	argTempDir    = "temp-dir"
	argChunkSize  = "chunk-size"

	argKey       = "key"
	argDelimiter = "delimiter"
	argOutput    = "output"
	argHead      = "head"

	stdinName = "-"
)

var (
	logger = log4g.GetLogger("lsort")
	cfg    = sorted.NewDefaultConfig()
)

// main is the entry point of the lsort command. The commands are:
// 		sort	- sorts a file or stdin into a file or stdout
//		cat 	- prints lines of a file or stdin in the sorted order
//		count	- counts lines of a file or stdin
//		check	- checks whether a file or stdin is sorted
func main() {
	defer log4g.Shutdown()

	keyFlags := []ucli.Flag{
		&ucli.StringSliceFlag{
			Name: argKey,
			Usage: "sort key: N - field N (0-based) compared as text, Nn - field N compared as a number, " +
				"N,M - fields N and M compared together. Several keys are applied in order",
		},
		&ucli.StringFlag{
			Name:  argDelimiter,
			Usage: "fields delimiter",
			Value: lsort.DefaultDelimiter,
		},
	}

	app := &ucli.App{
		Name:    "lsort",
		Version: Version,
		Usage:   "Sorts and iterates over big line-oriented files",
		Flags: []ucli.Flag{
			&ucli.StringFlag{
				Name:  argLogCfgFile,
				Usage: "log4g configuration file path",
			},
			&ucli.StringFlag{
				Name:  argCfgFile,
				Usage: "configuration file path",
			},
			&ucli.StringFlag{
				Name:  argTempDir,
				Usage: "directory for temporary files",
			},
			&ucli.StringFlag{
				Name:  argChunkSize,
				Usage: "maximum size of data sorted in memory at once, e.g. \"64MiB\"",
			},
		},
		Before: before,
		Commands: []*ucli.Command{
			{
				Name:      "sort",
				Usage:     "Sort lines",
				UsageText: "lsort sort [command options] <file|->",
				Action:    runSort,
				Flags: append([]ucli.Flag{
					&ucli.StringFlag{
						Name:  argOutput,
						Usage: "output file, stdout if not set. Files with .gz extension are compressed",
					},
				}, keyFlags...),
			},
			{
				Name:      "cat",
				Usage:     "Print lines in the sorted order",
				UsageText: "lsort cat [command options] <file|->",
				Action:    runCat,
				Flags: append([]ucli.Flag{
					&ucli.IntFlag{
						Name:  argHead,
						Usage: "print first N lines only, 0 means all",
					},
				}, keyFlags...),
			},
			{
				Name:      "count",
				Usage:     "Count lines",
				UsageText: "lsort count <file|->",
				Action:    runCount,
			},
			{
				Name:      "check",
				Usage:     "Check whether lines are sorted",
				UsageText: "lsort check [command options] <file|->",
				Action:    runCheck,
				Flags:     keyFlags,
			},
		},
	}

	sort.Sort(ucli.FlagsByName(app.Flags))
	for _, c := range app.Commands {
		sort.Sort(ucli.FlagsByName(c.Flags))
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		log4g.Shutdown()
		os.Exit(1)
	}
}

func before(c *ucli.Context) error {
	if logCfgFile := c.String(argLogCfgFile); logCfgFile != "" {
		if err := log4g.ConfigF(logCfgFile); err != nil {
			return errors.Wrapf(err, "could not parse %s file as a log4g configuration", logCfgFile)
		}
	}

	if cfgFile := c.String(argCfgFile); cfgFile != "" {
		logger.Info("Loading config from ", cfgFile)
		fc, err := ReadConfigFromFile(cfgFile)
		if err != nil {
			return err
		}
		cfg.Apply(fc)
	}

	if td := c.String(argTempDir); td != "" {
		cfg.Sort.TempDir = td
	}
	if cs := c.String(argChunkSize); cs != "" {
		cfg.Sort.ChunkSize = cs
	}
	if err := cfg.Check(); err != nil {
		return err
	}
	logger.Debug("Config ", cfg)
	return nil
}

func runSort(c *ucli.Context) error {
	ctx := newSignalContext()
	b := lsort.NewBuilder(cfg.Sort)
	if err := applyInput(c, b); err != nil {
		return err
	}
	if err := applyKeys(c, b); err != nil {
		return err
	}

	out := c.String(argOutput)
	if out == "" {
		w := bufio.NewWriter(os.Stdout)
		if err := b.Output(w).Sort(ctx); err != nil {
			return err
		}
		return w.Flush()
	}

	ol := NewOutputLock(out)
	if err := ol.Lock(); err != nil {
		return err
	}
	defer ol.Unlock()

	task, err := b.OutputFile(out).SortInBackground(ctx)
	if err != nil {
		return err
	}
	return task.Join()
}

func runCat(c *ucli.Context) error {
	ctx := newSignalContext()
	var chain *lsort.Chain
	if len(c.StringSlice(argKey)) > 0 {
		cb := lsort.NewChainBuilder().Delimiter(c.String(argDelimiter))
		if err := parseKeys(cb, c.StringSlice(argKey)); err != nil {
			return err
		}
		var err error
		if chain, err = cb.Build(); err != nil {
			return err
		}
	}

	fn, err := inputName(c)
	if err != nil {
		return err
	}
	var it *sorted.Iterator
	if fn == stdinName {
		it = sorted.NewStreamIterator(os.Stdin, chain, cfg)
	} else {
		it = sorted.NewFileIterator(fn, chain, cfg)
	}
	defer it.Clear()

	w := bufio.NewWriter(os.Stdout)
	lw := lbuf.NewWriter(w)
	head := c.Int(argHead)
	for n := 0; head <= 0 || n < head; n++ {
		var r *lbuf.Record
		if r, err = it.Next(ctx); err != nil {
			break
		}
		lw.WriteLine(r.Bytes())
	}
	if err != nil && err != io.EOF {
		return err
	}
	lw.Close()
	return w.Flush()
}

func runCount(c *ucli.Context) error {
	ctx := newSignalContext()
	var lines, size uint64
	b := lsort.NewBuilder(cfg.Sort).Intercept(func(line []byte) []byte {
		lines++
		size += uint64(len(line))
		return nil
	})
	if err := applyInput(c, b); err != nil {
		return err
	}
	if err := b.Sort(ctx); err != nil {
		return err
	}
	fmt.Printf("%s lines, %s\n", humanize.Comma(int64(lines)), humanize.Bytes(size))
	return nil
}

func runCheck(c *ucli.Context) error {
	ctx := newSignalContext()
	cb := lsort.NewChainBuilder().Delimiter(c.String(argDelimiter))
	keys := c.StringSlice(argKey)
	if len(keys) == 0 {
		cb.Line()
	} else if err := parseKeys(cb, keys); err != nil {
		return err
	}
	chain, err := cb.Build()
	if err != nil {
		return err
	}

	r, err := openInput(c)
	if err != nil {
		return err
	}
	defer r.Close()

	n, err := lsort.CheckSorted(ctx, r, chain)
	if err != nil {
		return err
	}
	if n > 0 {
		return errors.Errorf("line %d is out of order", n)
	}
	fmt.Println("sorted")
	return nil
}

func applyKeys(c *ucli.Context, b *lsort.Builder) error {
	keys := c.StringSlice(argKey)
	if len(keys) == 0 {
		b.Line()
		return nil
	}
	cb := lsort.NewChainBuilder().Delimiter(c.String(argDelimiter))
	if err := parseKeys(cb, keys); err != nil {
		return err
	}
	chain, err := cb.Build()
	if err != nil {
		return err
	}
	b.Chain(chain)
	return nil
}

func applyInput(c *ucli.Context, b *lsort.Builder) error {
	fn, err := inputName(c)
	if err != nil {
		return err
	}
	if fn == stdinName {
		b.Input(os.Stdin)
	} else {
		b.InputFile(fn)
	}
	return nil
}

func openInput(c *ucli.Context) (io.ReadCloser, error) {
	fn, err := inputName(c)
	if err != nil {
		return nil, err
	}
	if fn == stdinName {
		return io.NopCloser(os.Stdin), nil
	}
	return util.OpenFile(fn)
}

func inputName(c *ucli.Context) (string, error) {
	if c.Args().Len() != 1 {
		return "", errors.Errorf("exactly one input file (or - for stdin) expected, but got %v", c.Args().Slice())
	}
	return c.Args().First(), nil
}

// newSignalContext returns the context which is cancelled by SIGINT or SIGTERM
func newSignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		s := <-sigChan
		logger.Info("Got signal \"", s, "\", cancelling context ")
		cancel()
	}()
	return ctx
}
