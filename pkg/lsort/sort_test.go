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
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/logrange/lsort/pkg/lbuf"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// genLines returns n lines "<key>\t<seq>" with repeated keys, so the
// stability can be checked by the second field
func genLines(n int, seed int64) []string {
	rnd := rand.New(rand.NewSource(seed))
	res := make([]string, n)
	for i := range res {
		res[i] = fmt.Sprintf("k%03d\t%d", rnd.Intn(n/3+1), i)
	}
	return res
}

func firstField(s string) string {
	if idx := strings.IndexByte(s, '\t'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func refSort(lines []string) []string {
	res := append([]string(nil), lines...)
	sort.SliceStable(res, func(i, j int) bool {
		return firstField(res[i]) < firstField(res[j])
	})
	return res
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func writeFile(t *testing.T, fn, data string) {
	require.NoError(t, os.WriteFile(fn, []byte(data), 0640))
}

func readFile(t *testing.T, fn string) string {
	data, err := os.ReadFile(fn)
	require.NoError(t, err)
	return string(data)
}

func dirEntries(t *testing.T, dir string) []string {
	des, err := os.ReadDir(dir)
	require.NoError(t, err)
	res := make([]string, 0, len(des))
	for _, de := range des {
		res = append(res, de.Name())
	}
	return res
}

func TestSortSync(t *testing.T) {
	for _, n := range []int{0, 1, 2, 10, 1000} {
		lines := genLines(n, int64(n))
		var out bytes.Buffer
		err := NewBuilder(nil).Input(strings.NewReader(joinLines(lines))).Output(&out).Field(0, false).Sort(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, joinLines(refSort(lines)), out.String(), "n=%d", n)
	}
}

func TestSortMultiChunk(t *testing.T) {
	tmp := t.TempDir()
	cfg := &Config{TempDir: tmp, ChunkLines: 7}
	lines := genLines(500, 11)

	var out bytes.Buffer
	err := NewBuilder(cfg).Input(strings.NewReader(joinLines(lines))).Output(&out).Field(0, false).Sort(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, joinLines(refSort(lines)), out.String())
	assert.Empty(t, dirEntries(t, tmp), "spill files must be removed")

	cfg = &Config{TempDir: tmp, ChunkSize: "100B"}
	out.Reset()
	err = NewBuilder(cfg).Input(strings.NewReader(joinLines(lines))).Output(&out).Field(0, false).Sort(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, joinLines(refSort(lines)), out.String())
	assert.Empty(t, dirEntries(t, tmp))
}

func TestSortInBackgroundStream(t *testing.T) {
	lines := genLines(300, 5)
	var out bytes.Buffer
	task, err := NewBuilder(&Config{ChunkLines: 50, TempDir: t.TempDir()}).Input(strings.NewReader(joinLines(lines))).
		Output(&out).Field(0, false).Pool(NewPool(2)).SortInBackground(context.Background())
	require.NoError(t, err)
	assert.NoError(t, task.Join())
	assert.Equal(t, StateCompleted, task.State())
	assert.Equal(t, joinLines(refSort(lines)), out.String())

	select {
	case <-task.Done():
	default:
		t.Fatal("the task must be done after Join")
	}
}

func TestSortInBackgroundWorkers(t *testing.T) {
	assert.Equal(t, 1, SharedPool(1).Size())
	assert.True(t, SharedPool(1) == SharedPool(1))
	assert.True(t, SharedPool(1) != DefaultPool())

	release := make(chan struct{})
	sent := false
	blocking := readerFunc(func(p []byte) (int, error) {
		if !sent {
			sent = true
			return copy(p, "b\na\n"), nil
		}
		<-release
		return 0, io.EOF
	})

	cfg := &Config{Workers: 1, TempDir: t.TempDir()}
	var out1, out2 bytes.Buffer
	task1, err := NewBuilder(cfg).Input(blocking).Output(&out1).Line().SortInBackground(context.Background())
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return task1.State() == StateRunning }, time.Second, time.Millisecond)

	task2, err := NewBuilder(cfg).Input(strings.NewReader("d\nc\n")).Output(&out2).Line().
		SortInBackground(context.Background())
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateCreated, task2.State())

	close(release)
	assert.NoError(t, task1.Join())
	assert.NoError(t, task2.Join())
	assert.Equal(t, "a\nb\n", out1.String())
	assert.Equal(t, "c\nd\n", out2.String())
}

func TestSortInBackgroundFile(t *testing.T) {
	tmp := t.TempDir()
	lines := genLines(2000, 7)
	in := filepath.Join(tmp, "in.txt")
	out := filepath.Join(tmp, "out.txt")
	writeFile(t, in, joinLines(lines))

	cfg := &Config{TempDir: t.TempDir(), ChunkLines: 300, PipeChunks: 1}
	task, err := NewBuilder(cfg).InputFile(in).OutputFile(out).Field(0, false).SortInBackground(context.Background())
	require.NoError(t, err)
	assert.NoError(t, task.Join())
	assert.Equal(t, joinLines(refSort(lines)), readFile(t, out))
	assert.Empty(t, dirEntries(t, cfg.TempDir))
}

func TestSortGzipFile(t *testing.T) {
	tmp := t.TempDir()
	lines := genLines(100, 3)
	in := filepath.Join(tmp, "in.txt.gz")
	f, err := os.Create(in)
	require.NoError(t, err)
	gw := gzip.NewWriter(f)
	_, err = gw.Write([]byte(joinLines(lines)))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	require.NoError(t, f.Close())

	var out bytes.Buffer
	err = NewBuilder(nil).InputFile(in).Output(&out).Field(0, false).Sort(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, joinLines(refSort(lines)), out.String())
}

func TestSortEndToEnd(t *testing.T) {
	var out bytes.Buffer
	err := NewBuilder(nil).Input(strings.NewReader("c\t3\na\t1\r\nb\t2")).Output(&out).Field(0, false).Sort(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "a\t1\nb\t2\nc\t3\n", out.String())
}

func TestSortRules(t *testing.T) {
	sortStr := func(in string, b func(b *Builder) *Builder) string {
		var out bytes.Buffer
		err := b(NewBuilder(nil).Input(strings.NewReader(in)).Output(&out)).Sort(context.Background())
		require.NoError(t, err)
		return out.String()
	}

	assert.Equal(t, "x\n2.5\n9\n10\n", sortStr("10\n9\nx\n2.5\n", func(b *Builder) *Builder {
		return b.Field(0, true)
	}))
	assert.Equal(t, "a;2;x\nb;1;y\nb;1;z\n", sortStr("b;1;z\na;2;x\nb;1;y\n", func(b *Builder) *Builder {
		return b.Delimiter(";").Fields(0, 1).Field(2, false)
	}))
	assert.Equal(t, "b 1\na 2\nc 2\n", sortStr("c 2\nb 1\na 2\n", func(b *Builder) *Builder {
		return b.Delimiter(" ").Field(1, true).Line()
	}))
	// the missing field is empty
	assert.Equal(t, "b\na\t1\n", sortStr("a\t1\nb\n", func(b *Builder) *Builder {
		return b.Field(1, false)
	}))
	assert.Equal(t, "ccc\nbb\na\n", sortStr("bb\na\nccc\n", func(b *Builder) *Builder {
		return b.FieldFunc(func(a, b []byte) int { return len(b) - len(a) })
	}))
}

func TestSortCarriageReturns(t *testing.T) {
	in := "b\r\r\n\x01\r\n\ra\n"
	exp := []string{"\x01", "\ra", "b\r"}
	for _, chunkLines := range []int{1000, 1} {
		var out bytes.Buffer
		err := NewBuilder(&Config{ChunkLines: chunkLines, TempDir: t.TempDir()}).Input(strings.NewReader(in)).
			Output(&out).Line().Sort(context.Background())
		require.NoError(t, err)
		assert.Equal(t, exp, recordsOf(t, out.String()), "chunkLines=%d", chunkLines)
	}

	var out bytes.Buffer
	err := NewBuilder(nil).Input(strings.NewReader(in)).Output(&out).
		Intercept(func(line []byte) []byte { return line }).Sort(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b\r", "\x01", "\ra"}, recordsOf(t, out.String()))
}

func TestSortStable(t *testing.T) {
	lines := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		lines = append(lines, fmt.Sprintf("%d\t%d", i%3, i))
	}
	var out bytes.Buffer
	err := NewBuilder(&Config{TempDir: t.TempDir(), ChunkLines: 13}).Input(strings.NewReader(joinLines(lines))).
		Output(&out).Field(0, true).Sort(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, joinLines(refSort(lines)), out.String())
}

func TestSortNonexistentInput(t *testing.T) {
	tmp := t.TempDir()
	in := filepath.Join(tmp, "absent.txt")
	out := filepath.Join(tmp, "out.txt")

	err := NewBuilder(nil).InputFile(in).OutputFile(out).Field(0, false).Sort(context.Background())
	assert.Error(t, err)
	assert.True(t, os.IsNotExist(errors.Cause(err)))
	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err))

	task, err := NewBuilder(nil).InputFile(in).OutputFile(out).Field(0, false).SortInBackground(context.Background())
	require.NoError(t, err)
	assert.Error(t, task.Join())
	assert.Equal(t, StateFailed, task.State())
	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err))
}

func TestSortFailedReadRemovesOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	in := io.MultiReader(strings.NewReader("b\na\n"), readerFunc(func(p []byte) (int, error) {
		return 0, fmt.Errorf("disk failure")
	}))
	err := NewBuilder(nil).Input(in).OutputFile(out).Line().Sort(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "disk failure")
	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err))
}

func TestSortCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	task, err := NewBuilder(nil).Input(strings.NewReader("a\n")).Line().SortInBackground(ctx)
	require.NoError(t, err)
	err = task.Join()
	assert.True(t, errors.Is(err, ErrCancelled))
	assert.Equal(t, StateCancelled, task.State())

	tmp := t.TempDir()
	endless := readerFunc(func(p []byte) (int, error) {
		for i := range p {
			p[i] = 'a'
			if i%2 == 1 {
				p[i] = '\n'
			}
		}
		return len(p), nil
	})
	task, err = NewBuilder(&Config{TempDir: tmp, ChunkLines: 1000}).Input(endless).Line().
		SortInBackground(context.Background())
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	task.Cancel()
	err = task.Join()
	assert.True(t, errors.Is(err, ErrCancelled), "err=%v", err)
	assert.Equal(t, StateCancelled, task.State())
	assert.Empty(t, dirEntries(t, tmp))
}

func TestSortPassThrough(t *testing.T) {
	var out bytes.Buffer
	in := "b\r\na\n\nc"
	err := NewBuilder(nil).Input(strings.NewReader(in)).Output(&out).Sort(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, in, out.String())

	out.Reset()
	err = NewBuilder(nil).Input(strings.NewReader(in)).Output(&out).
		Intercept(func(line []byte) []byte {
			if string(line) == "a" {
				return nil
			}
			return bytes.ToUpper(line)
		}).Sort(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "B\n\nC\n", out.String())
}

func TestSortInterceptCount(t *testing.T) {
	cnt := 0
	err := NewBuilder(nil).Input(strings.NewReader(joinLines(genLines(77, 1)))).Field(0, false).
		Intercept(func(line []byte) []byte {
			cnt++
			return line
		}).Sort(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 77, cnt)
}

func TestBuilderConfigErrors(t *testing.T) {
	in := strings.NewReader("")
	chain, err := NewChainBuilder().Line().Build()
	require.NoError(t, err)

	for i, b := range []*Builder{
		NewBuilder(nil),
		NewBuilder(nil).Input(nil),
		NewBuilder(nil).Input(in).InputFile("a"),
		NewBuilder(nil).Input(in).Output(nil),
		NewBuilder(nil).Input(in).Output(io.Discard).OutputFile("a"),
		NewBuilder(nil).Input(in).Field(-1, false),
		NewBuilder(nil).Input(in).Fields(),
		NewBuilder(nil).Input(in).Fields(1, -2),
		NewBuilder(nil).Input(in).FieldFunc(nil),
		NewBuilder(nil).Input(in).Delimiter("").Line(),
		NewBuilder(nil).Input(in).Delimiter(""),
		NewBuilder(nil).Input(in).Chain(chain).Line(),
		NewBuilder(nil).Input(in).Chain(nil),
		NewBuilder(nil).Input(in).Intercept(nil),
		NewBuilder(nil).Input(in).Pool(nil),
		NewBuilder(&Config{ChunkSize: "lots"}).Input(in),
		NewBuilder(&Config{ChunkLines: -1}).Input(in),
		NewBuilder(&Config{TempDir: "/nonexistent/dir/for/lsort"}).Input(in).Line(),
	} {
		_, err := b.Build()
		assert.True(t, IsConfigError(err), "case %d: err=%v", i, err)
		assert.True(t, IsConfigError(b.Sort(context.Background())), "case %d", i)
		task, err := b.SortInBackground(context.Background())
		assert.Nil(t, task)
		assert.True(t, IsConfigError(err), "case %d", i)
	}

	// no temp dir is needed for copying
	_, err = NewBuilder(&Config{TempDir: "/nonexistent/dir/for/lsort"}).Input(in).Build()
	assert.NoError(t, err)
}

func TestCheckSorted(t *testing.T) {
	chain, err := NewChainBuilder().Field(0, true).Build()
	require.NoError(t, err)

	n, err := CheckSorted(context.Background(), strings.NewReader("1\n2\n2\n10\n"), chain)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = CheckSorted(context.Background(), strings.NewReader("1\n10\n2\n"), chain)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = CheckSorted(context.Background(), strings.NewReader(""), nil)
	assert.True(t, IsConfigError(err))
}

func recordsOf(t *testing.T, data string) []string {
	lb := lbuf.New(strings.NewReader(data), 0)
	var rec lbuf.Record
	var res []string
	for {
		r, err := lb.ReadLine(&rec)
		if err == io.EOF {
			return res
		}
		require.NoError(t, err)
		res = append(res, r.String())
	}
}

type readerFunc func(p []byte) (int, error)

func (rf readerFunc) Read(p []byte) (int, error) {
	return rf(p)
}
