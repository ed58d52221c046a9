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
	"io"
)

type (
	// Writer writes lines separated by '\n', so Buffer reads back the same
	// lines. "\r\n" is written instead when the line ends with '\r', or when
	// the byte which follows the terminator is '\r'. The terminator of a line
	// is written when the next non-empty line comes or on Close().
	Writer struct {
		w       io.Writer
		started bool // a non-empty line was written
		lastCR  bool // the last non-empty line ends with '\r'
		empties int  // empty lines after the last non-empty one
	}
)

var (
	lf   = []byte{'\n'}
	crlf = []byte{'\r', '\n'}
)

// NewWriter returns the Writer over w. w is not buffered by the Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteLine writes the line. The line must not contain '\n'.
func (lw *Writer) WriteLine(line []byte) error {
	if len(line) == 0 {
		lw.empties++
		return nil
	}
	if err := lw.terminate(line[0] == '\r'); err != nil {
		return err
	}
	if _, err := lw.w.Write(line); err != nil {
		return err
	}
	lw.started = true
	lw.lastCR = line[len(line)-1] == '\r'
	return nil
}

// Close writes the pending terminators. The underlying writer is not closed.
func (lw *Writer) Close() error {
	return lw.terminate(false)
}

// terminate writes the terminators of the last non-empty line and the empty
// lines after it. nextCR tells whether the following byte is '\r'.
func (lw *Writer) terminate(nextCR bool) error {
	if lw.started {
		t := lf
		if lw.lastCR || nextCR {
			t = crlf
		}
		if _, err := lw.w.Write(t); err != nil {
			return err
		}
		lw.started = false
	}
	t := lf
	if nextCR {
		t = crlf
	}
	for ; lw.empties > 0; lw.empties-- {
		if _, err := lw.w.Write(t); err != nil {
			return err
		}
	}
	return nil
}
