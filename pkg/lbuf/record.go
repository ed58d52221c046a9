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
	"fmt"
)

type (
	// Record is a line read by Buffer.ReadLine. The line bytes never contain
	// the line terminator. Record is reusable: ReadLine overwrites its content,
	// so the Bytes() result is valid until the next ReadLine call with the same
	// Record only. Use Copy() to keep the data.
	Record struct {
		buf []byte
		off int64
	}
)

// Bytes returns the line content, it is never nil after a successful
// ReadLine
func (r *Record) Bytes() []byte {
	return r.buf
}

// String returns the line content as a string (makes a copy)
func (r *Record) String() string {
	return string(r.buf)
}

// Len returns the line length in bytes, the terminator is not counted
func (r *Record) Len() int {
	return len(r.buf)
}

// Offset returns the absolute offset of the line start in the stream
func (r *Record) Offset() int64 {
	return r.off
}

// Copy returns a new Record which doesn't share the memory with r
func (r *Record) Copy() *Record {
	res := &Record{off: r.off, buf: make([]byte, len(r.buf))}
	copy(res.buf, r.buf)
	return res
}

func (r *Record) set(b []byte, off int64) {
	if r.buf == nil {
		r.buf = make([]byte, 0, len(b))
	}
	r.buf = append(r.buf[:0], b...)
	r.off = off
}

func (r *Record) GoString() string {
	return fmt.Sprintf("{off=%d, line=%q}", r.off, r.buf)
}
