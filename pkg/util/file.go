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

package util

import (
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

type (
	gzReadCloser struct {
		*gzip.Reader
		fd *os.File
	}

	gzWriteCloser struct {
		*gzip.Writer
		fd *os.File
	}
)

// GzipExt is the file name suffix which turns on gzip (de)compression in
// OpenFile, OpenFileAt and CreateFile
const GzipExt = ".gz"

// IsGzip returns whether the file name has the gzip suffix
func IsGzip(fn string) bool {
	return strings.HasSuffix(strings.ToLower(fn), GzipExt)
}

// OpenFile opens the file fn for reading. If the file name ends with ".gz" the
// returned reader decompresses the content, so the caller always sees the
// plain bytes stream.
func OpenFile(fn string) (io.ReadCloser, error) {
	fd, err := os.Open(fn)
	if err != nil {
		return nil, err
	}

	if !IsGzip(fn) {
		return fd, nil
	}

	gr, err := gzip.NewReader(fd)
	if err != nil {
		fd.Close()
		return nil, errors.Wrapf(err, "could not read gzip header of %s", fn)
	}
	return &gzReadCloser{Reader: gr, fd: fd}, nil
}

// OpenFileAt opens the file fn the same way as OpenFile does, but positions the
// returned reader to the offset of the (uncompressed) stream. Plain files are
// positioned with Seek, compressed ones are skipped forward by reading.
func OpenFileAt(fn string, offset int64) (io.ReadCloser, error) {
	rc, err := OpenFile(fn)
	if err != nil || offset <= 0 {
		return rc, err
	}

	if fd, ok := rc.(*os.File); ok {
		off, err := fd.Seek(offset, io.SeekStart)
		if err == nil && off != offset {
			err = errors.Errorf("seek to %d returned %d", offset, off)
		}
		if err != nil {
			fd.Close()
			return nil, errors.Wrapf(err, "could not seek %s to offset=%d", fn, offset)
		}
		return fd, nil
	}

	n, err := io.CopyN(io.Discard, rc, offset)
	if err != nil {
		rc.Close()
		if err == io.EOF {
			err = errors.Errorf("the stream is %d bytes long only", n)
		}
		return nil, errors.Wrapf(err, "could not skip %d bytes of %s", offset, fn)
	}
	return rc, nil
}

// CreateFile creates (truncates) the file fn for writing. The ".gz" suffix
// makes the writer compress the content.
func CreateFile(fn string) (io.WriteCloser, error) {
	fd, err := os.OpenFile(fn, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640)
	if err != nil {
		return nil, err
	}
	if !IsGzip(fn) {
		return fd, nil
	}
	return &gzWriteCloser{Writer: gzip.NewWriter(fd), fd: fd}, nil
}

func (gr *gzReadCloser) Close() error {
	err := gr.Reader.Close()
	if err1 := gr.fd.Close(); err == nil {
		err = err1
	}
	return err
}

func (gw *gzWriteCloser) Close() error {
	err := gw.Writer.Close()
	if err1 := gw.fd.Close(); err == nil {
		err = err1
	}
	return err
}
