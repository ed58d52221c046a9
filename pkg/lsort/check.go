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

	"github.com/logrange/lsort/pkg/lbuf"
	"github.com/pkg/errors"
)

// CheckSorted reads lines from r and returns whether they are ordered by
// the chain. It stops on the first line which is out of order, the line
// number (starting from 1) is returned then, or 0 if all lines are ordered.
func CheckSorted(ctx context.Context, r io.Reader, chain *Chain) (int64, error) {
	if chain == nil {
		return 0, errors.Wrapf(ErrConfig, "chain must not be nil")
	}

	cmp := newComparer(chain, 0)
	lb := lbuf.New(r, readBufSize)
	var prev, cur lbuf.Record
	var num int64
	for {
		if num%ctxCheckLines == 0 {
			if err := ctx.Err(); err != nil {
				return 0, errors.Wrapf(ErrCancelled, "check interrupted after %d lines: %v", num, err)
			}
		}
		_, err := lb.ReadLine(&cur)
		if err == io.EOF {
			return 0, nil
		}
		if err != nil {
			return 0, errors.Wrapf(err, "could not read line %d", num+1)
		}
		num++
		if num > 1 && cmp.compare(prev.Bytes(), cur.Bytes()) > 0 {
			return num, nil
		}
		prev, cur = cur, prev
	}
}
