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
	"strconv"
	"strings"

	"github.com/logrange/lsort/pkg/lsort"
	"github.com/pkg/errors"
)

// parseKeys adds a rule to cb for every key. The key formats are:
// "N" - field N compared as text, "Nn" - field N compared as a number,
// "N,M,..." - the fields compared as one text joined by the delimiter.
func parseKeys(cb *lsort.ChainBuilder, keys []string) error {
	for _, key := range keys {
		k := strings.TrimSpace(key)
		switch {
		case strings.Contains(k, ","):
			parts := strings.Split(k, ",")
			idxs := make([]int, 0, len(parts))
			for _, p := range parts {
				idx, err := parseIndex(p)
				if err != nil {
					return errors.Wrapf(err, "wrong key %q", key)
				}
				idxs = append(idxs, idx)
			}
			cb.Fields(idxs...)
		case strings.HasSuffix(k, "n"):
			idx, err := parseIndex(k[:len(k)-1])
			if err != nil {
				return errors.Wrapf(err, "wrong key %q", key)
			}
			cb.Field(idx, true)
		default:
			idx, err := parseIndex(k)
			if err != nil {
				return errors.Wrapf(err, "wrong key %q", key)
			}
			cb.Field(idx, false)
		}
	}
	return nil
}

func parseIndex(s string) (int, error) {
	idx, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(lsort.ErrConfig, "field index expected, but %q", s)
	}
	if idx < 0 {
		return 0, errors.Wrapf(lsort.ErrConfig, "field index must be non-negative, but %d", idx)
	}
	return idx, nil
}
