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
	"fmt"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

type (
	// Comparator compares two lines. It returns a negative value if a
	// sorts before b, a positive value if a sorts after b and 0 otherwise.
	Comparator func(a, b []byte) int

	// Chain is an immutable ordered list of comparison rules. Two lines are
	// compared by the rules one by one, the first non-zero result wins.
	// A Chain can be shared between goroutines.
	Chain struct {
		delim  []byte
		rules  []rule
		parsed bool
	}

	// ChainBuilder collects rules for a new Chain. The first wrong rule is
	// remembered and returned by Build()
	ChainBuilder struct {
		delim string
		rules []rule
		err   error
	}

	ruleKind int

	rule struct {
		kind    ruleKind
		fields  []int
		numeric bool
		cmp     Comparator
	}

	// lineKey holds the line split to fields. Bounds are offsets, so a key
	// is valid for any line with the same content.
	lineKey struct {
		bounds []int
		nums   []float64
		numSt  []uint8
	}

	// comparer compares lines of one sort job. It is not synchronized.
	comparer struct {
		chain *Chain
		cache *keyCache
		ka    lineKey
		kb    lineKey
		bufA  []byte
		bufB  []byte
	}
)

const (
	ruleLine ruleKind = iota
	ruleField
	ruleFields
	ruleFunc
)

const (
	numUnknown = iota
	numOk
	numNaN
)

// DefaultDelimiter separates fields of a line if no other one is provided
const DefaultDelimiter = "\t"

// NewChainBuilder returns the builder with the default delimiter
func NewChainBuilder() *ChainBuilder {
	return &ChainBuilder{delim: DefaultDelimiter}
}

// Delimiter sets the fields separator
func (cb *ChainBuilder) Delimiter(delim string) *ChainBuilder {
	if len(delim) == 0 {
		cb.setErr(errors.Wrapf(ErrConfig, "delimiter must not be empty"))
	}
	cb.delim = delim
	return cb
}

// Line adds the rule which compares whole lines
func (cb *ChainBuilder) Line() *ChainBuilder {
	cb.rules = append(cb.rules, rule{kind: ruleLine})
	return cb
}

// Field adds the rule which compares field idx of the lines. Missing
// fields are empty. Numeric fields are compared as numbers, the values
// which are not numbers go first and are compared lexicographically.
func (cb *ChainBuilder) Field(idx int, numeric bool) *ChainBuilder {
	if idx < 0 {
		cb.setErr(errors.Wrapf(ErrConfig, "field index must be non-negative, but %d", idx))
	}
	cb.rules = append(cb.rules, rule{kind: ruleField, fields: []int{idx}, numeric: numeric})
	return cb
}

// Fields adds the rule which compares the concatenation of the fields,
// joined by the delimiter
func (cb *ChainBuilder) Fields(idxs ...int) *ChainBuilder {
	if len(idxs) == 0 {
		cb.setErr(errors.Wrapf(ErrConfig, "at least one field index expected"))
	}
	for _, idx := range idxs {
		if idx < 0 {
			cb.setErr(errors.Wrapf(ErrConfig, "field index must be non-negative, but %v", idxs))
		}
	}
	fields := make([]int, len(idxs))
	copy(fields, idxs)
	cb.rules = append(cb.rules, rule{kind: ruleFields, fields: fields})
	return cb
}

// FieldFunc adds the rule which compares lines by cmp
func (cb *ChainBuilder) FieldFunc(cmp Comparator) *ChainBuilder {
	if cmp == nil {
		cb.setErr(errors.Wrapf(ErrConfig, "comparator must not be nil"))
	}
	cb.rules = append(cb.rules, rule{kind: ruleFunc, cmp: cmp})
	return cb
}

// Build returns the new Chain or the first configuration error
func (cb *ChainBuilder) Build() (*Chain, error) {
	if cb.err != nil {
		return nil, cb.err
	}
	if len(cb.rules) == 0 {
		return nil, errors.Wrapf(ErrConfig, "at least one rule expected")
	}

	c := new(Chain)
	c.delim = []byte(cb.delim)
	c.rules = make([]rule, len(cb.rules))
	copy(c.rules, cb.rules)
	for _, r := range c.rules {
		c.parsed = c.parsed || r.kind == ruleField || r.kind == ruleFields
	}
	return c, nil
}

func (cb *ChainBuilder) setErr(err error) {
	if cb.err == nil {
		cb.err = err
	}
}

func (cb *ChainBuilder) hasRules() bool {
	return len(cb.rules) > 0
}

// Compare compares a and b by the chain rules
func (c *Chain) Compare(a, b []byte) int {
	return newComparer(c, 0).compare(a, b)
}

// Less returns whether a sorts before b
func (c *Chain) Less(a, b []byte) bool {
	return c.Compare(a, b) < 0
}

func (c *Chain) String() string {
	var sb bytes.Buffer
	fmt.Fprintf(&sb, "{delim=%q, rules=[", c.delim)
	for i, r := range c.rules {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(r.String())
	}
	sb.WriteString("]}")
	return sb.String()
}

func (r rule) String() string {
	switch r.kind {
	case ruleLine:
		return "line"
	case ruleField:
		if r.numeric {
			return fmt.Sprintf("field(%d, numeric)", r.fields[0])
		}
		return fmt.Sprintf("field(%d)", r.fields[0])
	case ruleFields:
		return fmt.Sprintf("fields%v", r.fields)
	}
	return "func"
}

// newComparer returns the comparer with the parsed lines cache of cacheSize
// lines. No cache is used if cacheSize <= 0
func newComparer(c *Chain, cacheSize int) *comparer {
	cmp := &comparer{chain: c}
	if c.parsed && cacheSize > 0 {
		cmp.cache = newKeyCache(cacheSize)
	}
	return cmp
}

func (cmp *comparer) compare(a, b []byte) int {
	var ka, kb *lineKey
	if cmp.chain.parsed {
		ka = cmp.key(a, &cmp.ka)
		kb = cmp.key(b, &cmp.kb)
	}

	for _, r := range cmp.chain.rules {
		res := 0
		switch r.kind {
		case ruleLine:
			res = bytes.Compare(a, b)
		case ruleField:
			if r.numeric {
				res = compareNums(ka, a, kb, b, r.fields[0])
			} else {
				res = bytes.Compare(ka.field(a, r.fields[0]), kb.field(b, r.fields[0]))
			}
		case ruleFields:
			cmp.bufA = ka.join(cmp.bufA[:0], a, r.fields, cmp.chain.delim)
			cmp.bufB = kb.join(cmp.bufB[:0], b, r.fields, cmp.chain.delim)
			res = bytes.Compare(cmp.bufA, cmp.bufB)
		case ruleFunc:
			res = r.cmp(a, b)
		}
		if res != 0 {
			return res
		}
	}
	return 0
}

// key returns the parsed line, the cache is consulted first if the comparer
// has one, otherwise the line is parsed into the scratch key.
func (cmp *comparer) key(line []byte, scratch *lineKey) *lineKey {
	if cmp.cache == nil {
		scratch.parse(line, cmp.chain.delim)
		return scratch
	}
	if lk := cmp.cache.get(line); lk != nil {
		return lk
	}
	lk := new(lineKey)
	lk.parse(line, cmp.chain.delim)
	cmp.cache.put(line, lk)
	return lk
}

func compareNums(ka *lineKey, a []byte, kb *lineKey, b []byte, idx int) int {
	va, oka := ka.num(a, idx)
	vb, okb := kb.num(b, idx)
	switch {
	case oka && okb:
		if va < vb {
			return -1
		}
		if va > vb {
			return 1
		}
		return 0
	case oka:
		return 1
	case okb:
		return -1
	}
	return bytes.Compare(ka.field(a, idx), kb.field(b, idx))
}

func (lk *lineKey) parse(line, delim []byte) {
	lk.bounds = lk.bounds[:0]
	start := 0
	for {
		idx := bytes.Index(line[start:], delim)
		if idx < 0 {
			lk.bounds = append(lk.bounds, start, len(line))
			break
		}
		lk.bounds = append(lk.bounds, start, start+idx)
		start += idx + len(delim)
	}

	n := len(lk.bounds) / 2
	if cap(lk.nums) < n {
		lk.nums = make([]float64, n)
		lk.numSt = make([]uint8, n)
	}
	lk.nums = lk.nums[:n]
	lk.numSt = lk.numSt[:n]
	for i := range lk.numSt {
		lk.numSt[i] = numUnknown
	}
}

func (lk *lineKey) fields() int {
	return len(lk.bounds) / 2
}

// field returns field idx of the line, or nil if the line doesn't have it
func (lk *lineKey) field(line []byte, idx int) []byte {
	if idx >= lk.fields() {
		return nil
	}
	return line[lk.bounds[2*idx]:lk.bounds[2*idx+1]]
}

// num returns field idx as a number. The result is parsed once per key.
func (lk *lineKey) num(line []byte, idx int) (float64, bool) {
	if idx >= lk.fields() {
		return 0, false
	}
	if lk.numSt[idx] == numUnknown {
		v, err := strconv.ParseFloat(string(bytes.TrimSpace(lk.field(line, idx))), 64)
		if err != nil || math.IsNaN(v) {
			lk.numSt[idx] = numNaN
		} else {
			lk.numSt[idx] = numOk
			lk.nums[idx] = v
		}
	}
	return lk.nums[idx], lk.numSt[idx] == numOk
}

func (lk *lineKey) join(buf, line []byte, idxs []int, delim []byte) []byte {
	for i, idx := range idxs {
		if i > 0 {
			buf = append(buf, delim...)
		}
		buf = append(buf, lk.field(line, idx)...)
	}
	return buf
}
