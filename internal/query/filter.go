// Copyright 2024 ptindex Authors
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

package query

import (
	"iter"
	"slices"
	"strings"

	"ptindex/internal/tagset"
)

// FirstValue returns the smallest value of key in natural order. ok is false
// when tags lack the key.
func FirstValue(tags tagset.Set, key string) (value string, ok bool) {
	vals := tags.Values(key)
	if len(vals) == 0 {
		return "", false
	}
	return slices.MinFunc(vals, NaturalCompare), true
}

// Matches reports whether c passes f. A missing key compares as "".
func (f RangeFilter) Matches(c Candidate) bool {
	v, _ := FirstValue(c.Tags, f.Key)
	cmp := NaturalCompare(v, f.Value)
	switch f.Op {
	case OpGE:
		return cmp >= 0
	case OpGT:
		return cmp > 0
	case OpLE:
		return cmp <= 0
	case OpLT:
		return cmp < 0
	default:
		return false
	}
}

// Filter drops candidates failing any of filters. Errors pass through.
func Filter(filters []RangeFilter, candidates iter.Seq2[Candidate, error]) iter.Seq2[Candidate, error] {
	if len(filters) == 0 {
		return candidates
	}
	return func(yield func(Candidate, error) bool) {
		for c, err := range candidates {
			if err != nil {
				if !yield(c, err) {
					return
				}
				continue
			}
			if !slices.ContainsFunc(filters, func(f RangeFilter) bool { return !f.Matches(c) }) {
				if !yield(c, nil) {
					return
				}
			}
		}
	}
}

// Columns renders the values of each column for c, naturally sorted and
// comma separated.
func Columns(c Candidate, columns []string) []string {
	out := make([]string, len(columns))
	for i, col := range columns {
		out[i] = strings.Join(naturalSorted(c.Tags.Values(col)), ",")
	}
	return out
}
