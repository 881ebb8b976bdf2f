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

// Package tagset models the tags carried in a file header: a mapping from
// string keys to sets of string values. A key with the empty value is a bare
// tag such as "red".
package tagset

import (
	"maps"
	"slices"
)

// Values is the set of values attached to one key.
type Values map[string]struct{}

// Set maps tag keys to their value sets. A nil Set and an empty Set both
// describe a file with a header but no tags; a file without a header is
// represented by the codec's ok flag, never by a Set value.
type Set map[string]Values

// New returns an empty tag set.
func New() Set {
	return make(Set)
}

// Of builds a set from alternating key, value pairs. It panics on an odd
// argument count and exists mainly for tests and fixtures.
func Of(kv ...string) Set {
	if len(kv)%2 != 0 {
		panic("tagset.Of: odd number of arguments")
	}
	s := New()
	for i := 0; i < len(kv); i += 2 {
		s.Add(kv[i], kv[i+1])
	}
	return s
}

// Add inserts value under key. Use the empty value for a bare tag.
func (s Set) Add(key, value string) {
	vals, ok := s[key]
	if !ok {
		vals = make(Values)
		s[key] = vals
	}
	vals[value] = struct{}{}
}

// Has reports whether key carries value.
func (s Set) Has(key, value string) bool {
	_, ok := s[key][value]
	return ok
}

// Keys returns the keys in ascending order.
func (s Set) Keys() []string {
	return slices.Sorted(maps.Keys(s))
}

// Values returns the values of key in ascending byte order, or nil if the key
// is absent.
func (s Set) Values(key string) []string {
	vals, ok := s[key]
	if !ok {
		return nil
	}
	return slices.Sorted(maps.Keys(vals))
}

// Len returns the number of (key, value) pairs.
func (s Set) Len() int {
	n := 0
	for _, vals := range s {
		n += len(vals)
	}
	return n
}

// Equal reports whether both sets hold the same (key, value) pairs.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for key, vals := range s {
		ovals, ok := other[key]
		if !ok || len(vals) != len(ovals) {
			return false
		}
		for v := range vals {
			if _, ok := ovals[v]; !ok {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for key, vals := range s {
		out[key] = maps.Clone(vals)
	}
	return out
}

// Pair is a single (key, value) entry of a set.
type Pair struct {
	Key   string
	Value string
}

// Pairs returns every (key, value) pair sorted by key then value.
func (s Set) Pairs() []Pair {
	pairs := make([]Pair, 0, s.Len())
	for _, key := range s.Keys() {
		for _, v := range s.Values(key) {
			pairs = append(pairs, Pair{Key: key, Value: v})
		}
	}
	return pairs
}
