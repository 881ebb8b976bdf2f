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

// Package query parses tag queries, retrieves matching files from the index
// and filters and orders the results.
package query

import (
	"maps"
	"slices"
	"strings"
)

// Direction is the order of one sort key.
type Direction int

const (
	Ascending Direction = iota
	Descending
	Random
)

func (d Direction) String() string {
	switch d {
	case Ascending:
		return "asc"
	case Descending:
		return "desc"
	case Random:
		return "random"
	default:
		return "unknown"
	}
}

// SortKey orders results by the first value of Column.
type SortKey struct {
	Direction Direction
	Column    string
}

// Op is a range comparison.
type Op string

const (
	OpGE Op = ">="
	OpGT Op = ">"
	OpLE Op = "<="
	OpLT Op = "<"
)

// rangeOps is the order in which a term is searched for an operator, so that
// ">=" wins over ">".
var rangeOps = []Op{OpGE, OpGT, OpLE, OpLT}

// RangeFilter keeps candidates whose first value for Key compares to Value
// with Op.
type RangeFilter struct {
	Op    Op
	Key   string
	Value string
}

// Query is a parsed query.
type Query struct {
	Includes []string
	Excludes []string
	Filters  []RangeFilter
	Sort     []SortKey
	Columns  []string
}

const (
	colPrefix    = "col:"
	sortAsc      = "sort+:"
	sortDesc     = "sort-:"
	sortRandom   = "sort?:"
	excludePrefx = "^"
	wildcard     = "%"
)

// Parse turns query arguments into a Query. Rules are tried in order:
//
//	col:<name>                      add a column
//	sort+:<name> sort-:<name>       sort ascending or descending
//	sort?:<name>                    sort randomly
//	^<term>                         exclude files carrying term
//	key>=v key>v key<=v key<v       range filter on key
//	anything else                   include files carrying the term
//
// A term containing '%' is a wildcard term: '%' matches any run of characters
// and everything else, '_' included, matches literally and case sensitively.
func Parse(args []string) Query {
	var q Query
	includes := map[string]struct{}{}
	excludes := map[string]struct{}{}
	filters := map[RangeFilter]struct{}{}

	addColumn := func(name string) {
		if !slices.Contains(q.Columns, name) {
			q.Columns = append(q.Columns, name)
		}
	}

	for _, arg := range args {
		if name, ok := strings.CutPrefix(arg, colPrefix); ok {
			q.Columns = append(q.Columns, name)
			continue
		}
		if key, ok := parseSort(arg); ok {
			addColumn(key.Column)
			q.Sort = append(q.Sort, key)
			continue
		}
		if term, ok := strings.CutPrefix(arg, excludePrefx); ok {
			excludes[term] = struct{}{}
			continue
		}
		if f, ok := parseRange(arg); ok {
			includes[f.Key+"="+wildcard] = struct{}{}
			filters[f] = struct{}{}
			addColumn(f.Key)
			continue
		}
		includes[arg] = struct{}{}
	}

	q.Includes = slices.Sorted(maps.Keys(includes))
	q.Excludes = slices.Sorted(maps.Keys(excludes))
	q.Filters = slices.SortedFunc(maps.Keys(filters), func(a, b RangeFilter) int {
		if c := strings.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		if c := strings.Compare(string(a.Op), string(b.Op)); c != 0 {
			return c
		}
		return strings.Compare(a.Value, b.Value)
	})
	return q
}

func parseSort(arg string) (SortKey, bool) {
	for prefix, dir := range map[string]Direction{
		sortAsc:    Ascending,
		sortDesc:   Descending,
		sortRandom: Random,
	} {
		if name, ok := strings.CutPrefix(arg, prefix); ok {
			return SortKey{Direction: dir, Column: name}, true
		}
	}
	return SortKey{}, false
}

func parseRange(arg string) (RangeFilter, bool) {
	for _, op := range rangeOps {
		if key, value, ok := strings.Cut(arg, string(op)); ok {
			return RangeFilter{Op: op, Key: key, Value: value}, true
		}
	}
	return RangeFilter{}, false
}

// IsWildcard reports whether term is a pattern rather than an exact tag.
func IsWildcard(term string) bool {
	return strings.Contains(term, wildcard)
}

// Plain reports whether the query only lists paths: no columns, sort or
// filters.
func (q Query) Plain() bool {
	return len(q.Columns) == 0 && len(q.Sort) == 0 && len(q.Filters) == 0
}
