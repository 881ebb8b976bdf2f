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
	"cmp"
	"hash/maphash"
	"math/rand/v2"
	"slices"
)

// Sort orders rows by keys. Rows are shuffled first, so ties and random keys
// come out in a different order on every call.
func Sort(keys []SortKey, rows []Candidate) []Candidate {
	rand.Shuffle(len(rows), func(i, j int) {
		rows[i], rows[j] = rows[j], rows[i]
	})
	return SortWithSeed(keys, rows, maphash.MakeSeed())
}

// SortWithSeed stably sorts rows in place by keys, salting random keys with
// seed, and returns rows.
func SortWithSeed(keys []SortKey, rows []Candidate, seed maphash.Seed) []Candidate {
	if len(keys) == 0 {
		return rows
	}
	slices.SortStableFunc(rows, func(a, b Candidate) int {
		return compareRows(a, b, keys, seed)
	})
	return rows
}

func compareRows(a, b Candidate, keys []SortKey, seed maphash.Seed) int {
	for _, k := range keys {
		va, oka := FirstValue(a.Tags, k.Column)
		vb, okb := FirstValue(b.Tags, k.Column)

		var c int
		switch {
		case k.Direction == Random:
			c = cmp.Compare(maphash.String(seed, va), maphash.String(seed, vb))
		case !oka && !okb:
			c = 0
		case !oka:
			c = 1
		case !okb:
			c = -1
		default:
			c = NaturalCompare(va, vb)
		}
		if k.Direction == Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}
