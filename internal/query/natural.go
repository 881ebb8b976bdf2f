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
	"slices"

	"github.com/maruel/natural"
)

// NaturalCompare orders a and b so that embedded numbers compare by value:
// "track2" sorts before "track10" and "date=98" before "date=103".
func NaturalCompare(a, b string) int {
	switch {
	case natural.Less(a, b):
		return -1
	case natural.Less(b, a):
		return 1
	default:
		return 0
	}
}

// naturalSorted returns vals sorted by NaturalCompare.
func naturalSorted(vals []string) []string {
	return slices.SortedFunc(slices.Values(vals), NaturalCompare)
}
