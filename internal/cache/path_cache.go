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


package cache

import (
	"slices"
	"sync"
)

// PathCache maps directory node ids to their path segments, so that
// rebuilding the paths of many siblings walks the parent chain once. Entries
// never expire: a cache lives as long as one read-only query session.
//
// Thread-safe: Uses a mutex for concurrent access.
type PathCache struct {
	mu      sync.Mutex
	entries map[int64][]string
	maxSize int

	hits   int
	misses int
}

// NewPathCache creates a new path cache holding at most maxSize entries
// (use 0 for unlimited).
func NewPathCache(maxSize int) *PathCache {
	return &PathCache{
		entries: make(map[int64][]string, 64),
		maxSize: maxSize,
	}
}

// Get returns a copy of the segments cached for id.
// Misses when the entry is absent or caching is disabled.
func (c *PathCache) Get(id int64) ([]string, bool) {
	if Disabled {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	segments, ok := c.entries[id]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return slices.Clone(segments), true
}

// Set stores the segments of id. No-op if caching is disabled.
func (c *PathCache) Set(id int64, segments []string) {
	if Disabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		// At capacity: keep existing entries, refresh only known ids.
		if _, exists := c.entries[id]; !exists {
			return
		}
	}
	c.entries[id] = slices.Clone(segments)
}

// Stats reports the hit and miss counters and the number of entries.
func (c *PathCache) Stats() (hits, misses, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.hits, c.misses, len(c.entries)
}
