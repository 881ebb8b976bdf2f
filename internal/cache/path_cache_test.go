package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathCache_GetSet(t *testing.T) {
	if Disabled {
		t.Skip("caching disabled via PTINDEX_CACHE=0")
	}
	c := NewPathCache(0)

	_, ok := c.Get(1)
	assert.False(t, ok)

	segs := []string{"/", "music", "albums"}
	c.Set(1, segs)
	segs[1] = "changed"

	got, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, []string{"/", "music", "albums"}, got, "Set stores a copy")

	got[0] = "x"
	again, _ := c.Get(1)
	assert.Equal(t, "/", again[0], "Get returns a copy")

	hits, misses, size := c.Stats()
	assert.Equal(t, 2, hits)
	assert.Equal(t, 1, misses)
	assert.Equal(t, 1, size)
}

func TestPathCache_MaxSize(t *testing.T) {
	if Disabled {
		t.Skip("caching disabled via PTINDEX_CACHE=0")
	}
	c := NewPathCache(2)
	c.Set(1, []string{"/", "a"})
	c.Set(2, []string{"/", "b"})
	c.Set(3, []string{"/", "c"})
	_, _, size := c.Stats()
	assert.Equal(t, 2, size)

	_, ok := c.Get(3)
	assert.False(t, ok)

	// Known ids can still be refreshed at capacity.
	c.Set(1, []string{"/", "z"})
	got, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, []string{"/", "z"}, got)
}
