package common

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitAbsPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"root", "/", []string{"/"}},
		{"posix file", "/a/b/c.txt", []string{"/", "a", "b", "c.txt"}},
		{"trailing slash", "/a/b/", []string{"/", "a", "b"}},
		{"double slash", "/a//b", []string{"/", "a", "b"}},
		{"dot", "/a/./b", []string{"/", "a", "b"}},
		{"dotdot", "/a/x/../b", []string{"/", "a", "b"}},
		{"dotdot above root", "/../a", []string{"/", "a"}},
		{"drive backslash", `c:\a\b\c.txt`, []string{"c:", "a", "b", "c.txt"}},
		{"drive forward slash", "c:/a/b", []string{"c:", "a", "b"}},
		{"drive root", `D:\`, []string{"D:"}},
		{"unicode", "/música/été.flac", []string{"/", "música", "été.flac"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := SplitAbsPath(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, "SplitAbsPath(%q)", tt.input)
		})
	}
}

func TestSplitAbsPath_Relative(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "a/b", "./a", "1:/x", "c:", "c:foo", `d:foo\bar`} {
		_, err := SplitAbsPath(input)
		assert.True(t, errors.Is(err, ErrInvalidPath), "SplitAbsPath(%q) err = %v", input, err)
	}
}

func TestJoinSegments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []string
		want  string
	}{
		{"empty", nil, ""},
		{"root", []string{"/"}, "/"},
		{"posix", []string{"/", "home", "hebwy", "loog.txt"}, "/home/hebwy/loog.txt"},
		{"drive", []string{"c:", "a", "b", "c.txt"}, `c:\a\b\c.txt`},
		{"drive root", []string{"c:"}, `c:\`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, JoinSegments(tt.input))
		})
	}
}

func TestSplitJoinRoundTrip(t *testing.T) {
	t.Parallel()

	paths := []string{
		"/",
		"/what/you/at/gamma.vob",
		"/home/hebwy/noxx",
		`c:\a\b\c.txt`,
		`Z:\Music\Artist - Album\01 Track.flac`,
	}
	for _, p := range paths {
		segments, err := SplitAbsPath(p)
		require.NoError(t, err)
		assert.Equal(t, p, JoinSegments(segments), "round trip of %q via %v", p, segments)
	}
}

func TestIsDrive(t *testing.T) {
	t.Parallel()

	assert.True(t, IsDrive("c:"))
	assert.True(t, IsDrive("Z:"))
	assert.False(t, IsDrive("/"))
	assert.False(t, IsDrive("cc:"))
	assert.False(t, IsDrive("1:"))
	assert.False(t, IsDrive("c"))
}

func TestIsNativeRoot(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		assert.True(t, IsNativeRoot("c:"))
		assert.False(t, IsNativeRoot("/"))
		return
	}
	assert.True(t, IsNativeRoot("/"))
	assert.False(t, IsNativeRoot("c:"))
}
