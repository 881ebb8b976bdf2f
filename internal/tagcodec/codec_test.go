package tagcodec

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ptindex/internal/tagset"
)

func TestEncodeTag(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "red", EncodeTag("red", ""))
	assert.Equal(t, "date=99", EncodeTag("date", "99"))
	assert.Equal(t, "eq=a=b", EncodeTag("eq", "a=b"))

	k, v := DecodeTag("eq=a=b")
	assert.Equal(t, "eq", k)
	assert.Equal(t, "a=b", v)

	k, v = DecodeTag("red")
	assert.Equal(t, "red", k)
	assert.Equal(t, "", v)
}

func TestEncodeTags(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a=b\n", EncodeTags(tagset.Of("a", "b")))
	assert.Equal(t, "date=99\njuicy\nred\n",
		EncodeTags(tagset.Of("red", "", "juicy", "", "date", "99")))
	assert.Equal(t, "", EncodeTags(tagset.New()))
}

func TestDecodeTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		blob string
		want tagset.Set
	}{
		{"single", "a=b\n", tagset.Of("a", "b")},
		{"no trailing newline", "a=b\nc", tagset.Of("a", "b", "c", "")},
		{"blank lines", "\n\na\n\n", tagset.Of("a", "")},
		{"crlf", "a=1\r\nb\r\n", tagset.Of("a", "1", "b", "")},
		{"nul padding", "a=b\n\x00\x00\x00", tagset.Of("a", "b")},
		{"multi values", "k=1\nk=2\n", tagset.Of("k", "1", "k", "2")},
		{"empty", "", tagset.New()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeTags(tt.blob)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "DecodeTags(%q) = %v, want %v", tt.blob, got, tt.want)
		})
	}
}

func TestDecodeTags_Malformed(t *testing.T) {
	t.Parallel()

	for _, blob := range []string{"=value\n", "a\x00b\n", "\xff\xfe\n"} {
		_, err := DecodeTags(blob)
		assert.True(t, errors.Is(err, ErrMalformedHeader), "DecodeTags(%q) err = %v", blob, err)
	}
}

func TestPostings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{Untagged}, Postings(tagset.New()))
	assert.Equal(t, []string{Untagged}, Postings(nil))
	assert.Equal(t, []string{"date=99", "red"}, Postings(tagset.Of("red", "", "date", "99")))
}

func TestReadHeader(t *testing.T) {
	t.Parallel()

	t.Run("unsized", func(t *testing.T) {
		t.Parallel()
		data := Magic + "u\nred\ndate=99\n<<<<\ncontent"
		r := bufio.NewReader(strings.NewReader(data))
		tags, n, ok, err := ReadHeader(r)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, tagset.Of("red", "", "date", "99").Equal(tags))
		assert.Equal(t, len(data)-len("content"), n)
	})

	t.Run("sized", func(t *testing.T) {
		t.Parallel()
		data := Magic + "0000000010\na=b\n\x00\x00\x00\x00\x00\x00rest"
		r := bufio.NewReader(strings.NewReader(data))
		tags, n, ok, err := ReadHeader(r)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, tagset.Of("a", "b").Equal(tags))
		assert.Equal(t, len(data)-len("rest"), n)
	})

	t.Run("no header", func(t *testing.T) {
		t.Parallel()
		for _, data := range []string{"", "plain text file", "poly"} {
			_, _, ok, err := ReadHeader(bufio.NewReader(strings.NewReader(data)))
			require.NoError(t, err)
			assert.False(t, ok, "data %q", data)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		t.Parallel()
		for _, data := range []string{
			Magic,
			Magic + "u\nred\n",
			Magic + "00000000x0\n",
			Magic + "0000000100\nshort",
			Magic + "0000000005",
		} {
			_, _, _, err := ReadHeader(bufio.NewReader(strings.NewReader(data)))
			assert.True(t, errors.Is(err, ErrMalformedHeader), "data %q err = %v", data, err)
		}
	})
}

func TestWriteHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	tags := tagset.Of("seven", "", "under", "", "length", "7", "date", "103")
	var buf bytes.Buffer
	require.NoError(t, WriteHeader(&buf, tags))
	assert.Equal(t, 0, (buf.Len()-len(Magic)-sizeDigits-1)%headerBlock)

	got, n, ok, err := ReadHeader(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, tags.Equal(got))
	assert.Greater(t, n, 0)
}

func TestHeaderCodec_Files(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	codec := NewHeaderCodec()

	t.Run("missing file is absent", func(t *testing.T) {
		tags, ok, err := codec.GetTags(filepath.Join(dir, "nope"))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, tags)
	})

	t.Run("directory is absent", func(t *testing.T) {
		_, ok, err := codec.GetTags(dir)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("set then get keeps content", func(t *testing.T) {
		path := filepath.Join(dir, "song.flac")
		require.NoError(t, os.WriteFile(path, []byte("payload"), 0o640))

		_, ok, err := codec.GetTags(path)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, codec.SetTags(path, tagset.Of("artist", "nobody", "red", "")))
		tags, ok, err := codec.GetTags(path)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, tagset.Of("artist", "nobody", "red", "").Equal(tags))

		// Replacing the header must not duplicate it.
		require.NoError(t, codec.SetTags(path, tagset.New()))
		tags, ok, err = codec.GetTags(path)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 0, tags.Len())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(string(data), "payload"))
		assert.Equal(t, 1, strings.Count(string(data), Magic))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
	})

	t.Run("malformed header is an error", func(t *testing.T) {
		path := filepath.Join(dir, "broken")
		require.NoError(t, os.WriteFile(path, []byte(Magic+"u\nred\n"), 0o644))
		_, _, err := codec.GetTags(path)
		assert.True(t, errors.Is(err, ErrMalformedHeader))
	})

	t.Run("declared size larger than file", func(t *testing.T) {
		path := filepath.Join(dir, "huge")
		require.NoError(t, os.WriteFile(path, []byte(Magic+"4000000000\nred\n"), 0o644))

		var before, after runtime.MemStats
		runtime.ReadMemStats(&before)
		_, ok, err := codec.GetTags(path)
		runtime.ReadMemStats(&after)

		assert.True(t, errors.Is(err, ErrMalformedHeader))
		assert.False(t, ok)
		assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(64<<20), "allocation follows the file, not the declared size")
	})

	t.Run("ancestor is a file", func(t *testing.T) {
		parent := filepath.Join(dir, "plain")
		require.NoError(t, os.WriteFile(parent, []byte("x"), 0o644))
		tags, ok, err := codec.GetTags(filepath.Join(parent, "child"))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, tags)
	})
}

func TestIsTempFile(t *testing.T) {
	t.Parallel()
	assert.True(t, IsTempFile("/music/.song.flac.tags-123456"))
	assert.False(t, IsTempFile("/music/song.flac"))
	assert.False(t, IsTempFile("/music/song.tags-1"))
	assert.False(t, IsTempFile("/music/.hidden"))
}
