package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ptindex/internal/index"
	"ptindex/internal/query"
	"ptindex/internal/storage"
	"ptindex/internal/tagcodec"
	"ptindex/internal/tagset"
)

func init() {
	color.NoColor = true
}

// newQueryFixture indexes a few tagged files and returns an engine over them.
func newQueryFixture(t *testing.T) (*query.Engine, string) {
	t.Helper()
	file, err := storage.Create(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { file.Close() })

	dir := t.TempDir()
	codec := tagcodec.NewHeaderCodec()
	ix := index.New(file, codec)
	for name, tags := range map[string]tagset.Set{
		"a.flac": tagset.Of("genre", "jazz", "year", "1959"),
		"b.flac": tagset.Of("genre", "jazz", "year", "1964"),
		"c.flac": tagset.Of("genre", "rock", "year", "1971"),
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(name), 0o644))
		require.NoError(t, codec.SetTags(path, tags))
		_, err := ix.Reconcile(context.Background(), path)
		require.NoError(t, err)
	}
	return query.NewEngine(file.BunDB(), 2), dir
}

func TestPrintFiles(t *testing.T) {
	engine, dir := newQueryFixture(t)
	ctx := context.Background()

	t.Run("plain paths", func(t *testing.T) {
		var buf bytes.Buffer
		n, err := printFiles(ctx, &buf, engine, query.Parse([]string{"genre=jazz"}), 10)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		assert.ElementsMatch(t, []string{filepath.Join(dir, "a.flac"), filepath.Join(dir, "b.flac")}, lines)
	})

	t.Run("sorted columns", func(t *testing.T) {
		var buf bytes.Buffer
		n, err := printFiles(ctx, &buf, engine, query.Parse([]string{"col:genre", "sort-:year"}), 10)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t,
			"genre\tyear\tpath\n"+
				"rock\t1971\t"+filepath.Join(dir, "c.flac")+"\n"+
				"jazz\t1964\t"+filepath.Join(dir, "b.flac")+"\n"+
				"jazz\t1959\t"+filepath.Join(dir, "a.flac")+"\n",
			buf.String())
	})

	t.Run("limit applies after sorting", func(t *testing.T) {
		var buf bytes.Buffer
		n, err := printFiles(ctx, &buf, engine, query.Parse([]string{"sort+:year"}), 1)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, "year\tpath\n1959\t"+filepath.Join(dir, "a.flac")+"\n", buf.String())
	})

	t.Run("range filter", func(t *testing.T) {
		var buf bytes.Buffer
		n, err := printFiles(ctx, &buf, engine, query.Parse([]string{"year>1960"}), 10)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestPrintTags(t *testing.T) {
	engine, _ := newQueryFixture(t)
	var buf bytes.Buffer

	n, err := printTags(context.Background(), &buf, engine, query.MatchPrefix, "year=", 10)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "year=1959\nyear=1964\nyear=1971\n", buf.String())

	buf.Reset()
	n, err = printTags(context.Background(), &buf, engine, query.MatchAnywhere, "z", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "genre=jazz\n", buf.String())
}

func TestParseOnOff(t *testing.T) {
	on, err := parseOnOff("x", "ON")
	require.NoError(t, err)
	assert.True(t, on)

	on, err = parseOnOff("x", "off")
	require.NoError(t, err)
	assert.False(t, on)

	_, err = parseOnOff("x", "maybe")
	assert.Error(t, err)
	assert.Equal(t, "on", onOff(true))
	assert.Equal(t, "off", onOff(false))
}

func TestFormatBuildDate(t *testing.T) {
	assert.Equal(t, "unknown", formatBuildDate("unknown"))
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}$`, formatBuildDate("1700000000"))
}
