package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"ptindex/internal/common"
	"ptindex/internal/tagcodec"
	"ptindex/internal/tagset"
	"ptindex/internal/watch"
)

type monitorEnv struct {
	m     *Monitor
	root  string
	codec *tagcodec.HeaderCodec
}

func newMonitorEnv(t *testing.T, opts Options) *monitorEnv {
	t.Helper()
	root := t.TempDir()
	if opts.Roots == nil {
		opts.Roots = []string{root}
	}
	if opts.IndexPath == "" {
		opts.IndexPath = filepath.Join(t.TempDir(), "index.db")
	}
	m := New(opts)
	require.NoError(t, m.Open())
	t.Cleanup(func() { m.Close() })
	return &monitorEnv{m: m, root: root, codec: tagcodec.NewHeaderCodec()}
}

func (e *monitorEnv) writeTagged(t *testing.T, rel string, tags tagset.Set) string {
	t.Helper()
	path := filepath.Join(e.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(rel), 0o644))
	require.NoError(t, e.codec.SetTags(path, tags))
	return path
}

// indexed reports whether path is stored as a tagged file.
func (e *monitorEnv) indexed(t *testing.T, path string) bool {
	t.Helper()
	segments, err := common.SplitAbsPath(path)
	require.NoError(t, err)
	found := false
	err = e.m.file.RunInTx(context.Background(), func(ctx context.Context, tx bun.Tx) error {
		node, err := e.m.file.ResolvePathTx(ctx, tx, segments)
		if err != nil {
			return err
		}
		found = node != nil && node.HasTags()
		return nil
	})
	if !errors.Is(err, common.ErrNotFound) {
		require.NoError(t, err)
	}
	return found
}

func (e *monitorEnv) files(t *testing.T) int {
	t.Helper()
	stats, err := e.m.file.BunDB().GetStats(context.Background())
	require.NoError(t, err)
	return stats.Files
}

func TestOpen_BadRoot(t *testing.T) {
	t.Parallel()
	m := New(Options{
		Roots:     []string{filepath.Join(t.TempDir(), "missing")},
		IndexPath: filepath.Join(t.TempDir(), "index.db"),
	})
	assert.Error(t, m.Open())

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	m = New(Options{Roots: []string{file}, IndexPath: filepath.Join(t.TempDir(), "index.db")})
	assert.ErrorIs(t, m.Open(), common.ErrInvalidPath)
}

func TestOpen_SingleWriter(t *testing.T) {
	t.Parallel()
	env := newMonitorEnv(t, Options{})

	second := New(Options{Roots: []string{env.root}, IndexPath: env.m.opts.IndexPath})
	err := second.Open()
	assert.ErrorIs(t, err, common.ErrLocked)

	require.NoError(t, env.m.Close())
	require.NoError(t, second.Open())
	require.NoError(t, second.Close())
}

func TestPasses(t *testing.T) {
	t.Parallel()
	env := newMonitorEnv(t, Options{Ignore: []string{"skipped"}})
	ctx := context.Background()

	a := env.writeTagged(t, "a.flac", tagset.Of("x", "1"))
	b := env.writeTagged(t, "dir/b.flac", tagset.Of("x", "2"))
	skipped := env.writeTagged(t, "skipped/c.flac", tagset.Of("x", "3"))

	require.NoError(t, env.m.Passes(ctx, false, true))
	assert.True(t, env.indexed(t, a))
	assert.True(t, env.indexed(t, b))
	assert.False(t, env.indexed(t, skipped))

	require.NoError(t, os.Remove(b))
	require.NoError(t, env.m.Passes(ctx, true, false))
	assert.False(t, env.indexed(t, b))
	assert.Equal(t, 1, env.files(t))
}

func TestHandleEvent(t *testing.T) {
	t.Parallel()
	env := newMonitorEnv(t, Options{})
	ctx := context.Background()

	// A created file is indexed.
	song := env.writeTagged(t, "song.flac", tagset.Of("genre", "jazz"))
	env.m.HandleEvent(ctx, watch.Event{Op: watch.Created, Path: song})
	require.True(t, env.indexed(t, song))

	// A created directory is discovered.
	inner := env.writeTagged(t, "album/disc1/track.flac", tagset.Of("n", "1"))
	env.m.HandleEvent(ctx, watch.Event{Op: watch.Created, Path: filepath.Join(env.root, "album"), IsDir: true})
	require.True(t, env.indexed(t, inner))

	// A moved directory carries its files.
	renamed := filepath.Join(env.root, "renamed")
	require.NoError(t, os.Rename(filepath.Join(env.root, "album"), renamed))
	env.m.HandleEvent(ctx, watch.Event{Op: watch.Moved, Path: filepath.Join(env.root, "album"), Dest: renamed, IsDir: true})
	assert.False(t, env.indexed(t, inner))
	assert.True(t, env.indexed(t, filepath.Join(renamed, "disc1", "track.flac")))

	// A directory moved in from outside is discovered.
	outside := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(outside, "new"), 0o755))
	foreign := filepath.Join(outside, "new", "f.flac")
	require.NoError(t, os.WriteFile(foreign, []byte("f"), 0o644))
	require.NoError(t, env.codec.SetTags(foreign, tagset.Of("f", "")))
	arrived := filepath.Join(env.root, "arrived")
	require.NoError(t, os.Rename(filepath.Join(outside, "new"), arrived))
	env.m.HandleEvent(ctx, watch.Event{Op: watch.Moved, Path: filepath.Join(env.root, "nowhere"), Dest: arrived, IsDir: true})
	assert.True(t, env.indexed(t, filepath.Join(arrived, "f.flac")))

	// A moved file picks up a changed header.
	moved := filepath.Join(env.root, "moved.flac")
	require.NoError(t, os.Rename(song, moved))
	require.NoError(t, env.codec.SetTags(moved, tagset.Of("genre", "blues")))
	env.m.HandleEvent(ctx, watch.Event{Op: watch.Moved, Path: song, Dest: moved})
	assert.False(t, env.indexed(t, song))
	require.True(t, env.indexed(t, moved))
	postings, err := env.m.file.BunDB().ListPostings(ctx, env.nodeID(t, moved))
	require.NoError(t, err)
	assert.Equal(t, []string{"genre=blues"}, postings)

	// A removed file is dropped.
	require.NoError(t, os.Remove(moved))
	env.m.HandleEvent(ctx, watch.Event{Op: watch.Removed, Path: moved})
	assert.False(t, env.indexed(t, moved))
}

func (e *monitorEnv) nodeID(t *testing.T, path string) int64 {
	t.Helper()
	segments, err := common.SplitAbsPath(path)
	require.NoError(t, err)
	var id int64
	require.NoError(t, e.m.file.RunInTx(context.Background(), func(ctx context.Context, tx bun.Tx) error {
		node, err := e.m.file.ResolvePathTx(ctx, tx, segments)
		if err != nil {
			return err
		}
		id = node.ID
		return nil
	}))
	return id
}

func TestServe_FollowsTheTree(t *testing.T) {
	t.Parallel()
	env := newMonitorEnv(t, Options{})
	g := NewWithT(t)

	require.NoError(t, env.m.Watch())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.m.Serve(ctx) }()

	song := env.writeTagged(t, "song.flac", tagset.Of("genre", "jazz"))
	g.Eventually(func() bool { return env.indexed(t, song) }).
		WithTimeout(5 * time.Second).WithPolling(20 * time.Millisecond).Should(BeTrue())

	dst := filepath.Join(env.root, "sub", "song.flac")
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, os.Rename(song, dst))
	g.Eventually(func() bool { return env.indexed(t, dst) && !env.indexed(t, song) }).
		WithTimeout(5 * time.Second).WithPolling(20 * time.Millisecond).Should(BeTrue())

	require.NoError(t, os.Remove(dst))
	g.Eventually(func() int { return env.files(t) }).
		WithTimeout(5 * time.Second).WithPolling(20 * time.Millisecond).Should(Equal(0))

	cancel()
	g.Eventually(done).WithTimeout(5 * time.Second).Should(Receive(BeNil()))
}

func TestServe_RequiresWatch(t *testing.T) {
	t.Parallel()
	env := newMonitorEnv(t, Options{})
	assert.Error(t, env.m.Serve(context.Background()))
}

func TestTruncateLogFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "monitor.log")

	// Missing and small files are left alone.
	require.NoError(t, truncateLogFile(path, 10))
	require.NoError(t, os.WriteFile(path, []byte("short\n"), 0o600))
	require.NoError(t, truncateLogFile(path, 100))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "short\n", string(data))

	var sb strings.Builder
	for i := range 100 {
		sb.WriteString(strings.Repeat(string(rune('a'+i%26)), 9) + "\n")
	}
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o600))
	require.NoError(t, truncateLogFile(path, 100))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "--- Log truncated at "))
	assert.Less(t, len(data), sb.Len())
	assert.True(t, strings.HasSuffix(string(data), sb.String()[sb.Len()-10:]))
}
