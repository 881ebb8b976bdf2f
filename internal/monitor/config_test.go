package monitor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDir(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		t.Setenv(EnvConfigDir, "")
		dir := ConfigDir()
		assert.NotEmpty(t, dir)
		assert.True(t, strings.HasSuffix(dir, ".ptindex"), "should end with .ptindex")
	})

	t.Run("override with PTINDEX_CONFIG_DIR", func(t *testing.T) {
		t.Setenv(EnvConfigDir, "/tmp/test-ptindex-config")
		assert.Equal(t, "/tmp/test-ptindex-config", ConfigDir())
	})
}

func TestPathFunctions(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv(EnvConfigDir, tmpDir)
	t.Setenv(EnvIndexPath, "")
	t.Setenv(EnvLogPath, "")

	assert.Equal(t, filepath.Join(tmpDir, "settings.yaml"), SettingsPath())
	assert.Equal(t, filepath.Join(tmpDir, "index.db"), IndexPath())
	assert.Equal(t, filepath.Join(tmpDir, "monitor.log"), LogPath())
	assert.Equal(t, "/x/index.db.lock", LockPath("/x/index.db"))

	t.Setenv(EnvIndexPath, "/elsewhere/my.db")
	assert.Equal(t, "/elsewhere/my.db", IndexPath())
	t.Setenv(EnvLogPath, "/elsewhere/my.log")
	assert.Equal(t, "/elsewhere/my.log", LogPath())
}

func TestInitConfigDir(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "config")
	t.Setenv(EnvConfigDir, tmpDir)

	require.NoError(t, InitConfigDir())
	data, err := os.ReadFile(SettingsPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "scan_on_start")

	// An existing file is left alone.
	require.NoError(t, os.WriteFile(SettingsPath(), []byte("roots: [/a]\n"), 0o600))
	require.NoError(t, InitConfigDir())
	data, err = os.ReadFile(SettingsPath())
	require.NoError(t, err)
	assert.Equal(t, "roots: [/a]\n", string(data))
}

func TestLoadSettings(t *testing.T) {
	t.Run("embedded defaults", func(t *testing.T) {
		t.Setenv(EnvConfigDir, t.TempDir())
		s, err := LoadSettings()
		require.NoError(t, err)
		assert.Empty(t, s.Roots)
		assert.False(t, s.ScanOnStart)
		assert.True(t, s.GitignoreEnabled())
		assert.Equal(t, "info", s.LogLevel)
		assert.Equal(t, 100, s.BatchSize)
		assert.Contains(t, s.Ignore, ".git")
	})

	t.Run("file values and defaults", func(t *testing.T) {
		t.Setenv(EnvConfigDir, t.TempDir())
		require.NoError(t, os.WriteFile(SettingsPath(), []byte("roots: [/music]\ngitignore: false\n"), 0o600))
		s, err := LoadSettings()
		require.NoError(t, err)
		assert.Equal(t, []string{"/music"}, s.Roots)
		assert.False(t, s.GitignoreEnabled())
		assert.Equal(t, 100, s.BatchSize)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		t.Setenv(EnvConfigDir, t.TempDir())
		require.NoError(t, os.WriteFile(SettingsPath(), []byte("roots: [\n"), 0o600))
		_, err := LoadSettings()
		assert.Error(t, err)
	})
}

func TestSaveSettings(t *testing.T) {
	t.Setenv(EnvConfigDir, filepath.Join(t.TempDir(), "new"))

	s, err := LoadSettings()
	require.NoError(t, err)
	s.Roots = []string{"/music", "/books"}
	s.ScanOnStart = true
	s.LogLevel = "debug"
	require.NoError(t, SaveSettings(s))

	loaded, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, s.Roots, loaded.Roots)
	assert.True(t, loaded.ScanOnStart)
	assert.Equal(t, "debug", loaded.LogLevel)

	data, err := os.ReadFile(SettingsPath())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# ptindex settings"))
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		level   log.Level
		enabled bool
		wantErr bool
	}{
		{"", log.InfoLevel, true, false},
		{"debug", log.DebugLevel, true, false},
		{"TRACE", log.TraceLevel, true, false},
		{"warn", log.WarnLevel, true, false},
		{"off", log.PanicLevel, false, false},
		{"none", log.PanicLevel, false, false},
		{"loud", log.InfoLevel, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			level, enabled, err := ParseLogLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.level, level)
			assert.Equal(t, tt.enabled, enabled)
		})
	}
}

func TestOptionsFromSettings(t *testing.T) {
	t.Setenv(EnvConfigDir, t.TempDir())
	t.Setenv(EnvIndexPath, "")
	s := &Settings{Roots: []string{"/from/settings"}, ScanOnStart: true, Ignore: []string{"*.tmp"}}
	s.ApplyDefaults()

	opts := OptionsFromSettings(s, nil)
	assert.Equal(t, []string{"/from/settings"}, opts.Roots)
	assert.True(t, opts.Scan)
	assert.True(t, opts.Gitignore)
	assert.Equal(t, IndexPath(), opts.IndexPath)

	opts = OptionsFromSettings(s, []string{"/from/args"})
	assert.Equal(t, []string{"/from/args"}, opts.Roots)
}
