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

package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"ptindex/internal/artifacts"
)

const (
	// EnvConfigDir overrides the configuration directory.
	EnvConfigDir = "PTINDEX_CONFIG_DIR"
	// EnvIndexPath overrides the index file location.
	EnvIndexPath = "PTINDEX_DB"
	// EnvLogPath overrides the monitor log file location.
	EnvLogPath = "PTINDEX_LOG"

	indexFileName = "index.db"
	logFileName   = "monitor.log"
)

// ConfigDir returns the configuration directory. Uses PTINDEX_CONFIG_DIR if
// set, otherwise ~/.ptindex. Computed on every call so tests can isolate it.
func ConfigDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ptindex")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(ConfigDir(), "settings.yaml")
}

// IndexPath returns the index file path, honoring PTINDEX_DB.
func IndexPath() string {
	if p := os.Getenv(EnvIndexPath); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), indexFileName)
}

// LockPath returns the writer lock file guarding the index at indexPath.
func LockPath(indexPath string) string {
	return indexPath + ".lock"
}

// LogPath returns the monitor log file path, honoring PTINDEX_LOG.
func LogPath() string {
	if p := os.Getenv(EnvLogPath); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), logFileName)
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	return os.MkdirAll(ConfigDir(), 0o700)
}

// InitConfigDir creates the config directory and writes the default settings
// file if none exists.
func InitConfigDir() error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	path := SettingsPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, artifacts.GlobalSettings, 0o600); err != nil {
			return fmt.Errorf("failed to create default settings: %w", err)
		}
	}
	return nil
}

// Settings is the contents of settings.yaml.
type Settings struct {
	Roots        []string `yaml:"roots"`
	CheckOnStart bool     `yaml:"check_on_start"`
	ScanOnStart  bool     `yaml:"scan_on_start"`
	LogLevel     string   `yaml:"log_level"`
	Gitignore    *bool    `yaml:"gitignore"` // default: true (pointer to detect missing)
	Ignore       []string `yaml:"ignore"`
	BatchSize    int      `yaml:"batch_size"`
	BusyTimeout  int      `yaml:"busy_timeout"`
}

// ApplyDefaults fills zero-value fields with their defaults.
func (s *Settings) ApplyDefaults() {
	if s.Gitignore == nil {
		t := true
		s.Gitignore = &t
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 100
	}
}

// GitignoreEnabled returns whether .gitignore files are honored (defaults to true).
func (s *Settings) GitignoreEnabled() bool {
	if s.Gitignore == nil {
		return true
	}
	return *s.Gitignore
}

// loadDefaultSettings parses the embedded defaults.
func loadDefaultSettings() Settings {
	var s Settings
	if err := yaml.Unmarshal(artifacts.GlobalSettings, &s); err != nil {
		panic("failed to parse embedded settings: " + err.Error())
	}
	return s
}

// LoadSettings reads settings.yaml, falling back to the embedded defaults when
// the file doesn't exist.
func LoadSettings() (*Settings, error) {
	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			s := loadDefaultSettings()
			s.ApplyDefaults()
			return &s, nil
		}
		return nil, err
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", SettingsPath(), err)
	}
	s.ApplyDefaults()
	return &s, nil
}

// SaveSettings writes settings.yaml.
func SaveSettings(s *Settings) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	header := []byte("# ptindex settings\n# See: ptindex config --help\n\n")
	return os.WriteFile(SettingsPath(), append(header, data...), 0o600)
}

// ParseLogLevel maps a settings level to a logrus level. enabled is false for
// "off" and "none".
func ParseLogLevel(level string) (lvl log.Level, enabled bool, err error) {
	switch strings.ToLower(level) {
	case "off", "none":
		return log.PanicLevel, false, nil
	case "":
		return log.InfoLevel, true, nil
	}
	lvl, err = log.ParseLevel(level)
	if err != nil {
		return log.InfoLevel, true, fmt.Errorf("unknown log level %q", level)
	}
	return lvl, true, nil
}
