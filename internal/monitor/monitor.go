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

// Package monitor keeps an index in step with directory trees: it runs the
// startup passes, then applies watcher events one at a time.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"ptindex/internal/common"
	"ptindex/internal/index"
	"ptindex/internal/storage"
	"ptindex/internal/tagcodec"
	"ptindex/internal/watch"
)

// maxLogSize is the size past which the log file is truncated on start.
const maxLogSize = 50 * 1024 * 1024

// Options configures a Monitor.
type Options struct {
	Roots     []string
	IndexPath string
	Gitignore bool
	Ignore    []string
	// Check runs a prune pass and Scan a discovery pass before watching.
	Check bool
	Scan  bool
	// LogLevel is a logrus level name, or "off". LogFile redirects logging.
	LogLevel string
	LogFile  string
}

// OptionsFromSettings fills Options from settings, keeping roots given on
// the command line.
func OptionsFromSettings(s *Settings, roots []string) Options {
	if len(roots) == 0 {
		roots = s.Roots
	}
	return Options{
		Roots:     roots,
		IndexPath: IndexPath(),
		Gitignore: s.GitignoreEnabled(),
		Ignore:    s.Ignore,
		Check:     s.CheckOnStart,
		Scan:      s.ScanOnStart,
		LogLevel:  s.LogLevel,
	}
}

// Monitor owns the index while it runs. Only one monitor (or scan) may hold a
// given index at a time.
type Monitor struct {
	opts    Options
	lock    *flock.Flock
	logFile *os.File
	file    *storage.IndexFile
	ix      *index.Indexer
	scanner *index.Scanner
	filter  index.FileFilter
	watcher *watch.Watcher
}

// New returns a monitor; nothing is opened until Open.
func New(opts Options) *Monitor {
	return &Monitor{opts: opts}
}

// Indexer returns the indexer, valid after Open.
func (m *Monitor) Indexer() *index.Indexer {
	return m.ix
}

// Open resolves the roots, takes the writer lock, sets up logging and opens
// the index. Bad roots, a held lock or an unusable index are fatal.
func (m *Monitor) Open() error {
	roots := make([]string, 0, len(m.opts.Roots))
	for _, r := range m.opts.Roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("root %s: %w", r, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("root %s: not a directory: %w", r, common.ErrInvalidPath)
		}
		roots = append(roots, abs)
	}
	m.opts.Roots = roots

	indexPath, err := filepath.Abs(m.opts.IndexPath)
	if err != nil {
		return err
	}
	m.opts.IndexPath = indexPath
	if err := os.MkdirAll(filepath.Dir(indexPath), 0o755); err != nil {
		return err
	}

	m.lock = flock.New(LockPath(indexPath))
	locked, err := m.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%s: %w", indexPath, common.ErrLocked)
	}

	if err := m.setupLogging(); err != nil {
		m.lock.Unlock()
		return err
	}

	file, err := storage.OpenOrCreate(indexPath, storage.DBContextDefault)
	if err != nil {
		m.Close()
		return fmt.Errorf("open index: %w", err)
	}
	m.file = file
	m.ix = index.New(file, tagcodec.NewHeaderCodec())

	m.filter = BuildFileFilter(FilterOptions{
		Roots:     roots,
		Gitignore: m.opts.Gitignore,
		Ignore:    m.opts.Ignore,
		Exclude: []string{
			indexPath,
			indexPath + "-wal",
			indexPath + "-shm",
			LockPath(indexPath),
			m.opts.LogFile,
		},
	})
	m.scanner = index.NewScanner(m.ix, m.filter)
	return nil
}

func (m *Monitor) setupLogging() error {
	level, enabled, err := ParseLogLevel(m.opts.LogLevel)
	if err != nil {
		return err
	}
	if !enabled {
		log.SetOutput(io.Discard)
		return nil
	}
	log.SetLevel(level)

	if m.opts.LogFile == "" {
		return nil
	}
	if err := truncateLogFile(m.opts.LogFile, maxLogSize); err != nil {
		// Non-fatal, just report on stderr
		fmt.Fprintf(os.Stderr, "Warning: failed to truncate log file: %v\n", err)
	}
	f, err := os.OpenFile(m.opts.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	m.logFile = f
	log.SetOutput(f)
	return nil
}

// truncateLogFile keeps roughly the last half of path once it exceeds maxSize.
func truncateLogFile(path string, maxSize int64) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() <= maxSize {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	start := len(data) - len(data)/2
	// Don't cut a line in the middle.
	for i := start; i < len(data); i++ {
		if data[i] == '\n' {
			start = i + 1
			break
		}
	}
	kept := data[start:]
	header := fmt.Appendf(nil, "--- Log truncated at %s (kept last %d bytes) ---\n",
		time.Now().Format(time.RFC3339), len(kept))
	return os.WriteFile(path, append(header, kept...), 0o600)
}

// Passes runs the startup passes: prune first, then discovery over every
// root.
func (m *Monitor) Passes(ctx context.Context, check, scan bool) error {
	if check {
		if _, err := m.scanner.Prune(ctx); err != nil {
			return fmt.Errorf("prune: %w", err)
		}
	}
	if scan {
		if _, err := m.scanner.Discover(ctx, m.opts.Roots...); err != nil {
			return fmt.Errorf("discover: %w", err)
		}
	}
	return nil
}

// Watch arms the watcher on every root.
func (m *Monitor) Watch() error {
	if len(m.opts.Roots) == 0 {
		return fmt.Errorf("no roots to watch: %w", common.ErrInvalidPath)
	}
	w, err := watch.New(m.opts.Roots, watch.Filter(m.filter))
	if err != nil {
		return err
	}
	m.watcher = w
	log.Infof("watching %d root(s)", len(m.opts.Roots))
	return nil
}

// Serve applies watcher events until ctx is done. Each event is committed
// before the next is read.
func (m *Monitor) Serve(ctx context.Context) error {
	if m.watcher == nil {
		return errors.New("monitor: Serve called before Watch")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-m.watcher.Events():
			if !ok {
				return nil
			}
			m.HandleEvent(ctx, ev)
		case err, ok := <-m.watcher.Errors():
			if !ok {
				return nil
			}
			log.Warnf("watch: %v", err)
		}
	}
}

// HandleEvent applies one watcher event to the index. Failures are logged and
// the event is dropped.
func (m *Monitor) HandleEvent(ctx context.Context, ev watch.Event) {
	log.Debugf("event: %s", ev)

	switch ev.Op {
	case watch.Created:
		if ev.IsDir {
			// Files may have landed before the directory was watched.
			m.discover(ctx, ev.Path)
			return
		}
		m.reconcile(ctx, ev.Path)

	case watch.Written, watch.Removed:
		m.reconcile(ctx, ev.Path)

	case watch.Moved:
		outcome, err := m.ix.Move(ctx, ev.Path, ev.Dest)
		if err != nil {
			log.Warnf("move %s -> %s: %v", ev.Path, ev.Dest, err)
			return
		}
		log.Debugf("move %s -> %s: %s", ev.Path, ev.Dest, outcome)
		if ev.IsDir {
			if outcome != index.Moved {
				m.discover(ctx, ev.Dest)
			}
			return
		}
		if outcome == index.Moved {
			// The header may have changed along with the name.
			m.reconcile(ctx, ev.Dest)
		}
	}
}

func (m *Monitor) reconcile(ctx context.Context, path string) {
	outcome, err := m.ix.Reconcile(ctx, path)
	if err != nil {
		log.Warnf("reconcile %s: %v", path, err)
		return
	}
	if outcome != index.Unchanged {
		log.Debugf("reconcile %s: %s", path, outcome)
	}
}

func (m *Monitor) discover(ctx context.Context, dir string) {
	if _, err := m.scanner.Discover(ctx, dir); err != nil {
		log.Warnf("discover %s: %v", dir, err)
	}
}

// Run opens the monitor, runs the configured startup passes, then watches
// until SIGINT, SIGTERM or ctx cancellation.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.Open(); err != nil {
		return err
	}
	defer m.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("monitor started (PID %d), index %s", os.Getpid(), m.opts.IndexPath)
	if err := m.Passes(ctx, m.opts.Check, m.opts.Scan); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if err := m.Watch(); err != nil {
		return err
	}
	err := m.Serve(ctx)
	log.Infof("monitor stopped")
	return err
}

// Close stops the watcher, checkpoints and closes the index and releases the
// lock. Safe to call more than once.
func (m *Monitor) Close() error {
	var errs []error
	if m.watcher != nil {
		errs = append(errs, m.watcher.Close())
		m.watcher = nil
	}
	if m.file != nil {
		errs = append(errs, m.file.Close())
		m.file = nil
	}
	if m.lock != nil {
		errs = append(errs, m.lock.Unlock())
		m.lock = nil
	}
	if m.logFile != nil {
		log.SetOutput(os.Stderr)
		errs = append(errs, m.logFile.Close())
		m.logFile = nil
	}
	return errors.Join(errs...)
}
