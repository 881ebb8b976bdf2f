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

// Package watch turns fsnotify notifications for a set of directory trees
// into file events, pairing renames inside the watched trees into moves.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Op is the kind of change an Event reports.
type Op int

const (
	// Created means a file or directory appeared at Path.
	Created Op = iota
	// Written means the content of Path changed.
	Written
	// Removed means Path is gone, or was moved out of the watched trees.
	Removed
	// Moved means Path was renamed to Dest.
	Moved
)

func (op Op) String() string {
	switch op {
	case Created:
		return "created"
	case Written:
		return "written"
	case Removed:
		return "removed"
	case Moved:
		return "moved"
	default:
		return "unknown"
	}
}

// Event is one change below a watched root.
type Event struct {
	Op        Op
	Path      string
	Dest      string // set for Moved
	IsDir     bool
	Timestamp time.Time
}

func (e Event) String() string {
	if e.Op == Moved {
		return fmt.Sprintf("%s %s -> %s", e.Op, e.Path, e.Dest)
	}
	return fmt.Sprintf("%s %s", e.Op, e.Path)
}

// Filter reports whether a path should be watched. Returning false for a
// directory skips its whole subtree.
type Filter func(path string, isDir bool) bool

const (
	// DefaultDebounceDelay coalesces rapid writes to one file.
	DefaultDebounceDelay = 100 * time.Millisecond
	// DefaultRenameWindow is how long a rename waits for its matching create
	// before it is reported as a removal.
	DefaultRenameWindow = 50 * time.Millisecond

	eventBuffer = 256
	errorBuffer = 16
)

// pendingRename is the source half of a rename waiting for its create.
type pendingRename struct {
	path  string
	isDir bool
	timer *time.Timer
}

// Watcher watches directory trees recursively.
type Watcher struct {
	watcher *fsnotify.Watcher
	events  chan Event
	errors  chan error
	done    chan struct{}
	roots   []string
	filter  Filter

	mu            sync.Mutex
	dirs          map[string]struct{}
	debounceDelay time.Duration
	debounceMap   map[string]*time.Timer
	renameWindow  time.Duration
	pending       *pendingRename
	lastMoveSrc   string
	closed        bool
	wg            sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounceDelay sets the write coalescing delay.
func WithDebounceDelay(d time.Duration) Option {
	return func(w *Watcher) { w.debounceDelay = d }
}

// WithRenameWindow sets how long a rename waits for its create.
func WithRenameWindow(d time.Duration) Option {
	return func(w *Watcher) { w.renameWindow = d }
}

// New starts watching roots. Every root must be an existing directory. A nil
// filter watches everything.
func New(roots []string, filter Filter, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:       fsw,
		events:        make(chan Event, eventBuffer),
		errors:        make(chan error, errorBuffer),
		done:          make(chan struct{}),
		filter:        filter,
		dirs:          make(map[string]struct{}),
		debounceDelay: DefaultDebounceDelay,
		debounceMap:   make(map[string]*time.Timer),
		renameWindow:  DefaultRenameWindow,
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			fsw.Close()
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch root: %w", err)
		}
		if !info.IsDir() {
			fsw.Close()
			return nil, fmt.Errorf("watch root %s: not a directory", abs)
		}
		if err := w.addRecursive(abs); err != nil {
			fsw.Close()
			return nil, err
		}
		w.roots = append(w.roots, abs)
	}

	w.wg.Add(1)
	go w.processEvents()
	return w, nil
}

// Roots returns the absolute watched roots.
func (w *Watcher) Roots() []string {
	return w.roots
}

// Events returns the channel of file events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watch errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

func (w *Watcher) accept(path string, isDir bool) bool {
	return w.filter == nil || w.filter(path, isDir)
}

// addRecursive watches dir and every accepted directory below it.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Vanished or unreadable subtrees are skipped.
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && !w.accept(path, true) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		w.mu.Lock()
		w.dirs[path] = struct{}{}
		w.mu.Unlock()
		log.Debugf("watch: added %s", path)
		return nil
	})
}

// forgetDirs drops dir and everything below it from the watch list.
func (w *Watcher) forgetDirs(dir string) {
	w.mu.Lock()
	var gone []string
	for d := range w.dirs {
		if d == dir || strings.HasPrefix(d, dir+string(filepath.Separator)) {
			gone = append(gone, d)
			delete(w.dirs, d)
		}
	}
	w.mu.Unlock()
	for _, d := range gone {
		// The kernel may already have dropped the watch.
		_ = w.watcher.Remove(d)
	}
}

func (w *Watcher) isWatchedDir(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.dirs[path]
	return ok
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.sendError(err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name
	log.Debugf("watch: %s", event)

	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Lstat(path)
		isDir := err == nil && info.IsDir()
		if !w.accept(path, isDir) {
			w.flushPending()
			return
		}

		if src, srcIsDir, ok := w.takePending(); ok {
			if srcIsDir {
				w.forgetDirs(src)
			}
			if isDir {
				w.addDir(path)
			}
			w.setLastMoveSrc(src)
			w.send(Event{Op: Moved, Path: src, Dest: path, IsDir: isDir})
			return
		}
		if isDir {
			w.addDir(path)
		}
		w.send(Event{Op: Created, Path: path, IsDir: isDir})

	case event.Has(fsnotify.Rename):
		if w.takeLastMoveSrc(path) {
			// Second notification for a directory that already moved.
			return
		}
		isDir := w.isWatchedDir(path)
		if !w.accept(path, isDir) {
			return
		}
		w.flushPending()
		w.setPending(path, isDir)

	case event.Has(fsnotify.Remove):
		isDir := w.isWatchedDir(path)
		if !w.accept(path, isDir) {
			return
		}
		w.flushPending()
		if isDir {
			w.forgetDirs(path)
		}
		w.send(Event{Op: Removed, Path: path, IsDir: isDir})

	case event.Has(fsnotify.Write):
		if !w.accept(path, false) {
			return
		}
		w.flushPending()
		w.debounce(path)
	}
}

func (w *Watcher) addDir(path string) {
	if err := w.addRecursive(path); err != nil {
		w.sendError(fmt.Errorf("watch %s: %w", path, err))
	}
}

func (w *Watcher) setPending(path string, isDir bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	p := &pendingRename{path: path, isDir: isDir}
	p.timer = time.AfterFunc(w.renameWindow, func() {
		w.mu.Lock()
		if w.pending != p {
			w.mu.Unlock()
			return
		}
		w.pending = nil
		w.mu.Unlock()
		w.emitRemoved(p)
	})
	w.pending = p
}

// takePending claims the waiting rename, if any.
func (w *Watcher) takePending() (string, bool, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p := w.pending
	if p == nil {
		return "", false, false
	}
	p.timer.Stop()
	w.pending = nil
	return p.path, p.isDir, true
}

// flushPending reports a waiting rename as a removal so events stay ordered.
func (w *Watcher) flushPending() {
	w.mu.Lock()
	p := w.pending
	if p != nil {
		p.timer.Stop()
		w.pending = nil
	}
	w.lastMoveSrc = ""
	w.mu.Unlock()
	if p != nil {
		w.emitRemoved(p)
	}
}

func (w *Watcher) emitRemoved(p *pendingRename) {
	if p.isDir {
		w.forgetDirs(p.path)
	}
	w.send(Event{Op: Removed, Path: p.path, IsDir: p.isDir})
}

func (w *Watcher) setLastMoveSrc(path string) {
	w.mu.Lock()
	w.lastMoveSrc = path
	w.mu.Unlock()
}

func (w *Watcher) takeLastMoveSrc(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastMoveSrc != "" && w.lastMoveSrc == path {
		w.lastMoveSrc = ""
		return true
	}
	return false
}

// debounce coalesces rapid writes for the same file.
func (w *Watcher) debounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if timer, ok := w.debounceMap[path]; ok {
		timer.Stop()
	}
	w.debounceMap[path] = time.AfterFunc(w.debounceDelay, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		w.mu.Unlock()
		w.send(Event{Op: Written, Path: path})
	})
}

// send delivers an event, blocking until it is taken or the watcher closes.
func (w *Watcher) send(e Event) {
	e.Timestamp = time.Now()
	select {
	case w.events <- e:
	case <-w.done:
	}
}

func (w *Watcher) sendError(err error) {
	select {
	case w.errors <- err:
	case <-w.done:
	default:
		log.Warnf("watch: dropping error: %v", err)
	}
}

// Close stops the watcher. Pending writes and renames are discarded.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, timer := range w.debounceMap {
		timer.Stop()
	}
	w.debounceMap = nil
	if w.pending != nil {
		w.pending.timer.Stop()
		w.pending = nil
	}
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
