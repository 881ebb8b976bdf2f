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

package index

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	log "github.com/sirupsen/logrus"

	"ptindex/internal/common"
	"ptindex/internal/storage"
)

// FileFilter reports whether an absolute path should be indexed. Returning
// false for a directory skips everything beneath it.
type FileFilter func(path string, isDir bool) bool

// ScanResult counts what a scanner pass did.
type ScanResult struct {
	Visited int
	Indexed int
	Updated int
	Removed int
	Errors  int
}

func (r *ScanResult) record(o Outcome) {
	switch o {
	case Created:
		r.Indexed++
	case Updated:
		r.Updated++
	case Removed:
		r.Removed++
	}
}

// Scanner runs whole-tree passes: pruning stored entries against the disk and
// discovering files the watcher never saw.
type Scanner struct {
	ix     *Indexer
	db     *storage.BunDB
	filter FileFilter
}

// NewScanner returns a scanner driving ix. A nil filter indexes everything.
func NewScanner(ix *Indexer, filter FileFilter) *Scanner {
	return &Scanner{
		ix:     ix,
		db:     ix.db,
		filter: filter,
	}
}

// pruneFrame is one entry of the explicit traversal stack.
type pruneFrame struct {
	node     storage.FileModel
	segments []string
	expanded bool
}

// Prune walks the stored tree depth first and, in post-order, removes every
// node whose path no longer exists. Indexed files that still exist are
// reconciled so stale tags are refreshed. Each removal is its own transaction.
func (s *Scanner) Prune(ctx context.Context) (*ScanResult, error) {
	result := &ScanResult{}

	roots, err := s.db.ListChildren(ctx, 0)
	if err != nil {
		return result, fmt.Errorf("list roots: %w", err)
	}
	stack := make([]pruneFrame, 0, len(roots))
	for _, r := range roots {
		if !common.IsNativeRoot(r.Segment) {
			// Entries recorded on another platform cannot be checked here.
			log.Debugf("prune: skipping foreign root %q", r.Segment)
			continue
		}
		stack = append(stack, pruneFrame{node: r, segments: []string{r.Segment}})
	}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		top := &stack[len(stack)-1]
		if !top.expanded {
			top.expanded = true
			frame := *top
			children, err := s.db.ListChildren(ctx, frame.node.ID)
			if err != nil {
				return result, fmt.Errorf("list children of %s: %w", common.JoinSegments(frame.segments), err)
			}
			for _, c := range children {
				stack = append(stack, pruneFrame{
					node:     c,
					segments: append(slices.Clip(frame.segments), c.Segment),
				})
			}
			continue
		}

		frame := *top
		stack = stack[:len(stack)-1]
		path := common.JoinSegments(frame.segments)
		result.Visited++

		if _, err := os.Lstat(path); common.IsGone(err) {
			removed, err := s.ix.RemoveNode(ctx, frame.node.ID)
			if err != nil {
				log.Warnf("prune: %s: %v", path, err)
				result.Errors++
				continue
			}
			if removed > 0 {
				log.Debugf("prune: %s no longer exists, removed %d file(s)", path, removed)
			}
			result.Removed += removed
			continue
		}

		if frame.node.HasTags() {
			outcome, err := s.ix.Reconcile(ctx, path)
			if err != nil {
				log.Warnf("prune: %s: %v", path, err)
				result.Errors++
				continue
			}
			result.record(outcome)
		}
	}

	log.Infof("prune: visited %d nodes, removed %d, updated %d, %d errors",
		result.Visited, result.Removed, result.Updated, result.Errors)
	return result, nil
}

// Discover walks each root and reconciles every regular file accepted by the
// filter. A root that cannot be read is an error; anything below it is logged
// and counted.
func (s *Scanner) Discover(ctx context.Context, roots ...string) (*ScanResult, error) {
	result := &ScanResult{}
	for _, root := range roots {
		if err := s.discoverRoot(ctx, root, result); err != nil {
			return result, err
		}
	}
	log.Infof("discover: visited %d files, indexed %d, updated %d, removed %d, %d errors",
		result.Visited, result.Indexed, result.Updated, result.Removed, result.Errors)
	return result, nil
}

func (s *Scanner) discoverRoot(ctx context.Context, root string, result *ScanResult) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("scan root %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("scan root %s: not a directory: %w", root, common.ErrInvalidPath)
	}

	log.Debugf("discover: scanning %s", root)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			log.Warnf("discover: %s: %v", path, err)
			result.Errors++
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if s.filter != nil && path != root && !s.filter(path, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		result.Visited++
		outcome, err := s.ix.Reconcile(ctx, path)
		if err != nil {
			log.Warnf("discover: %s: %v", path, err)
			result.Errors++
			return nil
		}
		result.record(outcome)
		return nil
	})
}
