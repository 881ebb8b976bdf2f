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
	"os"
	"path/filepath"
	"slices"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	log "github.com/sirupsen/logrus"

	"ptindex/internal/index"
	"ptindex/internal/tagcodec"
)

// FilterOptions configures BuildFileFilter.
type FilterOptions struct {
	Roots     []string // absolute roots; .gitignore files are collected below each
	Gitignore bool
	Ignore    []string // gitignore-style patterns applied under every root
	Exclude   []string // absolute paths always rejected, e.g. the index files
}

// BuildFileFilter creates a FileFilter that rejects, in order:
//  1. temporary files written while a tag header is rewritten
//  2. the exclude list (exact absolute paths)
//  3. the ignore patterns
//  4. .gitignore rules of the enclosing root
func BuildFileFilter(opts FilterOptions) index.FileFilter {
	patterns := ignore.CompileIgnoreLines(opts.Ignore...)

	roots := make([]rootMatcher, 0, len(opts.Roots))
	for _, root := range opts.Roots {
		rm := rootMatcher{dir: filepath.Clean(root)}
		if opts.Gitignore {
			m, err := newGitignoreMatcher(rm.dir)
			if err != nil {
				log.Warnf("filter: failed to build gitignore matcher for %s: %v", root, err)
			}
			rm.gitignore = m
		}
		roots = append(roots, rm)
	}
	// Longest root first so nested roots win.
	slices.SortFunc(roots, func(a, b rootMatcher) int { return len(b.dir) - len(a.dir) })

	exclude := make(map[string]struct{}, len(opts.Exclude))
	for _, p := range opts.Exclude {
		if p == "" {
			continue
		}
		exclude[filepath.Clean(p)] = struct{}{}
	}

	return func(path string, isDir bool) bool {
		path = filepath.Clean(path)
		if !isDir && tagcodec.IsTempFile(path) {
			return false
		}
		if _, ok := exclude[path]; ok {
			return false
		}

		relPath := filepath.Base(path)
		var matcher *gitignoreMatcher
		for _, rm := range roots {
			if rel, ok := relativeTo(rm.dir, path); ok {
				relPath, matcher = rel, rm.gitignore
				break
			}
		}
		if relPath == "." {
			return true
		}

		checkPath := filepath.ToSlash(relPath)
		if isDir {
			checkPath += "/"
		}
		if patterns.MatchesPath(checkPath) {
			return false
		}
		return !matcher.isIgnored(filepath.ToSlash(relPath), isDir)
	}
}

type rootMatcher struct {
	dir       string
	gitignore *gitignoreMatcher
}

// relativeTo returns path relative to root when path lies inside it.
func relativeTo(root, path string) (string, bool) {
	if path == root {
		return ".", true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	return path[len(prefix):], true
}

// gitignoreMatcher collects .gitignore rules from a tree
type gitignoreMatcher struct {
	matchers []scopedMatcher
}

type scopedMatcher struct {
	dirPrefix string
	ignore    *ignore.GitIgnore
}

func newGitignoreMatcher(rootDir string) (*gitignoreMatcher, error) {
	m := &gitignoreMatcher{}

	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if filepath.Base(path) == ".git" && path != rootDir {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Base(path) != ".gitignore" {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		relDir, relErr := filepath.Rel(rootDir, filepath.Dir(path))
		if relErr != nil {
			return nil
		}
		if relDir == "." {
			relDir = ""
		}

		m.matchers = append(m.matchers, scopedMatcher{
			dirPrefix: filepath.ToSlash(relDir),
			ignore:    ignore.CompileIgnoreLines(strings.Split(string(data), "\n")...),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *gitignoreMatcher) isIgnored(relPath string, isDir bool) bool {
	if m == nil || len(m.matchers) == 0 {
		return false
	}

	checkPath := relPath
	if isDir {
		checkPath = relPath + "/"
	}

	for _, sm := range m.matchers {
		var pathToCheck string
		if sm.dirPrefix == "" {
			pathToCheck = checkPath
		} else {
			prefix := sm.dirPrefix + "/"
			if !strings.HasPrefix(relPath, prefix) {
				continue
			}
			pathToCheck = strings.TrimPrefix(checkPath, prefix)
		}

		if sm.ignore.MatchesPath(pathToCheck) {
			return true
		}
	}
	return false
}
