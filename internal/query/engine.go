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

package query

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	log "github.com/sirupsen/logrus"

	"ptindex/internal/cache"
	"ptindex/internal/common"
	"ptindex/internal/storage"
	"ptindex/internal/tagcodec"
	"ptindex/internal/tagset"
	"ptindex/internal/util"
)

// DefaultBatchSize is the number of rows fetched per round trip.
const DefaultBatchSize = 100

// pathCacheSize bounds the directory paths remembered by one engine.
const pathCacheSize = 4096

// Candidate is an indexed file matching a query.
type Candidate struct {
	ID      int64
	Segment string
	Tags    tagset.Set
}

// Engine runs read-only queries against an index.
type Engine struct {
	db        *storage.BunDB
	batchSize int
	dirs      *cache.PathCache
}

// NewEngine returns an engine over db. A batchSize below one uses
// DefaultBatchSize.
func NewEngine(db *storage.BunDB, batchSize int) *Engine {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &Engine{
		db:        db,
		batchSize: batchSize,
		dirs:      cache.NewPathCache(pathCacheSize),
	}
}

// postingsSelect returns the sub-select for files carrying term and its
// argument.
func postingsSelect(term string) (string, any) {
	if IsWildcard(term) {
		return "SELECT file FROM tags WHERE tag GLOB ?", globPattern(term)
	}
	return "SELECT file FROM tags WHERE tag = ?", term
}

// globPattern turns a query term into a GLOB pattern. '%' is the only
// wildcard; GLOB metacharacters in the term match literally. Unlike LIKE,
// GLOB is case sensitive, as tag equality is.
func globPattern(term string) string {
	var sb strings.Builder
	for _, r := range term {
		switch r {
		case '%':
			sb.WriteByte('*')
		case '*', '?', '[':
			sb.WriteByte('[')
			sb.WriteRune(r)
			sb.WriteByte(']')
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// buildFileQuery compiles includes and excludes into one paginated statement.
// The returned args lack the trailing LIMIT and OFFSET values.
func buildFileQuery(includes, excludes []string) (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, len(includes)+len(excludes)+2)

	if len(includes) == 0 {
		sb.WriteString("SELECT file FROM tags")
	}
	for i, term := range includes {
		if i > 0 {
			sb.WriteString(" INTERSECT ")
		}
		sel, arg := postingsSelect(term)
		sb.WriteString(sel)
		args = append(args, arg)
	}
	for _, term := range excludes {
		sb.WriteString(" EXCEPT ")
		sel, arg := postingsSelect(term)
		sb.WriteString(sel)
		args = append(args, arg)
	}

	q := "SELECT DISTINCT file FROM (" + sb.String() + ") ORDER BY file ASC LIMIT ? OFFSET ?"
	return q, args
}

// Query yields every indexed file carrying all includes and none of the
// excludes. Results are fetched lazily in batches; ranging again re-runs the
// query.
func (e *Engine) Query(ctx context.Context, includes, excludes []string) iter.Seq2[Candidate, error] {
	stmt, args := buildFileQuery(includes, excludes)

	return func(yield func(Candidate, error) bool) {
		for offset := 0; ; offset += e.batchSize {
			ids, err := util.RetryWithResult(ctx, func() ([]int64, error) {
				var ids []int64
				pageArgs := append(append([]any{}, args...), e.batchSize, offset)
				err := e.db.NewRaw(stmt, pageArgs...).Scan(ctx, &ids)
				return ids, err
			}, util.QueryRetryOptions(ctx)...)
			if err != nil {
				yield(Candidate{}, fmt.Errorf("query files: %w", err))
				return
			}

			files, err := util.RetryWithResult(ctx, func() ([]storage.FileModel, error) {
				return e.db.GetFilesByID(ctx, ids)
			}, util.QueryRetryOptions(ctx)...)
			if err != nil {
				yield(Candidate{}, fmt.Errorf("fetch files: %w", err))
				return
			}

			for _, f := range files {
				if !f.HasTags() {
					continue
				}
				tags, err := tagcodec.DecodeTags(f.Tags.String)
				if err != nil {
					log.Warnf("query: skipping file %d: %v", f.ID, err)
					continue
				}
				if !yield(Candidate{ID: f.ID, Segment: f.Segment, Tags: tags}, nil) {
					return
				}
			}

			if len(ids) < e.batchSize {
				return
			}
		}
	}
}

// QueryPath returns the absolute path of the node id. Parent directory paths
// are cached for the life of the engine, so callers must not mix QueryPath
// with writes to the same index.
func (e *Engine) QueryPath(ctx context.Context, id int64) (string, error) {
	node, err := util.RetryWithResult(ctx, func() (*storage.FileModel, error) {
		return e.db.GetFile(ctx, id)
	}, util.QueryRetryOptions(ctx)...)
	if err != nil {
		return "", fmt.Errorf("node %d: %w", id, err)
	}
	if !node.Parent.Valid {
		return common.JoinSegments([]string{node.Segment}), nil
	}

	parent := node.Parent.Int64
	segments, ok := e.dirs.Get(parent)
	if !ok {
		segments, err = util.RetryWithResult(ctx, func() ([]string, error) {
			return storage.FileSegmentsWith(e.db, e.db.DB, ctx, parent)
		}, util.QueryRetryOptions(ctx)...)
		if errors.Is(err, common.ErrNotFound) {
			err = fmt.Errorf("node %d: missing parent %d: %w", id, parent, common.ErrCorruptIndex)
		}
		if err != nil {
			return "", err
		}
		e.dirs.Set(parent, segments)
	}
	return common.JoinSegments(append(segments, node.Segment)), nil
}

// PathCacheStats reports how often QueryPath found a parent directory cached
// and how many directories are held.
func (e *Engine) PathCacheStats() (hits, misses, size int) {
	return e.dirs.Stats()
}

// TagMatch selects how QueryTags matches its argument.
type TagMatch int

const (
	// MatchPrefix matches tags starting with the argument.
	MatchPrefix TagMatch = iota
	// MatchAnywhere matches tags containing the argument.
	MatchAnywhere
)

func (m TagMatch) String() string {
	if m == MatchAnywhere {
		return "anywhere"
	}
	return "prefix"
}

// ParseTagMatch parses "prefix" or "anywhere".
func ParseTagMatch(s string) (TagMatch, error) {
	switch strings.ToLower(s) {
	case "prefix":
		return MatchPrefix, nil
	case "anywhere":
		return MatchAnywhere, nil
	default:
		return MatchPrefix, fmt.Errorf("unknown tag match %q (want prefix or anywhere)", s)
	}
}

// QueryTags yields the distinct tags matching arg in ascending order.
func (e *Engine) QueryTags(ctx context.Context, mode TagMatch, arg string) iter.Seq2[string, error] {
	pattern := globPattern(arg + wildcard)
	if mode == MatchAnywhere {
		pattern = "*" + pattern
	}

	return func(yield func(string, error) bool) {
		for offset := 0; ; offset += e.batchSize {
			tags, err := util.RetryWithResult(ctx, func() ([]string, error) {
				return e.db.ListTags(ctx, pattern, e.batchSize, offset)
			}, util.QueryRetryOptions(ctx)...)
			if err != nil {
				yield("", fmt.Errorf("query tags: %w", err))
				return
			}
			for _, tag := range tags {
				if !yield(tag, nil) {
					return
				}
			}
			if len(tags) < e.batchSize {
				return
			}
		}
	}
}
