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

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	_ "github.com/tursodatabase/go-libsql"
	"github.com/uptrace/bun"

	"ptindex/internal/common"
)

// maxDepth bounds parent walks so a corrupted parent cycle cannot loop forever.
const maxDepth = 4096

// IndexFile represents a SQLite-backed ptindex store
type IndexFile struct {
	path  string
	ctx   DBContext
	db    *sql.DB
	bunDB *BunDB
}

// execPragma runs a PRAGMA statement using Query (not Exec) because libsql
// returns rows for PRAGMA statements. The result rows are drained and closed.
func execPragma(db *sql.DB, pragma string) error {
	rows, err := db.Query(pragma)
	if err != nil {
		return err
	}
	rows.Close()
	return nil
}

// applyPragmas sets essential PRAGMAs after opening a libsql connection.
// libsql ignores DSN-based _pragma=value parameters, so all PRAGMAs must be
// set explicitly via SQL statements after the connection is opened.
func applyPragmas(db *sql.DB, ctx DBContext) error {
	// Busy timeout first so journal_mode=WAL waits for locks instead of failing.
	busyTimeout := GetBusyTimeout(ctx)
	if err := execPragma(db, fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout)); err != nil {
		return fmt.Errorf("failed to set busy_timeout: %w", err)
	}

	if err := execPragma(db, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}

	if err := execPragma(db, "PRAGMA synchronous=NORMAL"); err != nil {
		return fmt.Errorf("failed to set synchronous=NORMAL: %w", err)
	}

	if err := execPragma(db, "PRAGMA cache_size = -8000"); err != nil {
		return fmt.Errorf("failed to set cache_size: %w", err)
	}

	return nil
}

// Create creates a new index file with default context
func Create(path string) (*IndexFile, error) {
	return CreateWithContext(path, DBContextDefault)
}

// CreateWithContext creates a new index file with the specified context.
func CreateWithContext(path string, ctx DBContext) (*IndexFile, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("file already exists: %s: %w", path, common.ErrExists)
	}

	db, err := sql.Open("libsql", BuildDSN(path, ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	if err := applyPragmas(db, ctx); err != nil {
		db.Close()
		os.Remove(path)
		return nil, err
	}

	if err := execStatements(db, indexSchema); err != nil {
		db.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if err := execStatements(db, initIndexFile, SchemaVersion, uuid.NewString()); err != nil {
		db.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to initialize schema info: %w", err)
	}

	return &IndexFile{
		path:  path,
		ctx:   ctx,
		db:    db,
		bunDB: NewBunDB(db),
	}, nil
}

// Open opens an existing index file with default context
func Open(path string) (*IndexFile, error) {
	return OpenWithContext(path, DBContextDefault)
}

// OpenWithContext opens an existing index file with the specified context.
func OpenWithContext(path string, ctx DBContext) (*IndexFile, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("file not found: %s: %w", path, common.ErrNotFound)
	}

	db, err := sql.Open("libsql", BuildDSN(path, ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := applyPragmas(db, ctx); err != nil {
		db.Close()
		return nil, err
	}

	bunDB := NewBunDB(db)

	fileType, err := bunDB.GetSchemaInfo(context.Background(), "type")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read schema info: %w", err)
	}
	if fileType != IndexFileType {
		db.Close()
		return nil, fmt.Errorf("not an index file (type=%s)", fileType)
	}

	return &IndexFile{
		path:  path,
		ctx:   ctx,
		db:    db,
		bunDB: bunDB,
	}, nil
}

// OpenOrCreate opens the index at path, creating it and its directory when
// missing.
func OpenOrCreate(path string, ctx DBContext) (*IndexFile, error) {
	if _, err := os.Stat(path); err == nil {
		return OpenWithContext(path, ctx)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	log.Infof("initializing index at %s", path)
	return CreateWithContext(path, ctx)
}

// Close closes the database connection. A writer also performs a TRUNCATE
// checkpoint to merge WAL data into the main database and removes the -wal
// and -shm files; a query session leaves them to the writer.
func (f *IndexFile) Close() error {
	if f.db == nil {
		return nil
	}
	if f.ctx == DBContextQuery {
		err := f.db.Close()
		f.db = nil
		return err
	}

	// PRAGMA wal_checkpoint returns rows, so we must use Query() not Exec()
	rows, err := f.db.Query("PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		log.Warnf("WAL checkpoint failed: %v", err)
	} else {
		rows.Close()
	}

	if err := f.db.Close(); err != nil {
		return err
	}
	f.db = nil

	// A reader in another process may still hold the WAL open; removal is best effort.
	os.Remove(f.path + "-wal")
	os.Remove(f.path + "-shm")

	return nil
}

// Path returns the file path
func (f *IndexFile) Path() string {
	return f.path
}

// DB returns the underlying database handle
func (f *IndexFile) DB() *sql.DB {
	return f.db
}

// BunDB returns the Bun query builder over the store
func (f *IndexFile) BunDB() *BunDB {
	return f.bunDB
}

// IndexID returns the identifier assigned when the store was created.
func (f *IndexFile) IndexID(ctx context.Context) (string, error) {
	return f.bunDB.GetSchemaInfo(ctx, "index_id")
}

// --- Transaction-aware operations ---

// RunInTx wraps the given function in a single SQLite transaction.
// All tx-aware methods called within fn share the same transaction.
func (f *IndexFile) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return f.bunDB.RunInTx(ctx, nil, fn)
}

// ResolvePathTx walks segments from the root and returns the node they name.
// Returns ErrNotFound if any segment is missing.
func (f *IndexFile) ResolvePathTx(ctx context.Context, tx bun.Tx, segments []string) (*FileModel, error) {
	if len(segments) == 0 {
		return nil, common.ErrNotFound
	}
	var node *FileModel
	var parent int64
	for _, seg := range segments {
		child, err := f.bunDB.LookupChildWith(tx, ctx, parent, seg)
		if err != nil {
			return nil, err
		}
		node = child
		parent = child.ID
	}
	return node, nil
}

// ResolveParentTx returns the id of the node that would be the parent of the
// last segment, or ErrNotFound if any ancestor is missing.
func (f *IndexFile) ResolveParentTx(ctx context.Context, tx bun.Tx, segments []string) (int64, error) {
	if len(segments) < 2 {
		return 0, nil
	}
	parent, err := f.ResolvePathTx(ctx, tx, segments[:len(segments)-1])
	if err != nil {
		return 0, err
	}
	return parent.ID, nil
}

// EnsureParentsTx creates any missing ancestors of the last segment as
// untagged intermediate nodes and returns the id of the direct parent.
func (f *IndexFile) EnsureParentsTx(ctx context.Context, tx bun.Tx, segments []string) (int64, error) {
	var parent int64
	for _, seg := range segments[:len(segments)-1] {
		child, err := f.bunDB.LookupChildWith(tx, ctx, parent, seg)
		if errors.Is(err, common.ErrNotFound) {
			id, err := f.bunDB.InsertFileWith(tx, ctx, &FileModel{
				Parent:  ParentRef(parent),
				Segment: seg,
			})
			if err != nil {
				return 0, err
			}
			parent = id
			continue
		}
		if err != nil {
			return 0, err
		}
		parent = child.ID
	}
	return parent, nil
}

// RemoveSubtreeTx deletes a node, all of its descendants and their postings.
// It returns the number of indexed files removed.
func (f *IndexFile) RemoveSubtreeTx(ctx context.Context, tx bun.Tx, node *FileModel) (int, error) {
	removed := 0
	stack := []FileModel{*node}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := f.bunDB.ListChildrenWith(tx, ctx, cur.ID)
		if err != nil {
			return removed, err
		}
		stack = append(stack, children...)

		if cur.HasTags() {
			if err := f.bunDB.DeletePostingsWith(tx, ctx, cur.ID); err != nil {
				return removed, err
			}
			removed++
		}
		if err := f.bunDB.DeleteFileWith(tx, ctx, cur.ID); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// PruneAncestorsTx deletes id and then each of its ancestors in turn while the
// node has no tags and no children. It stops at the first node that is still
// needed. A zero id is a no-op.
func (f *IndexFile) PruneAncestorsTx(ctx context.Context, tx bun.Tx, id int64) error {
	for depth := 0; id != 0; depth++ {
		if depth > maxDepth {
			return fmt.Errorf("node %d: parent chain too deep: %w", id, common.ErrCorruptIndex)
		}
		node, err := f.bunDB.GetFileWith(tx, ctx, id)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if node.HasTags() {
			return nil
		}
		hasChildren, err := f.bunDB.HasChildrenWith(tx, ctx, id)
		if err != nil {
			return err
		}
		if hasChildren {
			return nil
		}
		if err := f.bunDB.DeleteFileWith(tx, ctx, id); err != nil {
			return err
		}
		id = node.Parent.Int64
	}
	return nil
}

// FilePath rebuilds the absolute path of a node from its parent chain.
func (f *IndexFile) FilePath(ctx context.Context, id int64) (string, error) {
	return FilePathWith(f.bunDB, f.bunDB.DB, ctx, id)
}

// FilePathWith rebuilds the absolute path of node id by walking parents.
// Returns ErrNotFound if id itself is missing and ErrCorruptIndex if an
// ancestor is missing.
func FilePathWith(db *BunDB, idb bun.IDB, ctx context.Context, id int64) (string, error) {
	segments, err := FileSegmentsWith(db, idb, ctx, id)
	if err != nil {
		return "", err
	}
	return common.JoinSegments(segments), nil
}

// FileSegmentsWith returns the path segments of node id, root first, with the
// same errors as FilePathWith.
func FileSegmentsWith(db *BunDB, idb bun.IDB, ctx context.Context, id int64) ([]string, error) {
	var segments []string
	cur := id
	for depth := 0; ; depth++ {
		if depth > maxDepth {
			return nil, fmt.Errorf("node %d: parent chain too deep: %w", id, common.ErrCorruptIndex)
		}
		node, err := db.GetFileWith(idb, ctx, cur)
		if errors.Is(err, common.ErrNotFound) && cur != id {
			return nil, fmt.Errorf("node %d: missing ancestor %d: %w", id, cur, common.ErrCorruptIndex)
		}
		if err != nil {
			return nil, err
		}
		segments = append(segments, node.Segment)
		if !node.Parent.Valid {
			break
		}
		cur = node.Parent.Int64
	}
	slices.Reverse(segments)
	return segments, nil
}
