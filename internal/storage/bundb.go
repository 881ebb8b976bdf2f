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

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"ptindex/internal/common"
)

// BunDB wraps a Bun database instance for type-safe queries.
type BunDB struct {
	*bun.DB
}

// NewBunDB wraps an existing *sql.DB with Bun's type-safe query builder.
func NewBunDB(sqlDB *sql.DB) *BunDB {
	bunDB := bun.NewDB(sqlDB, sqlitedialect.New())
	return &BunDB{DB: bunDB}
}

// --- Schema Info ---

// GetSchemaInfo retrieves a schema info value by key.
func (db *BunDB) GetSchemaInfo(ctx context.Context, key string) (string, error) {
	var info SchemaInfoModel
	err := db.NewSelect().
		Model(&info).
		Where("key = ?", key).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return info.Value, nil
}

// SetSchemaInfo sets a schema info value (upserts).
func (db *BunDB) SetSchemaInfo(ctx context.Context, key, value string) error {
	_, err := db.NewInsert().
		Model(&SchemaInfoModel{Key: key, Value: value}).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(ctx)
	return err
}

// --- Path Tree ---

// GetFile retrieves a node by id.
// Returns ErrNotFound if the node does not exist.
func (db *BunDB) GetFile(ctx context.Context, id int64) (*FileModel, error) {
	return db.GetFileWith(db.DB, ctx, id)
}

// GetFileWith is like GetFile but uses the provided bun.IDB (for transaction support).
func (db *BunDB) GetFileWith(idb bun.IDB, ctx context.Context, id int64) (*FileModel, error) {
	var file FileModel
	err := idb.NewSelect().
		Model(&file).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// LookupChildWith finds the child of parent named segment. A zero parent looks
// up a root segment.
func (db *BunDB) LookupChildWith(idb bun.IDB, ctx context.Context, parent int64, segment string) (*FileModel, error) {
	var file FileModel
	err := idb.NewSelect().
		Model(&file).
		Where("parent IS ?", ParentRef(parent)).
		Where("segment = ?", segment).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// InsertFileWith inserts a node and returns its assigned id.
func (db *BunDB) InsertFileWith(idb bun.IDB, ctx context.Context, file *FileModel) (int64, error) {
	// Use RETURNING clause to get the id (libsql doesn't support LastInsertId)
	_, err := idb.NewInsert().
		Model(file).
		Returning("id").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return file.ID, nil
}

// UpdateFileTagsWith replaces the tags column of a node.
func (db *BunDB) UpdateFileTagsWith(idb bun.IDB, ctx context.Context, id int64, tags sql.NullString) error {
	_, err := idb.NewUpdate().
		Model((*FileModel)(nil)).
		Set("tags = ?", tags).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// ReparentFileWith moves a node under a new parent with a new segment.
func (db *BunDB) ReparentFileWith(idb bun.IDB, ctx context.Context, id, parent int64, segment string) error {
	_, err := idb.NewUpdate().
		Model((*FileModel)(nil)).
		Set("parent = ?", ParentRef(parent)).
		Set("segment = ?", segment).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// DeleteFileWith deletes a single node row. Children and postings are the
// caller's responsibility.
func (db *BunDB) DeleteFileWith(idb bun.IDB, ctx context.Context, id int64) error {
	_, err := idb.NewDelete().
		Model((*FileModel)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// ListChildren returns the children of parent ordered by id. A zero parent
// lists the root segments.
func (db *BunDB) ListChildren(ctx context.Context, parent int64) ([]FileModel, error) {
	return db.ListChildrenWith(db.DB, ctx, parent)
}

// ListChildrenWith is like ListChildren but uses the provided bun.IDB (for transaction support).
func (db *BunDB) ListChildrenWith(idb bun.IDB, ctx context.Context, parent int64) ([]FileModel, error) {
	var files []FileModel
	err := idb.NewSelect().
		Model(&files).
		Where("parent IS ?", ParentRef(parent)).
		Order("id ASC").
		Scan(ctx)
	return files, err
}

// HasChildrenWith reports whether any node has id as its parent.
func (db *BunDB) HasChildrenWith(idb bun.IDB, ctx context.Context, id int64) (bool, error) {
	return idb.NewSelect().
		Model((*FileModel)(nil)).
		Where("parent = ?", id).
		Exists(ctx)
}

// GetFilesByID fetches the given nodes in one query. Missing ids are skipped.
func (db *BunDB) GetFilesByID(ctx context.Context, ids []int64) ([]FileModel, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var files []FileModel
	err := db.NewSelect().
		Model(&files).
		Where("id IN (?)", bun.In(ids)).
		Order("id ASC").
		Scan(ctx)
	return files, err
}

// --- Postings ---

// InsertPostingsWith inserts one posting per tag string for file.
func (db *BunDB) InsertPostingsWith(idb bun.IDB, ctx context.Context, file int64, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	postings := make([]TagModel, len(tags))
	for i, tag := range tags {
		postings[i] = TagModel{Tag: tag, File: file}
	}
	_, err := idb.NewInsert().Model(&postings).Exec(ctx)
	return err
}

// DeletePostingsWith deletes every posting of file.
func (db *BunDB) DeletePostingsWith(idb bun.IDB, ctx context.Context, file int64) error {
	_, err := idb.NewDelete().
		Model((*TagModel)(nil)).
		Where("file = ?", file).
		Exec(ctx)
	return err
}

// ListPostings returns the tag strings posted for file in ascending order.
func (db *BunDB) ListPostings(ctx context.Context, file int64) ([]string, error) {
	var tags []string
	err := db.NewSelect().
		Model((*TagModel)(nil)).
		Column("tag").
		Where("file = ?", file).
		Order("tag ASC").
		Scan(ctx, &tags)
	return tags, err
}

// ListTags returns one page of distinct tag strings matching a GLOB pattern,
// in ascending order.
func (db *BunDB) ListTags(ctx context.Context, pattern string, limit, offset int) ([]string, error) {
	var tags []string
	err := db.NewRaw(
		`SELECT DISTINCT tag FROM tags WHERE tag GLOB ? ORDER BY tag ASC LIMIT ? OFFSET ?`,
		pattern, limit, offset,
	).Scan(ctx, &tags)
	return tags, err
}

// --- Stats ---

// IndexStats summarizes the contents of an index.
type IndexStats struct {
	Nodes    int
	Files    int
	Postings int
	Tags     int
}

// GetStats counts nodes, indexed files, postings and distinct tags.
func (db *BunDB) GetStats(ctx context.Context) (*IndexStats, error) {
	var stats IndexStats
	var err error

	if stats.Nodes, err = db.NewSelect().Model((*FileModel)(nil)).Count(ctx); err != nil {
		return nil, err
	}
	if stats.Files, err = db.NewSelect().Model((*FileModel)(nil)).Where("tags IS NOT NULL").Count(ctx); err != nil {
		return nil, err
	}
	if stats.Postings, err = db.NewSelect().Model((*TagModel)(nil)).Count(ctx); err != nil {
		return nil, err
	}
	if err = db.NewRaw(`SELECT COUNT(DISTINCT tag) FROM tags`).Scan(ctx, &stats.Tags); err != nil {
		return nil, err
	}
	return &stats, nil
}
