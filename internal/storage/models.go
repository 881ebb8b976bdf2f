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
	"database/sql"

	"github.com/uptrace/bun"
)

// Bun ORM models for the index database tables.

// SchemaInfoModel represents the schema_info table
type SchemaInfoModel struct {
	bun.BaseModel `bun:"table:schema_info"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// FileModel is one node of the path tree. Parent is NULL for a root segment
// ("/" or a drive such as "c:"). Tags is NULL for intermediate nodes and holds
// the encoded tag lines for indexed files; an indexed file with no tags has
// the empty string.
type FileModel struct {
	bun.BaseModel `bun:"table:files"`

	ID      int64          `bun:"id,pk,autoincrement"`
	Parent  sql.NullInt64  `bun:"parent"`
	Segment string         `bun:"segment,notnull"`
	Tags    sql.NullString `bun:"tags"`
}

// HasTags reports whether the node is an indexed file.
func (m *FileModel) HasTags() bool {
	return m.Tags.Valid
}

// TagModel is one posting: a tag string attached to a file node.
type TagModel struct {
	bun.BaseModel `bun:"table:tags"`

	Tag  string `bun:"tag,notnull"`
	File int64  `bun:"file,notnull"`
}

// ParentRef builds the parent column value for a child of id. Zero means no
// parent.
func ParentRef(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

// TagsValue wraps an encoded tag blob as a present tags column.
func TagsValue(encoded string) sql.NullString {
	return sql.NullString{String: encoded, Valid: true}
}
