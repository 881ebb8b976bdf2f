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

// Package index keeps the path tree and posting index in step with the tag
// headers found on disk.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"slices"

	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"ptindex/internal/common"
	"ptindex/internal/storage"
	"ptindex/internal/tagcodec"
	"ptindex/internal/tagset"
	"ptindex/internal/util"
)

// Outcome describes what an indexer operation changed.
type Outcome int

const (
	Unchanged Outcome = iota
	Created
	Updated
	Removed
	Moved
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	case Moved:
		return "moved"
	default:
		return "unknown"
	}
}

// Indexer applies filesystem observations to the index. It must be the only
// writer of its store.
type Indexer struct {
	file  *storage.IndexFile
	db    *storage.BunDB
	codec tagcodec.Codec
}

// New returns an indexer writing to file and reading headers through codec.
func New(file *storage.IndexFile, codec tagcodec.Codec) *Indexer {
	return &Indexer{
		file:  file,
		db:    file.BunDB(),
		codec: codec,
	}
}

// observation is the on-disk state of one path.
type observation struct {
	tags    tagset.Set
	tagged  bool
	present bool
}

func (ix *Indexer) observe(path string) (observation, error) {
	tags, ok, err := ix.codec.GetTags(path)
	if err != nil {
		return observation{}, fmt.Errorf("read tags %s: %w", path, err)
	}
	obs := observation{tags: tags, tagged: ok, present: true}
	if !ok {
		if _, err := os.Lstat(path); common.IsGone(err) {
			obs.present = false
		}
	}
	return obs, nil
}

// runTx runs fn in a single transaction, retrying when the store is locked.
func (ix *Indexer) runTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return util.Retry(ctx, func() error {
		return ix.file.RunInTx(ctx, fn)
	}, util.DatabaseRetryOptions(ctx)...)
}

// Reconcile brings the stored state of path in line with its tag header on
// disk. Codec failures leave the index untouched and are returned wrapped.
func (ix *Indexer) Reconcile(ctx context.Context, path string) (Outcome, error) {
	segments, err := common.SplitAbsPath(path)
	if err != nil {
		return Unchanged, err
	}
	obs, err := ix.observe(path)
	if err != nil {
		return Unchanged, err
	}

	var outcome Outcome
	err = ix.runTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		o, err := ix.reconcileTx(ctx, tx, segments, obs)
		outcome = o
		return err
	})
	if err != nil {
		return Unchanged, fmt.Errorf("reconcile %s: %w", path, err)
	}
	if outcome != Unchanged {
		log.Debugf("index: %s %s", outcome, path)
	}
	return outcome, nil
}

func (ix *Indexer) reconcileTx(ctx context.Context, tx bun.Tx, segments []string, obs observation) (Outcome, error) {
	node, err := ix.file.ResolvePathTx(ctx, tx, segments)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return Unchanged, err
	}

	switch {
	case node == nil && !obs.tagged:
		return Unchanged, nil

	case node == nil:
		return Created, ix.createTx(ctx, tx, segments, obs.tags)

	case obs.tagged:
		return ix.updateTx(ctx, tx, node, obs.tags)

	case !obs.present:
		if _, err := ix.file.RemoveSubtreeTx(ctx, tx, node); err != nil {
			return Unchanged, err
		}
		return Removed, ix.file.PruneAncestorsTx(ctx, tx, node.Parent.Int64)

	case node.HasTags():
		// The path still exists but no longer carries a header.
		hasChildren, err := ix.db.HasChildrenWith(tx, ctx, node.ID)
		if err != nil {
			return Unchanged, err
		}
		if err := ix.db.DeletePostingsWith(tx, ctx, node.ID); err != nil {
			return Unchanged, err
		}
		if hasChildren {
			// Replaced by a directory that holds indexed files.
			if err := ix.db.UpdateFileTagsWith(tx, ctx, node.ID, sql.NullString{}); err != nil {
				return Unchanged, err
			}
			return Removed, nil
		}
		if err := ix.db.DeleteFileWith(tx, ctx, node.ID); err != nil {
			return Unchanged, err
		}
		return Removed, ix.file.PruneAncestorsTx(ctx, tx, node.Parent.Int64)

	default:
		// Intermediate node for a directory that still exists.
		return Unchanged, nil
	}
}

func (ix *Indexer) createTx(ctx context.Context, tx bun.Tx, segments []string, tags tagset.Set) error {
	parent, err := ix.file.EnsureParentsTx(ctx, tx, segments)
	if err != nil {
		return err
	}
	id, err := ix.db.InsertFileWith(tx, ctx, &storage.FileModel{
		Parent:  storage.ParentRef(parent),
		Segment: segments[len(segments)-1],
		Tags:    storage.TagsValue(tagcodec.EncodeTags(tags)),
	})
	if err != nil {
		return err
	}
	return ix.db.InsertPostingsWith(tx, ctx, id, tagcodec.Postings(tags))
}

func (ix *Indexer) updateTx(ctx context.Context, tx bun.Tx, node *storage.FileModel, tags tagset.Set) (Outcome, error) {
	outcome := Updated
	if node.HasTags() {
		stored, err := tagcodec.DecodeTags(node.Tags.String)
		if err == nil && stored.Equal(tags) {
			return Unchanged, nil
		}
	} else {
		// An intermediate node turned into a tagged file: whatever was
		// stored beneath it cannot exist any more.
		children, err := ix.db.ListChildrenWith(tx, ctx, node.ID)
		if err != nil {
			return Unchanged, err
		}
		for i := range children {
			if _, err := ix.file.RemoveSubtreeTx(ctx, tx, &children[i]); err != nil {
				return Unchanged, err
			}
		}
		outcome = Created
	}

	if err := ix.db.DeletePostingsWith(tx, ctx, node.ID); err != nil {
		return Unchanged, err
	}
	if err := ix.db.UpdateFileTagsWith(tx, ctx, node.ID, storage.TagsValue(tagcodec.EncodeTags(tags))); err != nil {
		return Unchanged, err
	}
	return outcome, ix.db.InsertPostingsWith(tx, ctx, node.ID, tagcodec.Postings(tags))
}

// Move re-parents the stored node for src (and its whole subtree) to dst.
// Missing destination ancestors are created. When src is not indexed the move
// degrades to removing src and reconciling dst, so a file that is still on
// disk is never lost; the returned outcome is then that of the reconcile.
func (ix *Indexer) Move(ctx context.Context, src, dst string) (Outcome, error) {
	srcSeg, err := common.SplitAbsPath(src)
	if err != nil {
		return Unchanged, err
	}
	dstSeg, err := common.SplitAbsPath(dst)
	if err != nil {
		return Unchanged, err
	}
	if slices.Equal(srcSeg, dstSeg) {
		return ix.Reconcile(ctx, dst)
	}
	if len(dstSeg) > len(srcSeg) && slices.Equal(dstSeg[:len(srcSeg)], srcSeg) {
		return Unchanged, fmt.Errorf("move %s into its own subtree %s: %w", src, dst, common.ErrInvalidPath)
	}

	// Read the destination before the transaction; it is only needed when
	// the move falls back.
	obs, obsErr := ix.observe(dst)

	var outcome Outcome
	err = ix.runTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		node, err := ix.file.ResolvePathTx(ctx, tx, srcSeg)
		if errors.Is(err, common.ErrNotFound) {
			if obsErr != nil {
				return obsErr
			}
			o, err := ix.reconcileTx(ctx, tx, dstSeg, obs)
			outcome = o
			return err
		}
		if err != nil {
			return err
		}

		if existing, err := ix.file.ResolvePathTx(ctx, tx, dstSeg); err == nil {
			if _, err := ix.file.RemoveSubtreeTx(ctx, tx, existing); err != nil {
				return err
			}
		} else if !errors.Is(err, common.ErrNotFound) {
			return err
		}

		parent, err := ix.file.EnsureParentsTx(ctx, tx, dstSeg)
		if err != nil {
			return err
		}
		if err := ix.db.ReparentFileWith(tx, ctx, node.ID, parent, dstSeg[len(dstSeg)-1]); err != nil {
			return err
		}
		outcome = Moved
		return ix.file.PruneAncestorsTx(ctx, tx, node.Parent.Int64)
	})
	if err != nil {
		return Unchanged, fmt.Errorf("move %s -> %s: %w", src, dst, err)
	}
	log.Debugf("index: %s %s -> %s", outcome, src, dst)
	return outcome, nil
}

// Remove deletes the stored node for path, its subtree and any ancestors
// left empty, without consulting the disk. It returns the number of indexed
// files removed.
func (ix *Indexer) Remove(ctx context.Context, path string) (int, error) {
	segments, err := common.SplitAbsPath(path)
	if err != nil {
		return 0, err
	}
	var removed int
	err = ix.runTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		node, err := ix.file.ResolvePathTx(ctx, tx, segments)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		n, err := ix.removeTx(ctx, tx, node)
		removed = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("remove %s: %w", path, err)
	}
	return removed, nil
}

// RemoveNode is Remove for a node id. A node that no longer exists is skipped.
func (ix *Indexer) RemoveNode(ctx context.Context, id int64) (int, error) {
	var removed int
	err := ix.runTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		node, err := ix.db.GetFileWith(tx, ctx, id)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		n, err := ix.removeTx(ctx, tx, node)
		removed = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("remove node %d: %w", id, err)
	}
	return removed, nil
}

func (ix *Indexer) removeTx(ctx context.Context, tx bun.Tx, node *storage.FileModel) (int, error) {
	removed, err := ix.file.RemoveSubtreeTx(ctx, tx, node)
	if err != nil {
		return 0, err
	}
	return removed, ix.file.PruneAncestorsTx(ctx, tx, node.Parent.Int64)
}
