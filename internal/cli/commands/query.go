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

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ptindex/internal/common"
	"ptindex/internal/query"
	"ptindex/internal/storage"
)

var (
	queryLimit     int
	queryTags      string
	queryBatchSize int
	queryVerbose   bool
)

var queryCmd = &cobra.Command{
	Use:   "query [term...]",
	Short: "Find files or tags in the index",
	Long: `Find indexed files by tag, or list tags.

Terms:
  tag, key=value     files carrying the tag
  key=%, %text%      '%' matches any text; other characters match exactly
  ^term              files not carrying the term
  key>=v key>v       files whose smallest value of key compares, in natural
  key<=v key<v       order, to v
  col:key            print the values of key next to each path
  sort+:key          sort by key ascending (sort-: descending, sort?: random)

With --tags, the single argument is matched against tag names instead.

Examples:
  ptindex query seven red ^date=99
  ptindex query 'date>=2000' sort-:date col:artist
  ptindex query --tags prefix date=`,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryLimit, "limit", "n", 1000, "Maximum number of results")
	queryCmd.Flags().StringVarP(&queryTags, "tags", "t", "", "Query tags instead of files: prefix or anywhere")
	queryCmd.Flags().IntVar(&queryBatchSize, "batch-size", 0, "Rows fetched per round trip (default: batch_size setting)")
	queryCmd.Flags().BoolVarP(&queryVerbose, "verbose", "v", false, "Log query statistics to stderr")
	rootCmd.AddCommand(queryCmd)
}

// openIndexForQuery opens the index in query mode.
func openIndexForQuery() (*storage.IndexFile, error) {
	path := indexPath()
	file, err := storage.OpenWithContext(path, storage.DBContextQuery)
	if errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("no index at %s: run 'ptindex scan' or 'ptindex watch' first", path)
	}
	return file, err
}

func runQuery(cmd *cobra.Command, args []string) error {
	if queryLimit < 1 {
		return fmt.Errorf("--limit must be at least 1")
	}
	if queryVerbose {
		log.SetLevel(log.DebugLevel)
	}
	batchSize := queryBatchSize
	if batchSize <= 0 {
		batchSize = settings.BatchSize
	}

	file, err := openIndexForQuery()
	if err != nil {
		return err
	}
	defer file.Close()
	engine := query.NewEngine(file.BunDB(), batchSize)

	var count int
	if queryTags != "" {
		mode, err := query.ParseTagMatch(queryTags)
		if err != nil {
			return err
		}
		if len(args) != 1 {
			return fmt.Errorf("when querying tags you may only specify one query argument")
		}
		count, err = printTags(cmd.Context(), cmd.OutOrStdout(), engine, mode, args[0], queryLimit)
		if err != nil {
			return err
		}
	} else {
		count, err = printFiles(cmd.Context(), cmd.OutOrStdout(), engine, query.Parse(args), queryLimit)
		if err != nil {
			return err
		}
		hits, misses, size := engine.PathCacheStats()
		log.Debugf("query: %d results, path cache %d hits, %d misses, %d dirs", count, hits, misses, size)
	}

	if count == queryLimit {
		fmt.Fprintf(cmd.ErrOrStderr(), "Stopped at %d results.\n", queryLimit)
	}
	return nil
}

func printTags(ctx context.Context, w io.Writer, engine *query.Engine, mode query.TagMatch, arg string, limit int) (int, error) {
	count := 0
	for tag, err := range engine.QueryTags(ctx, mode, arg) {
		if err != nil {
			return count, err
		}
		fmt.Fprintln(w, tag)
		count++
		if count == limit {
			break
		}
	}
	return count, nil
}

func printFiles(ctx context.Context, w io.Writer, engine *query.Engine, q query.Query, limit int) (int, error) {
	candidates := query.Filter(q.Filters, engine.Query(ctx, q.Includes, q.Excludes))

	var rows []query.Candidate
	for c, err := range candidates {
		if err != nil {
			return 0, err
		}
		rows = append(rows, c)
		// Without a sort order the first matches are as good as any.
		if len(q.Sort) == 0 && len(rows) == limit {
			break
		}
	}
	rows = query.Sort(q.Sort, rows)
	if len(rows) > limit {
		rows = rows[:limit]
	}

	if len(q.Columns) > 0 {
		header := color.New(color.FgCyan, color.Bold)
		header.Fprintln(w, strings.Join(append(append([]string{}, q.Columns...), "path"), "\t"))
	}
	for _, row := range rows {
		path, err := engine.QueryPath(ctx, row.ID)
		if err != nil {
			return 0, err
		}
		if len(q.Columns) == 0 {
			fmt.Fprintln(w, path)
			continue
		}
		fmt.Fprintln(w, strings.Join(append(query.Columns(row, q.Columns), path), "\t"))
	}
	return len(rows), nil
}
