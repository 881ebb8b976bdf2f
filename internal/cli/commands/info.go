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
	"fmt"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"ptindex/internal/monitor"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show index location and statistics",
	Long: `Show where the index lives, whether a monitor holds it, and how much it
contains.

Examples:
  ptindex info
  ptindex --db /tmp/other.db info`,
	Args: cobra.NoArgs,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	file, err := openIndexForQuery()
	if err != nil {
		return err
	}
	defer file.Close()
	ctx := cmd.Context()

	fmt.Fprintf(out, "Index: %s\n", file.Path())
	if id, err := file.IndexID(ctx); err == nil {
		fmt.Fprintf(out, "Index ID: %s\n", id)
	}
	fmt.Fprintf(out, "Monitor: %s\n", monitorStatus(file.Path()))
	fmt.Fprintf(out, "Config dir: %s\n", monitor.ConfigDir())

	stats, err := file.BunDB().GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read statistics: %w", err)
	}
	fmt.Fprintf(out, "Nodes: %d\n", stats.Nodes)
	fmt.Fprintf(out, "Files: %d\n", stats.Files)
	fmt.Fprintf(out, "Postings: %d\n", stats.Postings)
	fmt.Fprintf(out, "Distinct tags: %d\n", stats.Tags)
	return nil
}

// monitorStatus tests the writer lock without holding it.
func monitorStatus(indexPath string) string {
	lock := flock.New(monitor.LockPath(indexPath))
	locked, err := lock.TryRLock()
	if err != nil {
		return "unknown"
	}
	if !locked {
		return "running"
	}
	lock.Unlock()
	return "not running"
}
