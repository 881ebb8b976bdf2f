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

	"github.com/spf13/cobra"

	"ptindex/internal/monitor"
)

var (
	scanPruneOnly    bool
	scanDiscoverOnly bool
)

var scanCmd = &cobra.Command{
	Use:   "scan [dir...]",
	Short: "Bring the index up to date once",
	Long: `Run the startup passes of the monitor once and exit: remove entries whose
files are gone, then index every tagged file under the roots.

Examples:
  ptindex scan ~/music
  ptindex scan --prune-only`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanPruneOnly, "prune-only", false, "Only remove stale entries")
	scanCmd.Flags().BoolVar(&scanDiscoverOnly, "discover-only", false, "Only index files under the roots")
	scanCmd.MarkFlagsMutuallyExclusive("prune-only", "discover-only")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	opts := monitor.OptionsFromSettings(settings, args)
	opts.IndexPath = indexPath()

	prune, discover := !scanDiscoverOnly, !scanPruneOnly
	if discover && len(opts.Roots) == 0 {
		return fmt.Errorf("no directories to scan: pass them as arguments or set roots with 'ptindex config --roots'")
	}

	m := monitor.New(opts)
	if err := m.Open(); err != nil {
		return err
	}
	defer m.Close()
	return m.Passes(cmd.Context(), prune, discover)
}
