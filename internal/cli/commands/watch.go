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
	"github.com/spf13/cobra"

	"ptindex/internal/monitor"
)

var (
	watchCheck   bool
	watchScan    bool
	watchVerbose bool
	watchLogFile string
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir...]",
	Short: "Keep the index in step with directory trees",
	Long: `Watch directory trees and update the index as tagged files are created,
changed, moved and removed.

Directories default to the roots in settings.yaml. The monitor holds an
exclusive lock on the index while it runs; stop it with Ctrl-C.

Examples:
  # Watch two trees
  ptindex watch ~/music ~/books

  # Drop stale entries and index everything once before watching
  ptindex watch --check --scan ~/music`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVarP(&watchCheck, "check", "c", false, "Remove index entries whose files are gone before watching")
	watchCmd.Flags().BoolVarP(&watchScan, "scan", "s", false, "Index every file under the roots before watching")
	watchCmd.Flags().BoolVarP(&watchVerbose, "verbose", "v", false, "Log every path handled")
	watchCmd.Flags().StringVar(&watchLogFile, "log-file", "", "Write logs to this file instead of stderr")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	opts := monitor.OptionsFromSettings(settings, args)
	opts.IndexPath = indexPath()
	opts.Check = opts.Check || watchCheck
	opts.Scan = opts.Scan || watchScan
	opts.LogFile = watchLogFile
	if watchVerbose {
		opts.LogLevel = "debug"
	}
	return monitor.New(opts).Run(cmd.Context())
}
