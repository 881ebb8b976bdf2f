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
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ptindex/internal/tagcodec"
)

var showCmd = &cobra.Command{
	Use:   "show <file>",
	Short: "Print the tag header of a file",
	Long: `Print the tags stored in a file's header, one key per line.

Examples:
  ptindex show ~/music/track01.flac`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	tags, ok, err := tagcodec.NewHeaderCodec().GetTags(path)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !ok {
		fmt.Fprintf(out, "%s: no tag header\n", path)
		return nil
	}
	if tags.Len() == 0 {
		fmt.Fprintf(out, "%s: empty tag header (indexed as %q)\n", path, tagcodec.Untagged)
		return nil
	}

	key := color.New(color.FgCyan)
	for _, k := range tags.Keys() {
		for _, v := range tags.Values(k) {
			if v == "" {
				key.Fprintln(out, k)
				continue
			}
			key.Fprint(out, k)
			fmt.Fprintf(out, "=%s\n", v)
		}
	}
	return nil
}
