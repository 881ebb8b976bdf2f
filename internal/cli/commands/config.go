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
	"strings"

	"github.com/spf13/cobra"

	"ptindex/internal/monitor"
)

var (
	configRoots        []string
	configScanOnStart  string
	configCheckOnStart string
	configLogLevel     string
	configIgnore       []string
	configGitignore    string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change settings",
	Long: `Show or change the settings in <config dir>/settings.yaml.

Settings take effect the next time a command runs.

Examples:
  # Show current configuration
  ptindex config

  # Watch two trees by default
  ptindex config --roots ~/music,~/books

  # Index everything on every monitor start
  ptindex config --scan-on-start on

  # Quieter logs
  ptindex config --logging warn`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().StringSliceVar(&configRoots, "roots", nil, "Default directories for watch and scan")
	configCmd.Flags().StringVar(&configScanOnStart, "scan-on-start", "", "Index every file before watching: on, off")
	configCmd.Flags().StringVar(&configCheckOnStart, "check-on-start", "", "Remove stale entries before watching: on, off")
	configCmd.Flags().StringVar(&configLogLevel, "logging", "", "Log level: trace, debug, info, warn, off")
	configCmd.Flags().StringSliceVar(&configIgnore, "ignore", nil, "Gitignore-style patterns to skip")
	configCmd.Flags().StringVar(&configGitignore, "gitignore", "", "Honor .gitignore files: on, off")
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	s, err := monitor.LoadSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	out := cmd.OutOrStdout()

	flags := cmd.Flags()
	if flags.NFlag() == 0 || (flags.NFlag() == 1 && flags.Changed("db")) {
		fmt.Fprintln(out, "Current configuration:")
		fmt.Fprintf(out, "  Settings file: %s\n", monitor.SettingsPath())
		fmt.Fprintf(out, "  Index: %s\n", indexPath())
		fmt.Fprintf(out, "  Roots: %s\n", strings.Join(s.Roots, ", "))
		fmt.Fprintf(out, "  Check on start: %s\n", onOff(s.CheckOnStart))
		fmt.Fprintf(out, "  Scan on start: %s\n", onOff(s.ScanOnStart))
		fmt.Fprintf(out, "  Log level: %s\n", s.LogLevel)
		fmt.Fprintf(out, "  Gitignore: %s\n", onOff(s.GitignoreEnabled()))
		fmt.Fprintf(out, "  Ignore: %s\n", strings.Join(s.Ignore, ", "))
		fmt.Fprintf(out, "  Batch size: %d\n", s.BatchSize)
		return nil
	}

	if flags.Changed("roots") {
		roots := make([]string, 0, len(configRoots))
		for _, r := range configRoots {
			abs, err := filepath.Abs(r)
			if err != nil {
				return err
			}
			roots = append(roots, abs)
		}
		s.Roots = roots
	}
	if flags.Changed("ignore") {
		s.Ignore = configIgnore
	}
	if configScanOnStart != "" {
		if s.ScanOnStart, err = parseOnOff("scan-on-start", configScanOnStart); err != nil {
			return err
		}
	}
	if configCheckOnStart != "" {
		if s.CheckOnStart, err = parseOnOff("check-on-start", configCheckOnStart); err != nil {
			return err
		}
	}
	if configGitignore != "" {
		on, err := parseOnOff("gitignore", configGitignore)
		if err != nil {
			return err
		}
		s.Gitignore = &on
	}
	if configLogLevel != "" {
		if _, _, err := monitor.ParseLogLevel(configLogLevel); err != nil {
			return err
		}
		s.LogLevel = strings.ToLower(configLogLevel)
	}

	if err := monitor.SaveSettings(s); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	fmt.Fprintf(out, "Settings saved to %s\n", monitor.SettingsPath())
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func parseOnOff(flag, value string) (bool, error) {
	switch strings.ToLower(value) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid value for --%s: %q (use on or off)", flag, value)
	}
}
