// Copyright 2025 Shan
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

// Package commands implements the apiconnect CLI.
package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Version information, injected via SetVersion at startup.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Persistent flag values shared by all commands.
var (
	flagConfig    string
	flagDB        string
	flagLogLevel  string
	flagLogFormat string
	flagJSON      bool
)

// SetVersion records build-time version information.
func SetVersion(v, c, d string) {
	version, commit, buildDate = v, c, d
}

// NewRootCommand creates the root command with all subcommands.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apiconnect",
		Short: "Declarative REST API invocation and transformation",
		Long: `apiconnect invokes REST APIs declared in YAML configuration, applies
declarative transform pipelines to their responses, and collects results
into storage sessions.

It runs either as a CLI (fetch, config, sessions) or as an MCP stdio
server (serve) exposing the same operations as tools.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	// Accept log_level as well as log-level.
	flags.SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	flags.StringVar(&flagConfig, "config", "", "Path to API configuration file or directory (default: $APICONNECT_CONFIG)")
	flags.StringVar(&flagDB, "db", "", "Path to session database (default: $APICONNECT_DB)")
	flags.StringVar(&flagLogLevel, "log-level", "", "Logging verbosity (debug, info, warn, error)")
	flags.StringVar(&flagLogFormat, "log-format", "", "Log output format (json, text)")
	flags.BoolVar(&flagJSON, "json", false, "Machine-readable JSON output")

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newFetchCommand())
	cmd.AddCommand(newConfigCommand())
	cmd.AddCommand(newSessionsCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// newVersionCommand creates the version command.
func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagJSON {
				fmt.Fprintf(cmd.OutOrStdout(), "{\"version\":%q,\"commit\":%q,\"build_date\":%q}\n", version, commit, buildDate)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "apiconnect %s (commit %s, built %s)\n", version, commit, buildDate)
			return nil
		},
	}
}
