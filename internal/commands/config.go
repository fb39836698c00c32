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

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/szqshan/apiconnect/internal/engine"
	"github.com/szqshan/apiconnect/internal/format"
)

// newConfigCommand creates the config command with subcommands.
func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and manage API configuration",
		Long: `View and manage API configuration.

Subcommands:
  list   - Summarize configured APIs and endpoints
  test   - Check API definitions and connectivity
  reload - Re-read the configuration file`,
	}

	cmd.AddCommand(newConfigListCommand())
	cmd.AddCommand(newConfigTestCommand())
	cmd.AddCommand(newConfigReloadCommand())

	// Default to list when invoked bare.
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runConfigList(cmd)
	}

	return cmd
}

func newConfigListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Summarize configured APIs and endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigList(cmd)
		},
	}
}

func newConfigTestCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "test [API]",
		Short: "Check API definitions and connectivity",
		Long: `Check API definitions and connectivity: resolve every endpoint,
expand secret references, validate base URLs against the security
policy, then GET the base URL and report status and latency.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("name an API to test, or pass --all")
			}
			apiName := ""
			if len(args) > 0 {
				apiName = args[0]
			}
			return runConfigTest(cmd, apiName, all)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Test every configured API")

	return cmd
}

func newConfigReloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Re-read the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigReload(cmd)
		},
	}
}

func runConfigList(cmd *cobra.Command) error {
	a, err := buildApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	out, err := a.engine.ManageConfig(context.Background(), engine.ActionList, "")
	if err != nil {
		return err
	}
	apis := out.([]engine.APISummary)

	w := cmd.OutOrStdout()
	if flagJSON {
		return printJSON(w, apis)
	}

	if len(apis) == 0 {
		fmt.Fprintln(w, "no APIs configured")
		return nil
	}
	for _, api := range apis {
		title := api.Name
		if api.DisplayName != "" {
			title += " (" + api.DisplayName + ")"
		}
		fmt.Fprintf(w, "%s %s\n", format.Header.Render(title), format.Status(api.Enabled, enabledLabel(api.Enabled)))
		if api.Description != "" {
			fmt.Fprintf(w, "  %s\n", format.Muted.Render(api.Description))
		}
		fmt.Fprintf(w, "  %s %s\n", format.Label("auth:"), api.AuthType)
		for _, ep := range api.Endpoints {
			line := fmt.Sprintf("  %-24s %s %s", ep.Name, ep.Method, ep.Path)
			if len(ep.Required) > 0 {
				line += " " + format.Muted.Render("requires "+strings.Join(ep.Required, ", "))
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func runConfigTest(cmd *cobra.Command, apiName string, all bool) error {
	a, err := buildApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	action := engine.ActionTest
	if all {
		action = engine.ActionTestAll
	}
	out, err := a.engine.ManageConfig(context.Background(), action, apiName)
	if err != nil {
		return err
	}

	var results []*engine.TestResult
	switch v := out.(type) {
	case *engine.TestResult:
		results = []*engine.TestResult{v}
	case []*engine.TestResult:
		results = v
	}

	w := cmd.OutOrStdout()
	if flagJSON {
		return printJSON(w, results)
	}

	failed := 0
	for _, result := range results {
		detail := fmt.Sprintf("%d endpoints", result.Endpoints)
		if result.StatusCode > 0 {
			detail += fmt.Sprintf(", HTTP %d in %dms", result.StatusCode, result.LatencyMs)
		}
		if result.OK {
			fmt.Fprintln(w, format.OK(fmt.Sprintf("%s (%s)", result.API, detail)))
			continue
		}
		failed++
		fmt.Fprintln(w, format.Fail(fmt.Sprintf("%s (%s)", result.API, detail)))
		for _, problem := range result.Problems {
			fmt.Fprintf(w, "    %s\n", problem)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d APIs failed the connection test", failed, len(results))
	}
	return nil
}

func runConfigReload(cmd *cobra.Command) error {
	a, err := buildApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	out, err := a.engine.ManageConfig(context.Background(), engine.ActionReload, "")
	if err != nil {
		return err
	}
	result := out.(*engine.ReloadResult)

	w := cmd.OutOrStdout()
	if flagJSON {
		return printJSON(w, result)
	}
	if !result.OK {
		return fmt.Errorf("reload failed: %s", result.Err)
	}
	fmt.Fprintln(w, format.OK(fmt.Sprintf("configuration reloaded (%d APIs)", result.APIs)))
	return nil
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

// printJSON writes indented JSON for --json output.
func printJSON(w io.Writer, v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(encoded))
	return err
}
