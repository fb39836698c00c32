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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/szqshan/apiconnect/internal/format"
	"github.com/szqshan/apiconnect/internal/storage"
)

// newSessionsCommand creates the sessions command with subcommands.
func newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage storage sessions",
		Long: `Manage storage sessions that collect results across fetch calls.

Subcommands:
  list   - List sessions and record counts
  create - Create a session
  close  - Close a session (records stay readable)
  show   - Print a session's stored records`,
	}

	cmd.AddCommand(newSessionsListCommand())
	cmd.AddCommand(newSessionsCreateCommand())
	cmd.AddCommand(newSessionsCloseCommand())
	cmd.AddCommand(newSessionsShowCommand())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runSessionsList(cmd, false)
	}

	return cmd
}

func newSessionsListCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List storage sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd, all)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include closed sessions")

	return cmd
}

func newSessionsCreateCommand() *cobra.Command {
	var spec storage.NewSession

	cmd := &cobra.Command{
		Use:   "create [NAME]",
		Short: "Create a storage session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				spec.Name = args[0]
			}
			return runSessionsCreate(cmd, spec)
		},
	}

	cmd.Flags().StringVar(&spec.ID, "id", "", "Explicit session id (default: generated UUID)")
	cmd.Flags().StringVar(&spec.API, "api", "", "API name this session collects data for")
	cmd.Flags().StringVar(&spec.Endpoint, "endpoint", "", "Endpoint name within the API")
	cmd.Flags().StringVarP(&spec.Description, "description", "d", "", "What this session collects")

	return cmd
}

func newSessionsCloseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "close SESSION_ID",
		Short: "Close a storage session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsClose(cmd, args[0])
		},
	}
}

func newSessionsShowCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "show SESSION_ID",
		Short: "Print a session's stored records as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsShow(cmd, args[0], limit, offset)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum records to print (default: all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Records to skip from the start")

	return cmd
}

func runSessionsList(cmd *cobra.Command, includeClosed bool) error {
	a, err := buildApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	sessions, err := a.engine.ListSessions(context.Background(), includeClosed)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if flagJSON {
		return printJSON(w, sessions)
	}

	if len(sessions) == 0 {
		fmt.Fprintln(w, "no sessions")
		return nil
	}
	for _, session := range sessions {
		fmt.Fprintf(w, "%s %s %-20s %d records  %s\n",
			format.Status(session.Status == storage.StatusActive, session.Status),
			session.ID,
			session.Name,
			session.RecordCount,
			format.Muted.Render(session.CreatedAt.Format("2006-01-02 15:04")),
		)
	}
	return nil
}

func runSessionsCreate(cmd *cobra.Command, spec storage.NewSession) error {
	a, err := buildApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	session, err := a.engine.CreateSession(context.Background(), spec)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if flagJSON {
		return printJSON(w, session)
	}
	fmt.Fprintln(w, format.OK("created session "+session.ID))
	return nil
}

func runSessionsClose(cmd *cobra.Command, sessionID string) error {
	a, err := buildApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	session, err := a.engine.CloseSession(context.Background(), sessionID)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if flagJSON {
		return printJSON(w, session)
	}
	fmt.Fprintln(w, format.OK(fmt.Sprintf("closed session %s (%d records)", session.ID, session.RecordCount)))
	return nil
}

func runSessionsShow(cmd *cobra.Command, sessionID string, limit, offset int) error {
	a, err := buildApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	records, err := a.engine.SessionRecords(context.Background(), sessionID, limit, offset)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), records)
}
