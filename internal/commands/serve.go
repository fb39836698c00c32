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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/szqshan/apiconnect/internal/config"
	"github.com/szqshan/apiconnect/internal/mcpserver"
)

// newServeCommand creates the serve command.
func newServeCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP stdio server",
		Long: `Start the apiconnect MCP (Model Context Protocol) server.

The server runs in stdio mode: AI assistants launch the binary and speak
the protocol over stdin/stdout. All logging goes to stderr.

Configuration example for an MCP client:
  {
    "mcpServers": {
      "apiconnect": {
        "command": "apiconnect",
        "args": ["serve"]
      }
    }
  }

The server exposes these tools:
  - fetch_api_data: invoke a configured endpoint, optionally transformed
  - api_data_preview: inspect a truncated sample of endpoint data
  - create_api_storage_session: open a result collection session
  - list_api_storage_sessions: list sessions and record counts
  - close_api_storage_session: close a session
  - get_stored_data: read stored records back
  - manage_api_config: list, test and reload API configuration`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(watch)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", true, "Reload configuration automatically when it changes")

	return cmd
}

func runServe(watch bool) error {
	a, err := buildApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	if watch {
		watcher, err := config.NewWatcher(config.WatcherConfig{
			Registry: a.registry,
			Logger:   a.logger,
		})
		if err != nil {
			// Watching is best effort; serving continues without it.
			a.logger.Warn("configuration watcher unavailable", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	srv, err := mcpserver.NewServer(mcpserver.ServerConfig{
		Version: version,
		Engine:  a.engine,
		Logger:  a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nReceived shutdown signal, shutting down...")
		cancel()
	}()

	return srv.Run(ctx)
}
