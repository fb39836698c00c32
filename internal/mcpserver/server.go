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

// Package mcpserver exposes the invocation engine as MCP tools over
// stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/szqshan/apiconnect/internal/connector"
	"github.com/szqshan/apiconnect/internal/engine"
)

// Server wraps the MCP server and exposes apiconnect tools.
type Server struct {
	mcpServer *server.MCPServer
	engine    *engine.Engine
	logger    *slog.Logger
	name      string
	version   string
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	// Name is the server name (default: "apiconnect").
	Name string

	// Version is the apiconnect version.
	Version string

	// Engine handles every tool call (required).
	Engine *engine.Engine

	// Logger writes to stderr; stdout belongs to the protocol.
	Logger *slog.Logger
}

// NewServer creates an MCP server instance with all tools registered.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if config.Name == "" {
		config.Name = "apiconnect"
	}
	if config.Version == "" {
		config.Version = "dev"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcpServer: server.NewMCPServer(config.Name, config.Version),
		engine:    config.Engine,
		logger:    logger,
		name:      config.Name,
		version:   config.Version,
	}
	s.registerTools()
	return s, nil
}

// registerTools registers every apiconnect tool with the MCP server.
func (s *Server) registerTools() {
	transformProperty := map[string]interface{}{
		"type":        "object",
		"description": "Declarative transform pipeline: filter, sort, select, limit. Also accepts a list of single-operation objects applied in order.",
	}
	parametersProperty := map[string]interface{}{
		"type":        "object",
		"description": "Endpoint parameter values, keyed by parameter name",
	}

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "fetch_api_data",
		Description: "Invoke a configured API endpoint and return the (optionally transformed) response. Pass session_id to store the result instead of returning it inline.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"api": map[string]interface{}{
					"type":        "string",
					"description": "Configured API name (see manage_api_config with action=list)",
				},
				"endpoint": map[string]interface{}{
					"type":        "string",
					"description": "Endpoint name within the API",
				},
				"parameters": parametersProperty,
				"transform":  transformProperty,
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Storage session to append the result to",
				},
			},
			Required: []string{"api", "endpoint"},
		},
	}, s.handleFetch)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "api_data_preview",
		Description: "Invoke an endpoint and return a truncated sample of its data, for inspecting response shape before building transform pipelines.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"api": map[string]interface{}{
					"type":        "string",
					"description": "Configured API name",
				},
				"endpoint": map[string]interface{}{
					"type":        "string",
					"description": "Endpoint name within the API",
				},
				"parameters": parametersProperty,
				"transform":  transformProperty,
				"max_items": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum records to include (default: 10)",
					"default":     10,
				},
			},
			Required: []string{"api", "endpoint"},
		},
	}, s.handlePreview)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "create_api_storage_session",
		Description: "Create a storage session for collecting results across multiple fetch_api_data calls.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Explicit session identifier (default: generated UUID)",
				},
				"api": map[string]interface{}{
					"type":        "string",
					"description": "API name this session collects data for",
				},
				"endpoint": map[string]interface{}{
					"type":        "string",
					"description": "Endpoint name within the API",
				},
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Human-readable session name",
				},
				"description": map[string]interface{}{
					"type":        "string",
					"description": "What this session collects",
				},
			},
		},
	}, s.handleCreateSession)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_api_storage_sessions",
		Description: "List storage sessions with their record counts.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"include_closed": map[string]interface{}{
					"type":        "boolean",
					"description": "Include closed sessions (default: false)",
					"default":     false,
				},
			},
		},
	}, s.handleListSessions)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "close_api_storage_session",
		Description: "Close a storage session. Stored records stay readable; further appends are rejected.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Session to close",
				},
			},
			Required: []string{"session_id"},
		},
	}, s.handleCloseSession)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_stored_data",
		Description: "Read records from a storage session in insertion order, with optional pagination.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Session to read from",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum records to return (default: all)",
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "Records to skip from the start",
				},
			},
			Required: []string{"session_id"},
		},
	}, s.handleGetStoredData)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "manage_api_config",
		Description: "Inspect and manage API configuration. Actions: list (summarize APIs), test (check one API's definition and connectivity), test_all (check every API), reload (re-read configuration).",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"action": map[string]interface{}{
					"type":        "string",
					"description": "One of: list, test, test_all, reload",
					"enum":        []string{"list", "test", "test_all", "reload"},
				},
				"api": map[string]interface{}{
					"type":        "string",
					"description": "API name (required for action=test)",
				},
			},
			Required: []string{"action"},
		},
	}, s.handleManageConfig)
}

// Run serves the MCP protocol over stdio until the peer disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server",
		slog.String("name", s.name),
		slog.String("version", s.version),
	)
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

// jsonResponse marshals a result payload into a text content block.
func jsonResponse(v any) *mcp.CallToolResult {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(string(encoded)),
		},
	}
}

// errorResponse converts an engine error into a tool error, surfacing
// the remediation hint when the call layer provides one.
func errorResponse(err error) *mcp.CallToolResult {
	var callErr *connector.Error
	if errors.As(err, &callErr) && callErr.SuggestText != "" {
		return mcp.NewToolResultError(fmt.Sprintf("%v. %s", callErr, callErr.SuggestText))
	}
	return mcp.NewToolResultError(err.Error())
}
