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

package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/szqshan/apiconnect/internal/storage"
)

// handleCreateSession implements the create_api_storage_session tool.
func (s *Server) handleCreateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.engine.CreateSession(ctx, storage.NewSession{
		ID:          request.GetString("session_id", ""),
		API:         request.GetString("api", ""),
		Endpoint:    request.GetString("endpoint", ""),
		Name:        request.GetString("name", ""),
		Description: request.GetString("description", ""),
	})
	if err != nil {
		return errorResponse(err), nil
	}
	return jsonResponse(session), nil
}

// handleListSessions implements the list_api_storage_sessions tool.
func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := s.engine.ListSessions(ctx, request.GetBool("include_closed", false))
	if err != nil {
		return errorResponse(err), nil
	}
	return jsonResponse(map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	}), nil
}

// handleCloseSession implements the close_api_storage_session tool.
func (s *Server) handleCloseSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing or invalid 'session_id' argument"), nil
	}

	session, err := s.engine.CloseSession(ctx, sessionID)
	if err != nil {
		return errorResponse(err), nil
	}
	return jsonResponse(session), nil
}

// handleGetStoredData implements the get_stored_data tool.
func (s *Server) handleGetStoredData(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing or invalid 'session_id' argument"), nil
	}

	records, err := s.engine.SessionRecords(ctx, sessionID,
		request.GetInt("limit", 0),
		request.GetInt("offset", 0),
	)
	if err != nil {
		return errorResponse(err), nil
	}
	return jsonResponse(map[string]any{
		"session_id": sessionID,
		"records":    records,
		"count":      len(records),
	}), nil
}
