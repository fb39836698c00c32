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

	"github.com/szqshan/apiconnect/internal/engine"
)

// handleFetch implements the fetch_api_data tool.
func (s *Server) handleFetch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	api, err := request.RequireString("api")
	if err != nil {
		return mcp.NewToolResultError("missing or invalid 'api' argument"), nil
	}
	endpoint, err := request.RequireString("endpoint")
	if err != nil {
		return mcp.NewToolResultError("missing or invalid 'endpoint' argument"), nil
	}

	req := engine.FetchRequest{
		API:       api,
		Endpoint:  endpoint,
		SessionID: request.GetString("session_id", ""),
	}
	if args := request.GetArguments(); args != nil {
		if params, ok := args["parameters"].(map[string]interface{}); ok {
			req.Params = params
		}
		req.TransformSpec = args["transform"]
	}

	result, err := s.engine.Fetch(ctx, req)
	if err != nil {
		return errorResponse(err), nil
	}
	return jsonResponse(result), nil
}

// handlePreview implements the api_data_preview tool.
func (s *Server) handlePreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	api, err := request.RequireString("api")
	if err != nil {
		return mcp.NewToolResultError("missing or invalid 'api' argument"), nil
	}
	endpoint, err := request.RequireString("endpoint")
	if err != nil {
		return mcp.NewToolResultError("missing or invalid 'endpoint' argument"), nil
	}

	req := engine.PreviewRequest{
		API:      api,
		Endpoint: endpoint,
		MaxItems: request.GetInt("max_items", 10),
	}
	if args := request.GetArguments(); args != nil {
		if params, ok := args["parameters"].(map[string]interface{}); ok {
			req.Params = params
		}
		req.TransformSpec = args["transform"]
	}

	preview, err := s.engine.Preview(ctx, req)
	if err != nil {
		return errorResponse(err), nil
	}
	return jsonResponse(preview), nil
}
