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
	"strings"

	"github.com/spf13/cobra"

	"github.com/szqshan/apiconnect/internal/engine"
)

// newFetchCommand creates the fetch command.
func newFetchCommand() *cobra.Command {
	var (
		params    []string
		transform string
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "fetch API ENDPOINT",
		Short: "Invoke a configured API endpoint",
		Long: `Invoke a configured API endpoint and print the (optionally
transformed) response as JSON.

Parameter values are parsed as JSON where possible, so --param count=5
passes an integer and --param tags='["a","b"]' passes an array. Values
that are not valid JSON pass through as strings.

Examples:
  apiconnect fetch weather current --param q=London
  apiconnect fetch movies top --transform '{"filter":{"field":"rating","operator":"gte","value":9},"limit":10}'
  apiconnect fetch movies top --session 4f7c2e1a`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, args[0], args[1], params, transform, sessionID)
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Endpoint parameter as name=value (repeatable)")
	cmd.Flags().StringVarP(&transform, "transform", "t", "", "Transform pipeline as JSON")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Store the result into this session instead of printing it")

	return cmd
}

func runFetch(cmd *cobra.Command, api, endpoint string, rawParams []string, rawTransform, sessionID string) error {
	a, err := buildApp(sessionID != "")
	if err != nil {
		return err
	}
	defer a.close()

	req := engine.FetchRequest{
		API:       api,
		Endpoint:  endpoint,
		SessionID: sessionID,
	}

	req.Params, err = parseParams(rawParams)
	if err != nil {
		return err
	}

	if rawTransform != "" {
		var spec any
		if err := json.Unmarshal([]byte(rawTransform), &spec); err != nil {
			return fmt.Errorf("invalid --transform JSON: %w", err)
		}
		req.TransformSpec = spec
	}

	result, err := a.engine.Fetch(context.Background(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if sessionID != "" && !flagJSON {
		fmt.Fprintf(out, "stored record %d in session %s (%d records)\n",
			result.Stored.RecordID, result.Stored.SessionID, result.Stored.RecordCount)
		return nil
	}

	var payload any = result.Data
	if flagJSON {
		payload = result
	}
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(encoded))
	return nil
}

// parseParams converts name=value pairs into parameter values. Values
// are decoded as JSON when they parse, otherwise kept as strings.
func parseParams(raw []string) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(raw))
	for _, pair := range raw {
		name, value, found := strings.Cut(pair, "=")
		if !found || name == "" {
			return nil, fmt.Errorf("invalid --param %q, want name=value", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			params[name] = decoded
		} else {
			params[name] = value
		}
	}
	return params, nil
}
