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

package engine

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/szqshan/apiconnect/internal/config"
	"github.com/szqshan/apiconnect/internal/connector"
)

// Config management actions.
const (
	ActionList    = "list"
	ActionTest    = "test"
	ActionTestAll = "test_all"
	ActionReload  = "reload"
)

// testConcurrency bounds parallel API tests in test_all.
const testConcurrency = 4

// APISummary describes one configured API without exposing credentials.
type APISummary struct {
	Name        string            `json:"name"`
	DisplayName string            `json:"display_name,omitempty"`
	Description string            `json:"description,omitempty"`
	Enabled     bool              `json:"enabled"`
	AuthType    string            `json:"auth_type"`
	Endpoints   []EndpointSummary `json:"endpoints"`
}

// EndpointSummary describes one endpoint for listings.
type EndpointSummary struct {
	Name        string   `json:"name"`
	Method      string   `json:"method"`
	Path        string   `json:"path"`
	Description string   `json:"description,omitempty"`
	Required    []string `json:"required_params,omitempty"`
}

// TestResult reports whether an API is usable: every endpoint
// resolvable, every secret present, every URL within policy, and the
// base URL answering a GET. StatusCode and LatencyMs report the
// connection check when it was performed.
type TestResult struct {
	API        string   `json:"api"`
	OK         bool     `json:"ok"`
	Endpoints  int      `json:"endpoints"`
	StatusCode int      `json:"status_code,omitempty"`
	LatencyMs  int64    `json:"latency_ms,omitempty"`
	Problems   []string `json:"problems,omitempty"`
}

// ReloadResult reports a configuration reload outcome.
type ReloadResult struct {
	OK   bool   `json:"ok"`
	APIs int    `json:"apis"`
	Err  string `json:"error,omitempty"`
}

// ManageConfig dispatches a configuration management action. The
// "test" action requires an API name; "list", "test_all" and "reload"
// ignore it.
func (e *Engine) ManageConfig(ctx context.Context, action, apiName string) (any, error) {
	switch action {
	case ActionList:
		return e.listAPIs(), nil
	case ActionTest:
		if apiName == "" {
			return nil, fmt.Errorf("action %q requires an api name", ActionTest)
		}
		return e.testAPI(ctx, apiName), nil
	case ActionTestAll:
		return e.testAllAPIs(ctx)
	case ActionReload:
		return e.reloadConfig(), nil
	default:
		return nil, fmt.Errorf("unknown config action %q (want list, test, test_all or reload)", action)
	}
}

// listAPIs summarizes the active configuration. Secret references and
// expanded values never appear in the output.
func (e *Engine) listAPIs() []APISummary {
	file := e.registry.Snapshot()

	summaries := make([]APISummary, 0, len(file.APIs))
	for _, api := range file.APIs {
		summary := APISummary{
			Name:        api.Name,
			DisplayName: api.DisplayName,
			Description: api.Description,
			Enabled:     api.IsEnabled(),
			AuthType:    config.AuthNone,
		}
		if api.Auth != nil && api.Auth.Type != "" {
			summary.AuthType = api.Auth.Type
		}

		for _, ep := range api.Endpoints {
			method := ep.Method
			if method == "" {
				method = "GET"
			}
			var required []string
			for name, param := range ep.Parameters {
				if param.Required {
					required = append(required, name)
				}
			}
			sort.Strings(required)
			summary.Endpoints = append(summary.Endpoints, EndpointSummary{
				Name:        ep.Name,
				Method:      method,
				Path:        ep.Path,
				Description: ep.Description,
				Required:    required,
			})
		}
		sort.Slice(summary.Endpoints, func(i, j int) bool {
			return summary.Endpoints[i].Name < summary.Endpoints[j].Name
		})
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Name < summaries[j].Name
	})
	return summaries
}

// testAPI checks an API definition, then its connectivity. Every
// endpoint is resolved, which exercises secret expansion, and its base
// URL validated against the security policy. If at least one endpoint
// resolves cleanly, a GET is issued against the base URL through the
// outbound guard and the status and latency are reported.
func (e *Engine) testAPI(ctx context.Context, apiName string) *TestResult {
	result := &TestResult{API: apiName}

	file := e.registry.Snapshot()
	api, ok := file.APIs[apiName]
	if !ok {
		result.Problems = append(result.Problems, fmt.Sprintf("API %q not configured", apiName))
		return result
	}
	result.Endpoints = len(api.Endpoints)

	names := make([]string, 0, len(api.Endpoints))
	for name := range api.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	var probe *config.Resolved
	var probePolicy connector.Policy

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			result.Problems = append(result.Problems, err.Error())
			break
		}
		resolved, err := e.registry.Resolve(apiName, name)
		if err != nil {
			result.Problems = append(result.Problems, fmt.Sprintf("endpoint %q: %v", name, err))
			continue
		}

		policy := connector.Policy{
			AllowedHosts:      resolved.API.AllowedHosts,
			AllowPrivateHosts: resolved.Security.AllowPrivateHosts,
		}
		if len(policy.AllowedHosts) == 0 {
			policy.AllowedHosts = resolved.Security.AllowedHosts
		}
		if err := connector.ValidateURL(resolved.BaseURL, policy); err != nil {
			result.Problems = append(result.Problems, fmt.Sprintf("endpoint %q: %v", name, err))
			continue
		}
		if probe == nil {
			probe = resolved
			probePolicy = policy
		}
	}

	if probe != nil {
		status, latency, err := e.executor.Probe(ctx, probe.BaseURL, probePolicy, probe.Defaults)
		result.LatencyMs = latency.Milliseconds()
		switch {
		case err != nil:
			result.Problems = append(result.Problems, fmt.Sprintf("base URL unreachable: %v", err))
		default:
			result.StatusCode = status
			if status >= 500 {
				result.Problems = append(result.Problems, fmt.Sprintf("base URL returned HTTP %d", status))
			}
		}
	}

	result.OK = len(result.Problems) == 0
	return result
}

// testAllAPIs tests every configured API concurrently.
func (e *Engine) testAllAPIs(ctx context.Context) ([]*TestResult, error) {
	file := e.registry.Snapshot()

	names := make([]string, 0, len(file.APIs))
	for name := range file.APIs {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]*TestResult, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(testConcurrency)
	for i, name := range names {
		g.Go(func() error {
			results[i] = e.testAPI(ctx, name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// reloadConfig re-reads the configuration file. On failure the previous
// configuration stays active.
func (e *Engine) reloadConfig() *ReloadResult {
	err := e.registry.Reload()
	if e.metrics != nil {
		e.metrics.ConfigReload(err == nil)
	}
	if err != nil {
		e.logger.Error("configuration reload failed", "error", err)
		return &ReloadResult{Err: err.Error()}
	}
	return &ReloadResult{OK: true, APIs: len(e.registry.Snapshot().APIs)}
}
