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

package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/szqshan/apiconnect/internal/jq"
)

// validMethods are the HTTP methods an endpoint may declare.
var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// validParamTypes are the accepted parameter schema types.
var validParamTypes = map[string]bool{
	"string": true, "integer": true, "number": true,
	"boolean": true, "array": true, "object": true,
}

// validLocations are the accepted parameter locations.
var validLocations = map[string]bool{
	LocationQuery: true, LocationPath: true,
	LocationBody: true, LocationHeader: true,
}

// validate checks the whole document. Definitions are rejected eagerly
// at load time; Resolve never sees a malformed definition.
func (f *File) validate() error {
	f.Defaults.applyDefaults()

	if err := f.Defaults.Retry.validate(); err != nil {
		return err
	}

	for _, api := range f.APIs {
		if err := api.validate(); err != nil {
			return err
		}
	}
	return nil
}

// validate checks retry settings.
func (r *Retry) validate() error {
	if r.MaxAttempts < 1 {
		return newInvalid("retry.max_attempts", "must be at least 1, got %d", r.MaxAttempts)
	}
	if r.InitialBackoff < 0 {
		return newInvalid("retry.initial_backoff", "must be non-negative, got %v", r.InitialBackoff)
	}
	if r.MaxBackoff < r.InitialBackoff {
		return newInvalid("retry.max_backoff", "%v must be >= initial_backoff %v", r.MaxBackoff, r.InitialBackoff)
	}
	if r.BackoffFactor < 1.0 {
		return newInvalid("retry.backoff_factor", "must be >= 1.0, got %f", r.BackoffFactor)
	}
	return nil
}

// validate checks one API definition.
func (a *API) validate() error {
	if a.Name == "" {
		return newInvalid("", "API name must not be empty")
	}

	parsed, err := url.Parse(stripRefs(a.BaseURL))
	if err != nil || a.BaseURL == "" {
		return newInvalid(a.Name, "invalid base_url %q", a.BaseURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return newInvalid(a.Name, "base_url scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return newInvalid(a.Name, "base_url must include host")
	}

	if a.Auth != nil {
		if err := a.Auth.validate(a.Name); err != nil {
			return err
		}
	}

	if a.RateLimit != nil {
		if a.RateLimit.RequestsPerSecond <= 0 {
			return newInvalid(a.Name, "rate_limit.requests_per_second must be positive")
		}
		if a.RateLimit.Burst < 0 {
			return newInvalid(a.Name, "rate_limit.burst must be non-negative")
		}
	}

	if len(a.Endpoints) == 0 {
		return newInvalid(a.Name, "API declares no endpoints")
	}
	for _, ep := range a.Endpoints {
		if err := ep.validate(a.Name); err != nil {
			return err
		}
	}

	return nil
}

// validate checks one auth strategy declaration.
func (au *Auth) validate(apiName string) error {
	switch au.Type {
	case AuthNone, "":
	case AuthAPIKey:
		if au.Field == "" {
			return newInvalid(apiName, "api_key auth requires field")
		}
		if au.Value == "" {
			return newInvalid(apiName, "api_key auth requires value")
		}
		switch au.Location {
		case "", "header", LocationQuery:
		default:
			return newInvalid(apiName, "api_key auth location must be header or query, got %q", au.Location)
		}
	case AuthBearer:
		if au.Token == "" {
			return newInvalid(apiName, "bearer auth requires token")
		}
	case AuthBasic:
		if au.Username == "" || au.Password == "" {
			return newInvalid(apiName, "basic auth requires username and password")
		}
	default:
		return newInvalid(apiName, "unsupported auth type %q", au.Type)
	}
	return nil
}

// validate checks one endpoint definition.
func (e *Endpoint) validate(apiName string) error {
	qualified := apiName + "." + e.Name

	if e.Path == "" {
		return newInvalid(qualified, "endpoint path must not be empty")
	}

	method := strings.ToUpper(e.Method)
	if method == "" {
		method = "GET"
	}
	if !validMethods[method] {
		return newInvalid(qualified, "invalid HTTP method %q", e.Method)
	}
	e.Method = method

	for name, param := range e.Parameters {
		if param == nil {
			return newInvalid(qualified, "empty schema for parameter %q", name)
		}
		if param.Type == "" {
			param.Type = "string"
		}
		if !validParamTypes[param.Type] {
			return newInvalid(qualified, "parameter %q has invalid type %q", name, param.Type)
		}
		if param.Location == "" {
			param.Location = LocationQuery
		}
		if !validLocations[param.Location] {
			return newInvalid(qualified, "parameter %q has invalid location %q", name, param.Location)
		}
	}

	// Every {param} in the path template must be declared, and declared
	// path parameters must actually appear in the template.
	for _, name := range PathParams(e.Path) {
		param, declared := e.Parameters[name]
		if !declared {
			return newInvalid(qualified, "path references undeclared parameter %q", name)
		}
		if param.Location != LocationPath {
			return newInvalid(qualified, "parameter %q appears in path but has location %q", name, param.Location)
		}
	}
	inPath := make(map[string]bool)
	for _, name := range PathParams(e.Path) {
		inPath[name] = true
	}
	for name, param := range e.Parameters {
		if param.Location == LocationPath && !inPath[name] {
			return newInvalid(qualified, "path parameter %q does not appear in path template", name)
		}
	}

	if e.ResponseTransform != "" {
		if err := jq.Validate(e.ResponseTransform); err != nil {
			return &Error{
				Kind:   ErrInvalidDefinition,
				Name:   qualified,
				Reason: fmt.Sprintf("invalid response_transform %q", e.ResponseTransform),
				Cause:  err,
			}
		}
	}

	return nil
}

// PathParams extracts {param} placeholder names from a path template in
// order of appearance.
func PathParams(path string) []string {
	var params []string
	for {
		start := strings.Index(path, "{")
		if start == -1 {
			break
		}
		end := strings.Index(path[start:], "}")
		if end == -1 {
			break
		}
		end += start
		params = append(params, path[start+1:end])
		path = path[end+1:]
	}
	return params
}

// stripRefs replaces ${VAR} references with a placeholder token so the
// URL can be shape-checked before secrets are available.
func stripRefs(s string) string {
	result := s
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			return result
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			return result
		}
		end += start
		result = result[:start] + "x" + result[end+1:]
	}
}
