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

// Package config loads and validates declarative API definitions and
// serves them through an atomically swappable registry.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the top-level configuration document.
type File struct {
	// APIs maps API name to definition.
	APIs map[string]*API `yaml:"apis"`

	// Defaults apply to every API unless overridden.
	Defaults Defaults `yaml:"defaults"`

	// Security holds process-wide outbound request policy.
	Security Security `yaml:"security"`
}

// API describes one remote API: where it lives, how to authenticate,
// and the operations it exposes.
type API struct {
	// Name is the unique API identifier (filled from the map key).
	Name string `yaml:"-"`

	// DisplayName is a human-readable name for listings.
	DisplayName string `yaml:"display_name"`

	// Description explains what the API provides.
	Description string `yaml:"description"`

	// BaseURL is the scheme+host prefix for all endpoints.
	// May contain ${VAR} references resolved at call time.
	BaseURL string `yaml:"base_url"`

	// Enabled gates the API; nil means enabled.
	Enabled *bool `yaml:"enabled"`

	// Auth declares how credentials are attached. Nil means none.
	Auth *Auth `yaml:"auth"`

	// AllowedHosts restricts which hosts this API may reach.
	// Empty means any public host. Supports "*.example.com".
	AllowedHosts []string `yaml:"allowed_hosts"`

	// RateLimit throttles outbound calls for this API.
	RateLimit *RateLimit `yaml:"rate_limit"`

	// Endpoints maps endpoint name to definition.
	Endpoints map[string]*Endpoint `yaml:"endpoints"`
}

// IsEnabled reports whether the API accepts calls.
func (a *API) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// Endpoint describes one named, parameterized HTTP operation.
type Endpoint struct {
	// Name is the unique endpoint identifier (filled from the map key).
	Name string `yaml:"-"`

	// Path is the URL path template; {param} placeholders must be
	// declared in Parameters.
	Path string `yaml:"path"`

	// Method is the HTTP method (default GET).
	Method string `yaml:"method"`

	// Description explains what the endpoint returns.
	Description string `yaml:"description"`

	// ResponseTransform is an optional jq expression applied to the
	// response body before the caller-facing transform pipeline.
	ResponseTransform string `yaml:"response_transform"`

	// Parameters maps parameter name to schema.
	Parameters map[string]*Parameter `yaml:"parameters"`
}

// Parameter locations within the outgoing request.
const (
	LocationQuery  = "query"
	LocationPath   = "path"
	LocationBody   = "body"
	LocationHeader = "header"
)

// Parameter describes one endpoint parameter.
type Parameter struct {
	// Type is the expected value type: string, integer, number,
	// boolean, array, or object.
	Type string `yaml:"type"`

	// Required rejects calls that omit the parameter.
	Required bool `yaml:"required"`

	// Default is used when the caller omits the parameter. String
	// defaults may contain ${VAR} references.
	Default any `yaml:"default"`

	// Location places the parameter in the request (default query).
	Location string `yaml:"location"`

	// Description explains the parameter.
	Description string `yaml:"description"`
}

// Auth strategy types.
const (
	AuthNone   = "none"
	AuthAPIKey = "api_key"
	AuthBearer = "bearer"
	AuthBasic  = "basic"
)

// Auth declares a credential attachment strategy. Credential-bearing
// fields hold ${VAR} references, never literal values.
type Auth struct {
	// Type is one of none, api_key, bearer, basic.
	Type string `yaml:"type"`

	// Location is "header" or "query" (api_key only, default header).
	Location string `yaml:"location"`

	// Field is the header or query parameter name (api_key only).
	Field string `yaml:"field"`

	// Value is the api_key credential reference.
	Value string `yaml:"value"`

	// Token is the bearer credential reference.
	Token string `yaml:"token"`

	// Username and Password are the basic auth credential references.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RateLimit throttles outbound requests for one API.
type RateLimit struct {
	// RequestsPerSecond is the sustained request rate.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the maximum burst size (default 1).
	Burst int `yaml:"burst"`
}

// Defaults hold cross-API execution settings.
type Defaults struct {
	// TimeoutSeconds bounds each HTTP call (default 30).
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// MaxResponseBytes caps response body size (default 10 MiB).
	MaxResponseBytes int64 `yaml:"max_response_bytes"`

	// UserAgent is sent with every request.
	UserAgent string `yaml:"user_agent"`

	// Retry configures the retry policy for idempotent calls.
	Retry Retry `yaml:"retry"`
}

// Retry configures retry behavior for transient failures.
type Retry struct {
	// MaxAttempts is the total attempt budget (default 3).
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the first retry delay (default 1s).
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the delay between attempts (default 30s).
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// BackoffFactor is the exponential multiplier (default 2.0).
	BackoffFactor float64 `yaml:"backoff_factor"`

	// JitterMax bounds the random jitter added to each delay
	// (default 100ms).
	JitterMax time.Duration `yaml:"jitter_max"`

	// RetryableStatus lists HTTP status codes worth retrying
	// (default 408, 429, 500, 502, 503, 504).
	RetryableStatus []int `yaml:"retryable_status"`
}

// UnmarshalYAML accepts Go duration strings ("500ms", "2s") for the
// backoff fields.
func (r *Retry) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		MaxAttempts     int     `yaml:"max_attempts"`
		InitialBackoff  string  `yaml:"initial_backoff"`
		MaxBackoff      string  `yaml:"max_backoff"`
		BackoffFactor   float64 `yaml:"backoff_factor"`
		JitterMax       string  `yaml:"jitter_max"`
		RetryableStatus []int   `yaml:"retryable_status"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	r.MaxAttempts = raw.MaxAttempts
	r.BackoffFactor = raw.BackoffFactor
	r.RetryableStatus = raw.RetryableStatus

	var err error
	if r.InitialBackoff, err = parseDuration(raw.InitialBackoff, "retry.initial_backoff"); err != nil {
		return err
	}
	if r.MaxBackoff, err = parseDuration(raw.MaxBackoff, "retry.max_backoff"); err != nil {
		return err
	}
	if r.JitterMax, err = parseDuration(raw.JitterMax, "retry.jitter_max"); err != nil {
		return err
	}
	return nil
}

// parseDuration parses an optional duration string.
func parseDuration(value, field string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", field, value)
	}
	return d, nil
}

// Security holds process-wide outbound request policy.
type Security struct {
	// AllowedHosts, when non-empty, is the global host allow-list.
	AllowedHosts []string `yaml:"allowed_hosts"`

	// AllowPrivateHosts lists loopback/private/link-local hosts that
	// are explicitly permitted despite the SSRF block.
	AllowPrivateHosts []string `yaml:"allow_private_hosts"`
}

// DefaultMaxResponseBytes is the response size ceiling applied when the
// configuration does not set one (10 MiB).
const DefaultMaxResponseBytes = 10 * 1024 * 1024

// applyDefaults fills zero-valued defaults in place.
func (d *Defaults) applyDefaults() {
	if d.TimeoutSeconds == 0 {
		d.TimeoutSeconds = 30
	}
	if d.MaxResponseBytes == 0 {
		d.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if d.UserAgent == "" {
		d.UserAgent = "apiconnect/1.0"
	}
	d.Retry.applyDefaults()
}

// applyDefaults fills zero-valued retry settings in place.
func (r *Retry) applyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 3
	}
	if r.InitialBackoff == 0 {
		r.InitialBackoff = time.Second
	}
	if r.MaxBackoff == 0 {
		r.MaxBackoff = 30 * time.Second
	}
	if r.BackoffFactor == 0 {
		r.BackoffFactor = 2.0
	}
	if r.JitterMax == 0 {
		r.JitterMax = 100 * time.Millisecond
	}
	if r.RetryableStatus == nil {
		r.RetryableStatus = []int{408, 429, 500, 502, 503, 504}
	}
}
