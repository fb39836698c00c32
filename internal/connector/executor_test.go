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

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/szqshan/apiconnect/internal/config"
)

// testResolved builds a call-ready definition pointing at a test server.
func testResolved(serverURL string, endpoint *config.Endpoint, auth *config.ResolvedAuth) *config.Resolved {
	if auth == nil {
		auth = &config.ResolvedAuth{Type: config.AuthNone}
	}
	defaults := config.Defaults{}
	defaults.Retry.MaxAttempts = 3
	defaults.Retry.InitialBackoff = time.Millisecond
	defaults.Retry.MaxBackoff = 10 * time.Millisecond
	defaults.Retry.BackoffFactor = 2.0
	defaults.Retry.JitterMax = time.Millisecond
	defaults.Retry.RetryableStatus = []int{408, 429, 500, 502, 503, 504}
	defaults.TimeoutSeconds = 5
	defaults.MaxResponseBytes = 1 << 20
	defaults.UserAgent = "apiconnect-test/1.0"

	host, _ := url.Parse(serverURL)

	return &config.Resolved{
		API:      &config.API{Name: "testapi"},
		Endpoint: endpoint,
		BaseURL:  serverURL,
		Auth:     auth,
		Defaults: defaults,
		Security: config.Security{AllowPrivateHosts: []string{host.Hostname()}},
	}
}

func TestExecute_ParameterBinding(t *testing.T) {
	var gotPath, gotQuery, gotHeader string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("units")
		gotHeader = r.Header.Get("x-trace")
		if r.Body != nil {
			body, _ := io.ReadAll(r.Body)
			if len(body) > 0 {
				json.Unmarshal(body, &gotBody)
			}
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	endpoint := &config.Endpoint{
		Name:   "update",
		Path:   "/cities/{city}",
		Method: "POST",
		Parameters: map[string]*config.Parameter{
			"city":    {Type: "string", Required: true, Location: config.LocationPath},
			"units":   {Type: "string", Default: "metric", Location: config.LocationQuery},
			"x-trace": {Type: "string", Location: config.LocationHeader},
			"note":    {Type: "string", Location: config.LocationBody},
		},
	}

	executor := NewExecutor(nil)
	resp, err := executor.Execute(context.Background(), testResolved(server.URL, endpoint, nil), map[string]any{
		"city":    "San Jose",
		"x-trace": "abc123",
		"note":    "hello",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if gotPath != "/cities/San%20Jose" && gotPath != "/cities/San Jose" {
		t.Errorf("path = %q, want city substituted", gotPath)
	}
	if gotQuery != "metric" {
		t.Errorf("units query = %q, want default applied", gotQuery)
	}
	if gotHeader != "abc123" {
		t.Errorf("x-trace header = %q", gotHeader)
	}
	if gotBody["note"] != "hello" {
		t.Errorf("body = %v, want note placed in body", gotBody)
	}
	if resp.StatusCode != 200 {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
	if data, ok := resp.Data.(map[string]any); !ok || data["ok"] != true {
		t.Errorf("Data = %#v, want decoded JSON", resp.Data)
	}
}

func TestExecute_ParameterRejections(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the network")
	}))
	defer server.Close()

	endpoint := &config.Endpoint{
		Name:   "search",
		Path:   "/search",
		Method: "GET",
		Parameters: map[string]*config.Parameter{
			"q":     {Type: "string", Required: true, Location: config.LocationQuery},
			"count": {Type: "integer", Location: config.LocationQuery},
		},
	}

	executor := NewExecutor(nil)
	resolved := testResolved(server.URL, endpoint, nil)

	tests := []struct {
		name     string
		params   map[string]any
		wantType ErrorType
	}{
		{"unknown parameter", map[string]any{"q": "x", "page": 1}, ErrorTypeUnknownParameter},
		{"missing required", map[string]any{"count": 5}, ErrorTypeMissingParameter},
		{"type mismatch", map[string]any{"q": "x", "count": "five"}, ErrorTypeValidation},
		{"fractional integer", map[string]any{"q": "x", "count": 2.5}, ErrorTypeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executor.Execute(context.Background(), resolved, tt.params)
			callErr, ok := err.(*Error)
			if !ok || callErr.Type != tt.wantType {
				t.Fatalf("Execute() error = %v, want %s", err, tt.wantType)
			}
		})
	}
}

func TestExecute_PathTraversalBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the network")
	}))
	defer server.Close()

	endpoint := &config.Endpoint{
		Name:   "user",
		Path:   "/users/{name}",
		Method: "GET",
		Parameters: map[string]*config.Parameter{
			"name": {Type: "string", Required: true, Location: config.LocationPath},
		},
	}

	executor := NewExecutor(nil)
	_, err := executor.Execute(context.Background(), testResolved(server.URL, endpoint, nil), map[string]any{
		"name": "../admin/secrets",
	})
	callErr, ok := err.(*Error)
	if !ok || callErr.Type != ErrorTypePathInjection {
		t.Fatalf("Execute() error = %v, want path_injection", err)
	}
}

func TestExecute_AuthPlacement(t *testing.T) {
	tests := []struct {
		name  string
		auth  *config.ResolvedAuth
		check func(t *testing.T, r *http.Request)
	}{
		{
			name: "api key in header",
			auth: &config.ResolvedAuth{Type: config.AuthAPIKey, Location: "header", Field: "X-API-Key", Value: "sk-1234"},
			check: func(t *testing.T, r *http.Request) {
				if got := r.Header.Get("X-API-Key"); got != "sk-1234" {
					t.Errorf("X-API-Key = %q", got)
				}
			},
		},
		{
			name: "api key in query",
			auth: &config.ResolvedAuth{Type: config.AuthAPIKey, Location: config.LocationQuery, Field: "appid", Value: "sk-1234"},
			check: func(t *testing.T, r *http.Request) {
				if got := r.URL.Query().Get("appid"); got != "sk-1234" {
					t.Errorf("appid query = %q", got)
				}
			},
		},
		{
			name: "bearer token",
			auth: &config.ResolvedAuth{Type: config.AuthBearer, Token: "tok-5678"},
			check: func(t *testing.T, r *http.Request) {
				if got := r.Header.Get("Authorization"); got != "Bearer tok-5678" {
					t.Errorf("Authorization = %q", got)
				}
			},
		},
		{
			name: "basic credentials",
			auth: &config.ResolvedAuth{Type: config.AuthBasic, Username: "user", Password: "pass"},
			check: func(t *testing.T, r *http.Request) {
				username, password, ok := r.BasicAuth()
				if !ok || username != "user" || password != "pass" {
					t.Errorf("basic auth = %q/%q ok=%v", username, password, ok)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured *http.Request
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				clone := *r
				clone.URL = r.URL
				captured = &clone
				w.Write([]byte(`{}`))
			}))
			defer server.Close()

			endpoint := &config.Endpoint{Name: "ping", Path: "/ping", Method: "GET"}
			executor := NewExecutor(nil)
			if _, err := executor.Execute(context.Background(), testResolved(server.URL, endpoint, tt.auth), nil); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			tt.check(t, captured)
		})
	}
}

func TestExecute_RetriesIdempotentOnly(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	executor := NewExecutor(nil)

	endpoint := &config.Endpoint{Name: "get", Path: "/data", Method: "GET"}
	resp, err := executor.Execute(context.Background(), testResolved(server.URL, endpoint, nil), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", resp.Attempts)
	}

	calls.Store(0)
	endpoint = &config.Endpoint{Name: "post", Path: "/data", Method: "POST"}
	_, err = executor.Execute(context.Background(), testResolved(server.URL, endpoint, nil), nil)
	if err == nil {
		t.Fatal("Execute() POST expected error on 502")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("POST attempts = %d, want exactly 1", got)
	}
}

func TestExecute_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"no such user"}`))
	}))
	defer server.Close()

	endpoint := &config.Endpoint{Name: "user", Path: "/user", Method: "GET"}
	executor := NewExecutor(nil)
	_, err := executor.Execute(context.Background(), testResolved(server.URL, endpoint, nil), nil)

	callErr, ok := err.(*Error)
	if !ok || callErr.Type != ErrorTypeNotFound {
		t.Fatalf("Execute() error = %v, want not_found", err)
	}
	if callErr.StatusCode != 404 {
		t.Errorf("StatusCode = %d, want 404", callErr.StatusCode)
	}
	if !strings.Contains(callErr.Message, "no such user") {
		t.Errorf("Message = %q, want body snippet included", callErr.Message)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestExecute_ResponseTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer server.Close()

	endpoint := &config.Endpoint{Name: "big", Path: "/big", Method: "GET"}
	resolved := testResolved(server.URL, endpoint, nil)
	resolved.Defaults.MaxResponseBytes = 1024

	executor := NewExecutor(nil)
	_, err := executor.Execute(context.Background(), resolved, nil)
	callErr, ok := err.(*Error)
	if !ok || callErr.Type != ErrorTypeResponseTooLarge {
		t.Fatalf("Execute() error = %v, want response_too_large", err)
	}
}

func TestExecute_RetryAfterHonored(t *testing.T) {
	var calls atomic.Int32
	var firstRetryGap time.Duration
	var lastCall time.Time

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		if n := calls.Add(1); n == 1 {
			lastCall = now
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		} else if n == 2 {
			firstRetryGap = now.Sub(lastCall)
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	endpoint := &config.Endpoint{Name: "limited", Path: "/limited", Method: "GET"}
	resolved := testResolved(server.URL, endpoint, nil)
	// Retry-After may exceed the computed backoff but not max_backoff.
	resolved.Defaults.Retry.MaxBackoff = 2 * time.Second

	executor := NewExecutor(nil)
	if _, err := executor.Execute(context.Background(), resolved, nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if firstRetryGap < 900*time.Millisecond {
		t.Errorf("retry gap = %v, want Retry-After of 1s honored", firstRetryGap)
	}
}

func TestExecute_SSRFBlockedBeforeNetwork(t *testing.T) {
	endpoint := &config.Endpoint{Name: "meta", Path: "/latest/meta-data/", Method: "GET"}
	resolved := testResolved("http://169.254.169.254", endpoint, nil)
	resolved.Security.AllowPrivateHosts = nil

	executor := NewExecutor(nil)
	_, err := executor.Execute(context.Background(), resolved, nil)
	callErr, ok := err.(*Error)
	if !ok || callErr.Type != ErrorTypeSSRF {
		t.Fatalf("Execute() error = %v, want ssrf_blocked", err)
	}
}

func TestExecute_RedirectToBlockedHostRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://169.254.169.254/latest/meta-data/", http.StatusFound)
	}))
	defer server.Close()

	endpoint := &config.Endpoint{Name: "data", Path: "/data", Method: "GET"}
	executor := NewExecutor(nil)
	_, err := executor.Execute(context.Background(), testResolved(server.URL, endpoint, nil), nil)

	var callErr *Error
	if !errors.As(err, &callErr) || callErr.Type != ErrorTypeSSRF {
		t.Fatalf("Execute() error = %v, want ssrf_blocked on redirect hop", err)
	}
}

func TestExecute_RedirectWithinPolicyFollowed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"moved":true}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	endpoint := &config.Endpoint{Name: "old", Path: "/old", Method: "GET"}
	executor := NewExecutor(nil)
	resp, err := executor.Execute(context.Background(), testResolved(server.URL, endpoint, nil), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if data, ok := resp.Data.(map[string]any); !ok || data["moved"] != true {
		t.Errorf("Data = %#v, want redirect followed", resp.Data)
	}
}

func TestExecute_NonJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("plain text payload"))
	}))
	defer server.Close()

	endpoint := &config.Endpoint{Name: "text", Path: "/text", Method: "GET"}
	executor := NewExecutor(nil)
	resp, err := executor.Execute(context.Background(), testResolved(server.URL, endpoint, nil), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.Data != "plain text payload" {
		t.Errorf("Data = %#v, want raw string", resp.Data)
	}
}

func TestStringifyParam(t *testing.T) {
	tests := []struct {
		value   any
		want    string
		wantErr bool
	}{
		{"text", "text", false},
		{true, "true", false},
		{42, "42", false},
		{float64(42), "42", false},
		{3.14, "3.14", false},
		{[]any{"a", "b", 3}, "a,b,3", false},
		{map[string]any{"x": 1}, "", true},
	}

	for _, tt := range tests {
		got, err := stringifyParam("p", tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("stringifyParam(%v) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("stringifyParam(%v) = %q, want %q", tt.value, got, tt.want)
		}
	}
}
