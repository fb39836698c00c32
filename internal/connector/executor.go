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

// Package connector executes declarative HTTP calls: it binds caller
// parameters to an endpoint definition, enforces the outbound security
// policy, attaches credentials, and performs the request with timeout,
// retry, and response-size bounds.
package connector

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/szqshan/apiconnect/internal/config"
	"github.com/szqshan/apiconnect/internal/log"
	"github.com/szqshan/apiconnect/internal/metrics"
)

// Response is the outcome of a successful call.
type Response struct {
	// StatusCode is the HTTP status (always 2xx here).
	StatusCode int

	// Header is the response header set.
	Header http.Header

	// Body is the raw response body, within the size ceiling.
	Body []byte

	// Data is the decoded JSON body. Non-JSON bodies decode to their
	// raw string.
	Data any

	// Attempts is how many attempts the call took.
	Attempts int

	// Duration covers all attempts including backoff.
	Duration time.Duration
}

// Executor performs declarative HTTP calls against resolved endpoint
// definitions.
type Executor struct {
	client   *http.Client
	logger   *slog.Logger
	limiters *limiterPool
	metrics  *metrics.Collector
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPClient overrides the HTTP client. Used by tests.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Executor) { e.client = client }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(e *Executor) { e.metrics = collector }
}

// NewExecutor creates an executor. The client timeout is applied
// per-attempt from each call's resolved defaults. Redirect validation
// is installed on the client, including one supplied via
// WithHTTPClient.
func NewExecutor(logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Executor{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
		logger:   logger,
		limiters: newLimiterPool(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.client.CheckRedirect = checkRedirect
	return e
}

// policyKey carries the call's outbound policy through the request
// context so redirect hops can be re-validated.
type policyKey struct{}

// maxRedirects bounds redirect chains, matching the net/http default.
const maxRedirects = 10

// checkRedirect validates every redirect target against the call's
// policy. The first hop is checked before the request is sent; without
// this, a permitted host could redirect the client to a blocked one.
func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	policy, _ := req.Context().Value(policyKey{}).(Policy)
	return ValidateURL(req.URL.String(), policy)
}

// Execute performs one call. All parameter validation and security
// checks complete before any network I/O.
func (e *Executor) Execute(ctx context.Context, resolved *config.Resolved, params map[string]any) (*Response, error) {
	bound, err := bindParameters(resolved.Endpoint, params)
	if err != nil {
		return nil, err
	}

	rawURL, err := buildURL(resolved.BaseURL, resolved.Endpoint.Path, bound)
	if err != nil {
		return nil, err
	}

	policy := Policy{
		AllowedHosts:      resolved.API.AllowedHosts,
		AllowPrivateHosts: resolved.Security.AllowPrivateHosts,
	}
	if len(policy.AllowedHosts) == 0 {
		policy.AllowedHosts = resolved.Security.AllowedHosts
	}
	if err := ValidateURL(rawURL, policy); err != nil {
		if e.metrics != nil {
			e.metrics.SecurityBlock(resolved.API.Name)
		}
		return nil, err
	}
	ctx = context.WithValue(ctx, policyKey{}, policy)

	if err := e.limiters.wait(ctx, resolved.API.Name, resolved.API.RateLimit); err != nil {
		return nil, err
	}

	logger := e.logger.With(
		log.APIKey, resolved.API.Name,
		log.EndpointKey, resolved.Endpoint.Name,
	)

	timeout := time.Duration(resolved.Defaults.TimeoutSeconds) * time.Second
	start := time.Now()

	resp, err := executeWithRetry(ctx, resolved.Defaults.Retry, resolved.Endpoint.Method, func(ctx context.Context) (*Response, error) {
		return e.executeOnce(ctx, resolved, bound, rawURL, timeout, logger)
	})
	duration := time.Since(start)

	if e.metrics != nil {
		e.metrics.Call(resolved.API.Name, resolved.Endpoint.Name, statusLabel(resp, err), duration)
	}
	if err != nil {
		logger.Warn("call failed", "error", err, log.DurationKey, duration.Milliseconds())
		return nil, err
	}

	resp.Duration = duration
	logger.Info("call completed",
		"status", resp.StatusCode,
		"bytes", len(resp.Body),
		"attempts", resp.Attempts,
		log.DurationKey, duration.Milliseconds(),
	)
	return resp, nil
}

// Probe performs a single GET against rawURL under policy and reports
// the status code and latency. The response body is discarded. Used by
// configuration testing to check that a base URL is reachable.
func (e *Executor) Probe(ctx context.Context, rawURL string, policy Policy, defaults config.Defaults) (int, time.Duration, error) {
	if err := ValidateURL(rawURL, policy); err != nil {
		return 0, 0, err
	}
	ctx = context.WithValue(ctx, policyKey{}, policy)

	probeCtx, cancel := context.WithTimeout(ctx, time.Duration(defaults.TimeoutSeconds)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, 0, NewValidationError("url", err.Error())
	}
	req.Header.Set("User-Agent", defaults.UserAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := e.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, e.classifyRequestError(err, defaults.TimeoutSeconds)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode, latency, nil
}

// executeOnce performs a single attempt.
func (e *Executor) executeOnce(ctx context.Context, resolved *config.Resolved, bound *boundParams, rawURL string, timeout time.Duration, logger *slog.Logger) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if bound.body != nil {
		encoded, err := json.Marshal(bound.body)
		if err != nil {
			return nil, NewValidationError("body", fmt.Sprintf("cannot encode body parameters: %v", err))
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(attemptCtx, resolved.Endpoint.Method, rawURL, bodyReader)
	if err != nil {
		return nil, NewValidationError("request", err.Error())
	}

	req.Header.Set("User-Agent", resolved.Defaults.UserAgent)
	req.Header.Set("Accept", "application/json")
	if bound.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range bound.headers {
		req.Header.Set(name, value)
	}

	if err := ApplyAuth(req, resolved.Auth); err != nil {
		return nil, err
	}

	httpResp, err := e.client.Do(req)
	if err != nil {
		return nil, e.classifyRequestError(err, resolved.Defaults.TimeoutSeconds)
	}
	defer httpResp.Body.Close()

	limit := resolved.Defaults.MaxResponseBytes
	body, err := readCapped(httpResp.Body, limit)
	if err != nil {
		return nil, err
	}

	requestID := httpResp.Header.Get("X-Request-ID")

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		callErr := ErrorFromHTTPStatus(httpResp.StatusCode, http.StatusText(httpResp.StatusCode), body, requestID)
		if retryAfter := httpResp.Header.Get("Retry-After"); retryAfter != "" {
			callErr.RetryAfter = parseRetryAfter(retryAfter)
		}
		logger.Debug("upstream returned error status",
			"status", httpResp.StatusCode,
			"request_id", requestID,
			"body", truncate(string(body), 1024),
		)
		return nil, callErr
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
		Data:       decodeBody(body, httpResp.Header.Get("Content-Type")),
	}, nil
}

// readCapped reads at most limit bytes. One extra byte detects
// truncation so an oversized response errors instead of returning
// partial data.
func readCapped(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, NewConnectionError(fmt.Errorf("failed to read response body: %w", err))
	}
	if int64(len(body)) > limit {
		return nil, NewResponseTooLargeError(limit)
	}
	return body, nil
}

// decodeBody decodes a JSON body. Anything that does not parse as JSON
// is surfaced as its raw string.
func decodeBody(body []byte, contentType string) any {
	if len(body) == 0 {
		return nil
	}
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return string(body)
	}
	_ = contentType
	return data
}

// classifyRequestError maps transport-level failures to typed errors.
// A typed error raised inside the redirect check passes through intact.
func (e *Executor) classifyRequestError(err error, timeoutSeconds int) *Error {
	var callErr *Error
	if errors.As(err, &callErr) {
		return callErr
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return NewTimeoutError(timeoutSeconds)
	}
	if strings.Contains(err.Error(), "context deadline exceeded") {
		return NewTimeoutError(timeoutSeconds)
	}
	return NewConnectionError(err)
}

// parseRetryAfter parses a Retry-After header into whole seconds.
// Supports the numeric form and the HTTP-date form; malformed values
// yield 0 and the calculated backoff applies instead.
func parseRetryAfter(value string) int {
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return seconds
	}
	if when, err := http.ParseTime(value); err == nil {
		if delay := time.Until(when); delay > 0 {
			return int(delay.Seconds())
		}
	}
	return 0
}

// boundParams is the outcome of parameter binding: every caller value
// validated and placed per its declared location.
type boundParams struct {
	path    map[string]string
	query   url.Values
	headers map[string]string
	body    map[string]any
}

// bindParameters validates caller parameters against the endpoint
// definition and places them by location. Unknown names and missing
// required parameters are rejected here, before any network I/O.
func bindParameters(endpoint *config.Endpoint, params map[string]any) (*boundParams, error) {
	for name := range params {
		if _, declared := endpoint.Parameters[name]; !declared {
			return nil, NewUnknownParameterError(endpoint.Name, name)
		}
	}

	bound := &boundParams{
		path:    make(map[string]string),
		query:   url.Values{},
		headers: make(map[string]string),
	}

	for name, param := range endpoint.Parameters {
		value, provided := params[name]
		if !provided {
			if param.Default != nil {
				value = param.Default
			} else if param.Required {
				return nil, NewMissingParameterError(endpoint.Name, name)
			} else {
				continue
			}
		}

		if err := checkType(name, param.Type, value); err != nil {
			return nil, err
		}

		switch param.Location {
		case config.LocationPath:
			str, err := stringifyParam(name, value)
			if err != nil {
				return nil, err
			}
			if err := ValidatePathParameter(name, str); err != nil {
				return nil, err
			}
			bound.path[name] = str

		case config.LocationHeader:
			str, err := stringifyParam(name, value)
			if err != nil {
				return nil, err
			}
			if err := ValidateHeaderValue(name, str); err != nil {
				return nil, err
			}
			bound.headers[name] = str

		case config.LocationBody:
			if bound.body == nil {
				bound.body = make(map[string]any)
			}
			bound.body[name] = value

		default: // query
			str, err := stringifyParam(name, value)
			if err != nil {
				return nil, err
			}
			bound.query.Set(name, str)
		}
	}

	return bound, nil
}

// checkType validates a value against its declared parameter type.
// JSON numbers arrive as float64; integer parameters accept integral
// floats.
func checkType(name, declaredType string, value any) error {
	switch declaredType {
	case "string":
		if _, ok := value.(string); !ok {
			return NewValidationError(name, fmt.Sprintf("expected string, got %T", value))
		}
	case "integer":
		switch v := value.(type) {
		case int, int32, int64:
		case float64:
			if v != float64(int64(v)) {
				return NewValidationError(name, fmt.Sprintf("expected integer, got %v", v))
			}
		default:
			return NewValidationError(name, fmt.Sprintf("expected integer, got %T", value))
		}
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64:
		default:
			return NewValidationError(name, fmt.Sprintf("expected number, got %T", value))
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return NewValidationError(name, fmt.Sprintf("expected boolean, got %T", value))
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return NewValidationError(name, fmt.Sprintf("expected array, got %T", value))
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return NewValidationError(name, fmt.Sprintf("expected object, got %T", value))
		}
	}
	return nil
}

// stringifyParam renders a scalar parameter for a URL or header slot.
// Arrays join with commas; objects have no wire form outside the body.
func stringifyParam(name string, value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10), nil
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			str, err := stringifyParam(name, item)
			if err != nil {
				return "", err
			}
			parts = append(parts, str)
		}
		return strings.Join(parts, ","), nil
	default:
		return "", NewValidationError(name, fmt.Sprintf("value of type %T cannot be placed in URL or header", value))
	}
}

// buildURL joins the base URL and path template, substituting
// path-escaped parameter values and attaching the query string.
func buildURL(baseURL, pathTemplate string, bound *boundParams) (string, error) {
	path := pathTemplate
	for name, value := range bound.path {
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(value))
	}

	full := strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(path, "/")
	parsed, err := url.Parse(full)
	if err != nil {
		return "", NewValidationError("url", err.Error())
	}

	if len(bound.query) > 0 {
		existing := parsed.Query()
		for name, values := range bound.query {
			for _, value := range values {
				existing.Set(name, value)
			}
		}
		parsed.RawQuery = existing.Encode()
	}

	return parsed.String(), nil
}

// truncate bounds a string for debug logging.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// statusLabel renders the metrics outcome label for a finished call.
func statusLabel(resp *Response, err error) string {
	if err == nil {
		return strconv.Itoa(resp.StatusCode)
	}
	if callErr, ok := err.(*Error); ok {
		return string(callErr.Type)
	}
	return "error"
}
