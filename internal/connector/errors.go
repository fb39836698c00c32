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
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// ErrorType classifies call errors for retry logic and reporting.
type ErrorType string

const (
	// ErrorTypeAuth indicates authentication or authorization failure (401, 403)
	ErrorTypeAuth ErrorType = "auth_error"

	// ErrorTypeNotFound indicates resource not found (404)
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeValidation indicates invalid request data (400, 422)
	ErrorTypeValidation ErrorType = "validation_error"

	// ErrorTypeUnknownParameter indicates a parameter not declared by the endpoint
	ErrorTypeUnknownParameter ErrorType = "unknown_parameter"

	// ErrorTypeMissingParameter indicates a required parameter was omitted
	ErrorTypeMissingParameter ErrorType = "missing_parameter"

	// ErrorTypeRateLimit indicates rate limit exceeded (429)
	ErrorTypeRateLimit ErrorType = "rate_limited"

	// ErrorTypeServer indicates server-side error (500, 502, 503, 504)
	ErrorTypeServer ErrorType = "server_error"

	// ErrorTypeTimeout indicates the call timed out
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeConnection indicates network/DNS error
	ErrorTypeConnection ErrorType = "connection_error"

	// ErrorTypeSSRF indicates SSRF protection blocked the request
	ErrorTypeSSRF ErrorType = "ssrf_blocked"

	// ErrorTypePathInjection indicates path traversal attempt blocked
	ErrorTypePathInjection ErrorType = "path_injection"

	// ErrorTypeResponseTooLarge indicates the response exceeded the size ceiling
	ErrorTypeResponseTooLarge ErrorType = "response_too_large"
)

// Error represents a call execution error with classification.
type Error struct {
	// Type classifies the error for retry logic
	Type ErrorType

	// Message is the human-readable error description
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// RetryAfter indicates when to retry, in seconds (rate limit errors)
	RetryAfter int

	// SuggestText provides guidance on how to resolve the error
	SuggestText string

	// RequestID from the remote service
	RequestID string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("CallError: %s", e.Message)

	if e.Type != "" {
		msg = fmt.Sprintf("%s (type: %s)", msg, e.Type)
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("%s (request-id: %s)", msg, e.RequestID)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}

	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable returns true if this error type may be retried. Whether a
// retry actually happens additionally depends on the method being
// idempotent and the status code being configured as retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeServer, ErrorTypeTimeout, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// ClassifyHTTPStatus classifies an HTTP status code into an error type.
func ClassifyHTTPStatus(statusCode int) ErrorType {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrorTypeAuth
	case statusCode == http.StatusNotFound:
		return ErrorTypeNotFound
	case statusCode == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case statusCode == http.StatusRequestTimeout:
		return ErrorTypeTimeout
	case statusCode >= 500:
		return ErrorTypeServer
	default:
		return ErrorTypeValidation
	}
}

// maxBodySnippet bounds how much of an error response body is carried
// in the error. Bodies are never included verbatim beyond this.
const maxBodySnippet = 256

// ErrorFromHTTPStatus creates an Error from a non-2xx HTTP response.
// Only a short snippet of the body is carried; full bodies are logged
// separately with the request ID.
func ErrorFromHTTPStatus(statusCode int, statusText string, body []byte, requestID string) *Error {
	errType := ClassifyHTTPStatus(statusCode)

	message := fmt.Sprintf("%d %s", statusCode, statusText)
	if len(body) > 0 {
		snippet := string(body)
		if len(snippet) > maxBodySnippet {
			// The byte cut can land inside a multi-byte rune; drop any
			// trailing partial sequence.
			snippet = strings.ToValidUTF8(snippet[:maxBodySnippet], "") + "..."
		}
		message = fmt.Sprintf("%s: %s", message, snippet)
	}

	err := &Error{
		Type:       errType,
		StatusCode: statusCode,
		Message:    message,
		RequestID:  requestID,
	}

	switch errType {
	case ErrorTypeAuth:
		err.SuggestText = "Check authentication credentials and permissions"
	case ErrorTypeNotFound:
		err.SuggestText = "Verify the resource exists and the path is correct"
	case ErrorTypeValidation:
		err.SuggestText = "Check call parameters against the endpoint definition"
	case ErrorTypeRateLimit:
		err.SuggestText = "Wait for the rate limit window or configure rate_limit on the API"
	case ErrorTypeServer:
		err.SuggestText = "Retry or contact the service provider"
	}

	return err
}

// NewUnknownParameterError creates an error for a parameter the
// endpoint does not declare.
func NewUnknownParameterError(endpoint, param string) *Error {
	return &Error{
		Type:        ErrorTypeUnknownParameter,
		Message:     fmt.Sprintf("endpoint %q does not declare parameter %q", endpoint, param),
		SuggestText: "Check the endpoint definition for the declared parameter names",
	}
}

// NewMissingParameterError creates an error for an omitted required
// parameter.
func NewMissingParameterError(endpoint, param string) *Error {
	return &Error{
		Type:        ErrorTypeMissingParameter,
		Message:     fmt.Sprintf("endpoint %q requires parameter %q", endpoint, param),
		SuggestText: "Provide a value for the required parameter",
	}
}

// NewValidationError creates an error for a parameter value that does
// not match its declared schema.
func NewValidationError(param, reason string) *Error {
	return &Error{
		Type:        ErrorTypeValidation,
		Message:     fmt.Sprintf("parameter %q: %s", param, reason),
		SuggestText: "Check the parameter value against its declared type",
	}
}

// NewResponseTooLargeError creates an error for responses exceeding the
// configured size ceiling. No partial data is returned.
func NewResponseTooLargeError(limit int64) *Error {
	return &Error{
		Type:        ErrorTypeResponseTooLarge,
		Message:     fmt.Sprintf("response exceeds the %d byte ceiling", limit),
		SuggestText: "Narrow the request or raise defaults.max_response_bytes",
	}
}

// ipAddressPattern matches IPv4 addresses.
var ipAddressPattern = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)

// redactIPAddresses replaces IP addresses in a string with [REDACTED_IP].
func redactIPAddresses(s string) string {
	return ipAddressPattern.ReplaceAllString(s, "[REDACTED_IP]")
}

// NewSSRFError creates an error for SSRF protection blocks. The message
// shown to callers is sanitized to avoid leaking internal IP addresses.
func NewSSRFError(host string) *Error {
	sanitizedHost := redactIPAddresses(host)

	return &Error{
		Type:        ErrorTypeSSRF,
		Message:     fmt.Sprintf("request blocked by security policy (host: %s)", sanitizedHost),
		SuggestText: "Add the host to allowed_hosts if access is intentional",
	}
}

// NewPathInjectionError creates an error for path traversal attempts.
// The offending value is not included, to avoid echoing attack vectors.
func NewPathInjectionError(param string) *Error {
	return &Error{
		Type:        ErrorTypePathInjection,
		Message:     fmt.Sprintf("path parameter %q contains invalid characters", param),
		SuggestText: "Remove path traversal sequences (../, %2e%2e) from path parameters",
	}
}

// NewConnectionError creates an error for network/DNS failures.
func NewConnectionError(cause error) *Error {
	return &Error{
		Type:        ErrorTypeConnection,
		Message:     "connection failed",
		Cause:       cause,
		SuggestText: "Check network connectivity and DNS resolution",
	}
}

// NewTimeoutError creates an error for call timeouts.
func NewTimeoutError(timeout int) *Error {
	return &Error{
		Type:        ErrorTypeTimeout,
		Message:     fmt.Sprintf("call timed out after %d seconds", timeout),
		SuggestText: "Increase defaults.timeout_seconds or check service responsiveness",
	}
}
