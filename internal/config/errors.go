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

import "fmt"

// ErrorKind classifies configuration errors.
type ErrorKind string

const (
	// ErrUnknownAPI indicates the named API is not configured.
	ErrUnknownAPI ErrorKind = "unknown_api"

	// ErrUnknownEndpoint indicates the endpoint does not exist on the API.
	ErrUnknownEndpoint ErrorKind = "unknown_endpoint"

	// ErrDisabledAPI indicates the API is configured but disabled.
	ErrDisabledAPI ErrorKind = "disabled_api"

	// ErrMissingSecret indicates a ${VAR} reference could not be resolved.
	ErrMissingSecret ErrorKind = "missing_secret"

	// ErrInvalidDefinition indicates a malformed definition rejected at
	// load time.
	ErrInvalidDefinition ErrorKind = "invalid_definition"
)

// Error is a structured configuration error.
type Error struct {
	// Kind classifies the error.
	Kind ErrorKind

	// Name identifies the api, endpoint, or field involved.
	Name string

	// Reason is the human-readable cause.
	Reason string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("config error (%s)", e.Kind)
	if e.Name != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Name)
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
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

// newInvalid creates an ErrInvalidDefinition error.
func newInvalid(name, format string, args ...any) *Error {
	return &Error{
		Kind:   ErrInvalidDefinition,
		Name:   name,
		Reason: fmt.Sprintf(format, args...),
	}
}
