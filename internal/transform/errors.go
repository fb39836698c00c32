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

package transform

import "fmt"

// ErrorKind classifies transform errors.
type ErrorKind string

const (
	// ErrInvalidSpec indicates a malformed pipeline declaration.
	ErrInvalidSpec ErrorKind = "invalid_spec"

	// ErrUnsupportedInput indicates the input shape cannot carry the
	// declared pipeline (e.g. a bare scalar).
	ErrUnsupportedInput ErrorKind = "unsupported_input"
)

// Error is a structured transform error.
type Error struct {
	Kind   ErrorKind
	Reason string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("transform error (%s): %s", e.Kind, e.Reason)
}

// newInvalidSpec creates an ErrInvalidSpec error.
func newInvalidSpec(format string, args ...any) *Error {
	return &Error{Kind: ErrInvalidSpec, Reason: fmt.Sprintf(format, args...)}
}
