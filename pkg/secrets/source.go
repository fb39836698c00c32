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

// Package secrets provides secret resolution and masking for API
// credentials referenced from declarative configuration.
//
// Configuration never stores credential values directly; it stores
// ${VAR} references that are resolved at call time through a Source.
package secrets

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/zalando/go-keyring"
)

// Source resolves a secret reference name to its value.
type Source interface {
	// Lookup returns the value for name and whether it was found.
	Lookup(name string) (string, bool)
}

// EnvSource resolves secrets from process environment variables.
type EnvSource struct{}

// Lookup implements Source.
func (EnvSource) Lookup(name string) (string, bool) {
	return os.LookupEnv(name)
}

// KeyringSource resolves secrets from the OS keyring under a fixed
// service namespace.
type KeyringSource struct {
	// Service is the keyring service name (default: "apiconnect").
	Service string
}

// Lookup implements Source.
func (k KeyringSource) Lookup(name string) (string, bool) {
	service := k.Service
	if service == "" {
		service = "apiconnect"
	}
	value, err := keyring.Get(service, name)
	if err != nil {
		return "", false
	}
	return value, true
}

// StaticSource resolves secrets from a fixed map. Used in tests and for
// injecting pre-resolved values.
type StaticSource map[string]string

// Lookup implements Source.
func (s StaticSource) Lookup(name string) (string, bool) {
	value, ok := s[name]
	return value, ok
}

// ChainSource tries each source in order and returns the first hit.
type ChainSource []Source

// Lookup implements Source.
func (c ChainSource) Lookup(name string) (string, bool) {
	for _, src := range c {
		if value, ok := src.Lookup(name); ok {
			return value, ok
		}
	}
	return "", false
}

// DefaultSource resolves from the environment first, then the OS
// keyring.
func DefaultSource() Source {
	return ChainSource{EnvSource{}, KeyringSource{}}
}

// validRefName matches valid secret reference names (alphanumeric plus
// underscore, not starting with a digit).
var validRefName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// HasRef reports whether s contains a ${VAR} reference.
func HasRef(s string) bool {
	return strings.Contains(s, "${")
}

// Expand replaces every ${VAR} reference in value with the resolved
// secret. It returns an error for unclosed or malformed references and
// for references the source cannot resolve. Resolved values are copied
// verbatim and never re-scanned, so a credential containing "${" is
// not itself expanded.
func Expand(value string, source Source) (string, error) {
	if !HasRef(value) {
		return value, nil
	}

	var out strings.Builder
	rest := value
	for {
		start := strings.Index(rest, "${")
		if start == -1 {
			out.WriteString(rest)
			break
		}
		out.WriteString(rest[:start])

		end := strings.Index(rest[start:], "}")
		if end == -1 {
			return "", fmt.Errorf("malformed secret reference: unclosed ${")
		}
		end += start

		name := rest[start+2 : end]
		if !validRefName.MatchString(name) {
			return "", fmt.Errorf("invalid secret reference name: %q", name)
		}

		resolved, ok := source.Lookup(name)
		if !ok {
			return "", &MissingError{Name: name}
		}

		out.WriteString(resolved)
		rest = rest[end+1:]
	}

	return out.String(), nil
}

// MissingError reports a secret reference that could not be resolved.
type MissingError struct {
	Name string
}

// Error implements the error interface. The secret name is safe to
// print; the value never exists at this point.
func (e *MissingError) Error() string {
	return fmt.Sprintf("secret %q not found", e.Name)
}
