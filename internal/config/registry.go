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
	"log/slog"
	"sync/atomic"

	"github.com/szqshan/apiconnect/pkg/secrets"
)

// Registry serves API definitions to concurrent callers. The loaded
// document is read-mostly state: Reload builds a complete replacement
// and swaps a single pointer, so in-flight calls never observe a
// half-updated definition.
type Registry struct {
	path    string
	source  secrets.Source
	logger  *slog.Logger
	current atomic.Pointer[File]
}

// NewRegistry loads the configuration at path and returns a registry
// serving it. Secret references are resolved lazily at call time
// through source.
func NewRegistry(path string, source secrets.Source, logger *slog.Logger) (*Registry, error) {
	if source == nil {
		source = secrets.DefaultSource()
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{path: path, source: source, logger: logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewRegistryFromFile wraps an already-parsed document. Used by tests
// and embedders that manage loading themselves.
func NewRegistryFromFile(file *File, source secrets.Source) (*Registry, error) {
	if err := file.validate(); err != nil {
		return nil, err
	}
	if source == nil {
		source = secrets.DefaultSource()
	}
	r := &Registry{source: source, logger: slog.Default()}
	r.current.Store(file)
	return r, nil
}

// Reload re-reads the configuration and atomically swaps it in. On
// failure the previous document stays active.
func (r *Registry) Reload() error {
	if r.path == "" {
		return newInvalid("", "registry has no configuration path to reload")
	}
	file, err := Load(r.path)
	if err != nil {
		return err
	}
	r.current.Store(file)
	r.logger.Info("configuration loaded", "path", r.path, "apis", len(file.APIs))
	return nil
}

// Snapshot returns the active document. Callers must treat it as
// read-only.
func (r *Registry) Snapshot() *File {
	return r.current.Load()
}

// Defaults returns the active execution defaults.
func (r *Registry) Defaults() Defaults {
	return r.current.Load().Defaults
}

// Security returns the active security policy.
func (r *Registry) Security() Security {
	return r.current.Load().Security
}

// Resolved is a call-ready view of one endpoint: deep-copied from the
// active document with every ${VAR} reference expanded.
type Resolved struct {
	// API is the owning API definition (auth refs left unexpanded).
	API *API

	// Endpoint is the endpoint definition with expanded defaults.
	Endpoint *Endpoint

	// BaseURL is the expanded base URL.
	BaseURL string

	// Auth holds the expanded credentials ready for injection.
	Auth *ResolvedAuth

	// Defaults are the active execution defaults.
	Defaults Defaults

	// Security is the active security policy.
	Security Security
}

// ResolvedAuth carries expanded credential values. It exists only for
// the duration of one call and is never persisted or logged.
type ResolvedAuth struct {
	Type     string
	Location string
	Field    string
	Value    string
	Token    string
	Username string
	Password string
}

// Resolve looks up an endpoint and expands its secret references.
// Credential fields and the base URL are required: an unresolvable
// reference there fails with ErrMissingSecret. A parameter default with
// an unresolvable reference is dropped instead, since omitting an
// optional default is always safe.
func (r *Registry) Resolve(apiName, endpointName string) (*Resolved, error) {
	file := r.current.Load()

	api, ok := file.APIs[apiName]
	if !ok {
		return nil, &Error{Kind: ErrUnknownAPI, Name: apiName, Reason: "API not configured"}
	}
	if !api.IsEnabled() {
		return nil, &Error{Kind: ErrDisabledAPI, Name: apiName, Reason: "API is disabled"}
	}

	endpoint, ok := api.Endpoints[endpointName]
	if !ok {
		return nil, &Error{
			Kind:   ErrUnknownEndpoint,
			Name:   endpointName,
			Reason: fmt.Sprintf("endpoint not defined on API %q", apiName),
		}
	}

	baseURL, err := r.expandRequired(api.BaseURL, apiName+".base_url")
	if err != nil {
		return nil, err
	}

	auth, err := r.resolveAuth(api)
	if err != nil {
		return nil, err
	}

	ep := endpoint.clone()
	for name, param := range ep.Parameters {
		str, ok := param.Default.(string)
		if !ok || !secrets.HasRef(str) {
			continue
		}
		expanded, err := secrets.Expand(str, r.source)
		if err != nil {
			param.Default = nil
			r.logger.Debug("dropped unresolvable parameter default",
				"api", apiName, "endpoint", endpointName, "param", name)
			continue
		}
		param.Default = expanded
	}

	return &Resolved{
		API:      api,
		Endpoint: ep,
		BaseURL:  baseURL,
		Auth:     auth,
		Defaults: file.Defaults,
		Security: file.Security,
	}, nil
}

// resolveAuth expands the API's auth strategy. Secret resolution policy
// lives here, in one place; the injector downstream only copies values.
func (r *Registry) resolveAuth(api *API) (*ResolvedAuth, error) {
	if api.Auth == nil || api.Auth.Type == "" || api.Auth.Type == AuthNone {
		return &ResolvedAuth{Type: AuthNone}, nil
	}

	auth := &ResolvedAuth{
		Type:     api.Auth.Type,
		Location: api.Auth.Location,
		Field:    api.Auth.Field,
	}
	if auth.Location == "" {
		auth.Location = "header"
	}

	var err error
	name := api.Name + ".auth"
	switch api.Auth.Type {
	case AuthAPIKey:
		auth.Value, err = r.expandRequired(api.Auth.Value, name)
	case AuthBearer:
		auth.Token, err = r.expandRequired(api.Auth.Token, name)
	case AuthBasic:
		auth.Username, err = r.expandRequired(api.Auth.Username, name)
		if err == nil {
			auth.Password, err = r.expandRequired(api.Auth.Password, name)
		}
	}
	if err != nil {
		return nil, err
	}
	return auth, nil
}

// expandRequired expands refs in a required field, mapping a missing
// variable to ErrMissingSecret.
func (r *Registry) expandRequired(value, field string) (string, error) {
	expanded, err := secrets.Expand(value, r.source)
	if err != nil {
		return "", &Error{Kind: ErrMissingSecret, Name: field, Reason: "secret resolution failed", Cause: err}
	}
	return expanded, nil
}

// clone deep-copies an endpoint so expansion never mutates the shared
// document.
func (e *Endpoint) clone() *Endpoint {
	cp := *e
	cp.Parameters = make(map[string]*Parameter, len(e.Parameters))
	for name, param := range e.Parameters {
		p := *param
		cp.Parameters[name] = &p
	}
	return &cp
}
