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

// Package engine orchestrates declarative API calls: it resolves
// definitions from the registry, executes requests through the
// connector, applies transforms, and optionally stores results into
// sessions.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/szqshan/apiconnect/internal/config"
	"github.com/szqshan/apiconnect/internal/connector"
	"github.com/szqshan/apiconnect/internal/jq"
	"github.com/szqshan/apiconnect/internal/log"
	"github.com/szqshan/apiconnect/internal/metrics"
	"github.com/szqshan/apiconnect/internal/storage"
	"github.com/szqshan/apiconnect/internal/transform"
)

// tracerName identifies this instrumentation scope.
const tracerName = "github.com/szqshan/apiconnect/internal/engine"

// Engine is the call orchestrator. All methods are safe for concurrent
// use.
type Engine struct {
	registry *config.Registry
	executor *connector.Executor
	store    *storage.Store
	jq       *jq.Executor
	logger   *slog.Logger
	metrics  *metrics.Collector
	tracer   trace.Tracer
}

// Config assembles an Engine.
type Config struct {
	// Registry serves API definitions (required).
	Registry *config.Registry

	// Executor performs HTTP calls (required).
	Executor *connector.Executor

	// Store persists session data (optional; session operations fail
	// without it).
	Store *storage.Store

	// Logger for structured logging (optional).
	Logger *slog.Logger

	// Metrics collector (optional).
	Metrics *metrics.Collector
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		registry: cfg.Registry,
		executor: cfg.Executor,
		store:    cfg.Store,
		jq:       jq.NewExecutor(0, 0),
		logger:   logger,
		metrics:  cfg.Metrics,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// FetchRequest is one call invocation.
type FetchRequest struct {
	// API and Endpoint name the operation to invoke.
	API      string
	Endpoint string

	// Params are the caller-supplied parameter values.
	Params map[string]any

	// TransformSpec is the optional raw pipeline declaration.
	TransformSpec any

	// SessionID, when set, stores the result into that session instead
	// of returning the payload inline.
	SessionID string
}

// CallResult is the outcome of a fetch. Data and Stored are mutually
// exclusive: a stored call returns a storage summary, not the payload.
type CallResult struct {
	// CallID uniquely identifies this invocation in logs and traces.
	CallID string `json:"call_id"`

	// API and Endpoint echo the invoked operation.
	API      string `json:"api"`
	Endpoint string `json:"endpoint"`

	// StatusCode is the upstream HTTP status.
	StatusCode int `json:"status_code"`

	// DurationMs covers the whole call including retries.
	DurationMs int64 `json:"duration_ms"`

	// Attempts is how many HTTP attempts the call took.
	Attempts int `json:"attempts"`

	// RecordCount is the number of records after transformation (1 for
	// a single object).
	RecordCount int `json:"record_count"`

	// Data is the transformed payload. Nil when stored in a session.
	Data any `json:"data,omitempty"`

	// Stored summarizes the storage outcome for session-bound calls.
	Stored *StoredResult `json:"stored,omitempty"`
}

// StoredResult summarizes a session append.
type StoredResult struct {
	SessionID   string `json:"session_id"`
	RecordID    int64  `json:"record_id"`
	RecordCount int    `json:"record_count"`
}

// Fetch invokes one configured endpoint. The transform spec is parsed
// before any network I/O so a malformed spec never costs a request.
func (e *Engine) Fetch(ctx context.Context, req FetchRequest) (*CallResult, error) {
	callID := uuid.NewString()

	ctx, span := e.tracer.Start(ctx, "engine.Fetch", trace.WithAttributes(
		attribute.String("apiconnect.api", req.API),
		attribute.String("apiconnect.endpoint", req.Endpoint),
		attribute.String("apiconnect.call_id", callID),
	))
	defer span.End()

	logger := log.WithCall(e.logger, callID, req.API, req.Endpoint)

	spec, err := transform.ParseSpec(req.TransformSpec)
	if err != nil {
		return nil, err
	}

	if req.SessionID != "" {
		if e.store == nil {
			return nil, fmt.Errorf("session storage is not configured")
		}
		// Validate the session before spending a network call.
		session, err := e.store.GetSession(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		if session.Status == storage.StatusClosed {
			return nil, fmt.Errorf("session %q: %w", req.SessionID, storage.ErrSessionClosed)
		}
	}

	resolved, err := e.registry.Resolve(req.API, req.Endpoint)
	if err != nil {
		return nil, err
	}

	resp, err := e.executor.Execute(ctx, resolved, req.Params)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	data := resp.Data
	if resolved.Endpoint.ResponseTransform != "" {
		data, err = e.jq.Execute(ctx, resolved.Endpoint.ResponseTransform, data)
		if err != nil {
			return nil, &transform.Error{
				Kind:   transform.ErrInvalidSpec,
				Reason: fmt.Sprintf("response_transform failed: %v", err),
			}
		}
	}

	transformed, err := transform.Apply(data, spec)
	if err != nil {
		return nil, err
	}

	result := &CallResult{
		CallID:      callID,
		API:         req.API,
		Endpoint:    req.Endpoint,
		StatusCode:  resp.StatusCode,
		DurationMs:  resp.Duration.Milliseconds(),
		Attempts:    resp.Attempts,
		RecordCount: countRecords(transformed),
	}

	if req.SessionID == "" {
		result.Data = transformed
		return result, nil
	}

	recordID, err := e.store.Append(ctx, req.SessionID, req.API, req.Endpoint, callID, transformed)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.SessionRecord(req.API)
	}

	session, err := e.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	result.Stored = &StoredResult{
		SessionID:   req.SessionID,
		RecordID:    recordID,
		RecordCount: session.RecordCount,
	}
	logger.Info("result stored in session",
		log.SessionKey, req.SessionID,
		"record_id", recordID,
	)
	return result, nil
}

// countRecords reports how many records a transformed payload holds.
func countRecords(data any) int {
	switch v := data.(type) {
	case []any:
		return len(v)
	case nil:
		return 0
	default:
		return 1
	}
}

// PreviewRequest asks for a truncated look at an endpoint's data.
type PreviewRequest struct {
	API      string
	Endpoint string
	Params   map[string]any

	// TransformSpec optionally shapes the data before truncation.
	TransformSpec any

	// MaxItems bounds how many records the preview shows (default 10).
	MaxItems int
}

// PreviewResult is a truncated view of a call's data.
type PreviewResult struct {
	CallID       string `json:"call_id"`
	API          string `json:"api"`
	Endpoint     string `json:"endpoint"`
	DataType     string `json:"data_type"`
	TotalRecords int    `json:"total_records"`
	Truncated    bool   `json:"truncated"`
	Preview      any    `json:"preview"`
}

// Preview fetches an endpoint and returns a bounded sample of the
// result, for inspecting an API's shape before building pipelines.
func (e *Engine) Preview(ctx context.Context, req PreviewRequest) (*PreviewResult, error) {
	maxItems := req.MaxItems
	if maxItems <= 0 {
		maxItems = 10
	}

	result, err := e.Fetch(ctx, FetchRequest{
		API:           req.API,
		Endpoint:      req.Endpoint,
		Params:        req.Params,
		TransformSpec: req.TransformSpec,
	})
	if err != nil {
		return nil, err
	}

	preview := &PreviewResult{
		CallID:       result.CallID,
		API:          req.API,
		Endpoint:     req.Endpoint,
		TotalRecords: result.RecordCount,
		Preview:      result.Data,
	}

	switch data := result.Data.(type) {
	case []any:
		preview.DataType = "sequence"
		if len(data) > maxItems {
			preview.Preview = data[:maxItems]
			preview.Truncated = true
		}
	case map[string]any:
		preview.DataType = "object"
	case nil:
		preview.DataType = "empty"
	default:
		preview.DataType = "scalar"
	}

	return preview, nil
}

// CreateSession creates a storage session. An api/endpoint binding is
// checked against the current configuration so a session cannot be
// bound to an operation that does not exist.
func (e *Engine) CreateSession(ctx context.Context, spec storage.NewSession) (*storage.Session, error) {
	if e.store == nil {
		return nil, fmt.Errorf("session storage is not configured")
	}
	if spec.API != "" {
		api, ok := e.registry.Snapshot().APIs[spec.API]
		if !ok {
			return nil, fmt.Errorf("unknown API %q", spec.API)
		}
		if spec.Endpoint != "" {
			if _, ok := api.Endpoints[spec.Endpoint]; !ok {
				return nil, fmt.Errorf("API %q has no endpoint %q", spec.API, spec.Endpoint)
			}
		}
	} else if spec.Endpoint != "" {
		return nil, fmt.Errorf("endpoint %q given without an API", spec.Endpoint)
	}
	return e.store.CreateSession(ctx, spec)
}

// ListSessions lists sessions, optionally including closed ones.
func (e *Engine) ListSessions(ctx context.Context, includeClosed bool) ([]*storage.Session, error) {
	if e.store == nil {
		return nil, fmt.Errorf("session storage is not configured")
	}
	return e.store.ListSessions(ctx, includeClosed)
}

// CloseSession closes a session, keeping its records readable.
func (e *Engine) CloseSession(ctx context.Context, sessionID string) (*storage.Session, error) {
	if e.store == nil {
		return nil, fmt.Errorf("session storage is not configured")
	}
	return e.store.CloseSession(ctx, sessionID)
}

// SessionRecords pages through a session's stored records.
func (e *Engine) SessionRecords(ctx context.Context, sessionID string, limit, offset int) ([]*storage.Record, error) {
	if e.store == nil {
		return nil, fmt.Errorf("session storage is not configured")
	}
	return e.store.Records(ctx, sessionID, limit, offset)
}
