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

// Package storage persists API call results into named sessions backed
// by SQLite. Sessions are append-only logs: records are never updated
// or deduplicated, and closing a session only stops further appends.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Sentinel errors for session lifecycle violations.
var (
	ErrDuplicateSession = errors.New("session already exists")
	ErrUnknownSession   = errors.New("unknown session")
	ErrSessionClosed    = errors.New("session is closed")
)

// Session statuses.
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// Session is a named append-only container for call results. API and
// Endpoint, when set, record which operation the session was created
// to collect; records themselves carry their own provenance.
type Session struct {
	ID          string     `json:"session_id"`
	API         string     `json:"api,omitempty"`
	Endpoint    string     `json:"endpoint,omitempty"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	RecordCount int        `json:"record_count"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// Record is one stored call result.
type Record struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	API       string    `json:"api"`
	Endpoint  string    `json:"endpoint"`
	CallID    string    `json:"call_id,omitempty"`
	Data      any       `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// Operation is one audit log entry for a session.
type Operation struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"operation"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the SQLite-backed session store. Safe for concurrent use:
// appends to the same session serialize on a per-session mutex so the
// record insert and counter update commit atomically.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu        sync.Mutex
	sessionMu map[string]*sync.Mutex
}

// Open opens (creating if needed) the session database at path and runs
// migrations. Use ":memory:" for an ephemeral store in tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	connStr := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=ON"
	maxConns := 5
	if path == ":memory:" {
		// A second connection to :memory: would open a second database.
		connStr = path
		maxConns = 1
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{
		db:        db,
		logger:    logger,
		sessionMu: make(map[string]*sync.Mutex),
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the schema.
func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			api_name TEXT,
			endpoint_name TEXT,
			name TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			record_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			closed_at TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			api_name TEXT NOT NULL,
			endpoint_name TEXT NOT NULL,
			call_id TEXT,
			data_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS operations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			detail TEXT,
			created_at TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_records_session
			ON records(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_operations_session
			ON operations(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status
			ON sessions(status)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// sessionLock returns the mutex serializing appends for one session.
func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.sessionMu[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		s.sessionMu[sessionID] = mu
	}
	return mu
}

// NewSession describes a session to create. Every field is optional:
// an empty ID generates a fresh UUID and an empty Name falls back to
// the id.
type NewSession struct {
	ID          string
	API         string
	Endpoint    string
	Name        string
	Description string
}

// CreateSession creates a new active session. Supplying an id that
// already exists fails with ErrDuplicateSession.
func (s *Store) CreateSession(ctx context.Context, spec NewSession) (*Session, error) {
	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}
	name := spec.Name
	if name == "" {
		name = id
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, api_name, endpoint_name, name, description, status, record_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id, spec.API, spec.Endpoint, name, spec.Description, StatusActive,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("session %q: %w", id, ErrDuplicateSession)
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logOperation(ctx, id, "create", name)
	s.logger.Info("session created", "session_id", id, "name", name)

	return &Session{
		ID:          id,
		API:         spec.API,
		Endpoint:    spec.Endpoint,
		Name:        name,
		Description: spec.Description,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// GetSession loads one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, api_name, endpoint_name, name, description, status, record_count, created_at, updated_at, closed_at
		 FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ListSessions returns sessions newest-first. Closed sessions are
// included only when includeClosed is set.
func (s *Store) ListSessions(ctx context.Context, includeClosed bool) ([]*Session, error) {
	query := `SELECT id, api_name, endpoint_name, name, description, status, record_count, created_at, updated_at, closed_at
		FROM sessions`
	if !includeClosed {
		query += ` WHERE status = 'active'`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// CloseSession marks a session closed. Stored records stay readable;
// further appends fail with ErrSessionClosed. Closing twice is an
// ErrSessionClosed error so callers notice the earlier close.
func (s *Store) CloseSession(ctx context.Context, id string) (*Session, error) {
	mu := s.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status == StatusClosed {
		return nil, fmt.Errorf("session %q: %w", id, ErrSessionClosed)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, closed_at = ?, updated_at = ? WHERE id = ?`,
		StatusClosed, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to close session: %w", err)
	}

	s.logOperation(ctx, id, "close", fmt.Sprintf("%d records", session.RecordCount))
	s.logger.Info("session closed", "session_id", id, "records", session.RecordCount)

	session.Status = StatusClosed
	session.ClosedAt = &now
	session.UpdatedAt = now
	return session, nil
}

// DeleteSession removes a session and its records.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	mu := s.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("session %q: %w", id, ErrUnknownSession)
	}

	s.logOperation(ctx, id, "delete", "")
	return nil
}

// Append stores one call result in a session. The record insert and
// the session counter update commit in one transaction, so concurrent
// appends never lose or double-count records.
func (s *Store) Append(ctx context.Context, sessionID, api, endpoint, callID string, data any) (int64, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("failed to encode record: %w", err)
	}

	mu := s.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, sessionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("session %q: %w", sessionID, ErrUnknownSession)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to check session: %w", err)
	}
	if status == StatusClosed {
		return 0, fmt.Errorf("session %q: %w", sessionID, ErrSessionClosed)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := tx.ExecContext(ctx,
		`INSERT INTO records (session_id, api_name, endpoint_name, call_id, data_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, api, endpoint, callID, string(encoded), now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert record: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET record_count = record_count + 1, updated_at = ? WHERE id = ?`,
		now, sessionID,
	); err != nil {
		return 0, fmt.Errorf("failed to update session counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit append: %w", err)
	}

	recordID, _ := result.LastInsertId()
	s.logOperation(ctx, sessionID, "append", fmt.Sprintf("%s.%s", api, endpoint))
	return recordID, nil
}

// Records returns a session's records in insertion order. A limit of 0
// returns everything from offset onward.
func (s *Store) Records(ctx context.Context, sessionID string, limit, offset int) ([]*Record, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	query := `SELECT id, session_id, api_name, endpoint_name, call_id, data_json, created_at
		FROM records WHERE session_id = ? ORDER BY id`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	} else if offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		var callID sql.NullString
		var dataJSON, createdAt string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.API, &rec.Endpoint, &callID, &dataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.CallID = callID.String
		rec.CreatedAt = parseTime(createdAt)
		if err := json.Unmarshal([]byte(dataJSON), &rec.Data); err != nil {
			return nil, fmt.Errorf("corrupt record %d: %w", rec.ID, err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Operations returns a session's audit log, newest first.
func (s *Store) Operations(ctx context.Context, sessionID string, limit int) ([]*Operation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, operation, detail, created_at
		 FROM operations WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		var op Operation
		var detail sql.NullString
		var createdAt string
		if err := rows.Scan(&op.ID, &op.SessionID, &op.Kind, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		op.Detail = detail.String
		op.CreatedAt = parseTime(createdAt)
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

// logOperation records an audit entry. Audit failures are logged but
// never fail the primary operation.
func (s *Store) logOperation(ctx context.Context, sessionID, kind, detail string) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operations (session_id, operation, detail, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, kind, detail, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		s.logger.Warn("failed to record session operation", "session_id", sessionID, "operation", kind, "error", err)
	}
}

// scanner abstracts sql.Row and sql.Rows for scanSession.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var session Session
	var api, endpoint, description, closedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&session.ID, &api, &endpoint, &session.Name, &description,
		&session.Status, &session.RecordCount, &createdAt, &updatedAt, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	session.API = api.String
	session.Endpoint = endpoint.String
	session.Description = description.String
	session.CreatedAt = parseTime(createdAt)
	session.UpdatedAt = parseTime(updatedAt)
	if closedAt.Valid {
		t := parseTime(closedAt.String)
		session.ClosedAt = &t
	}
	return &session, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// isUniqueViolation detects a primary key conflict without depending on
// driver-specific error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint violation")
}
