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

package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSessionLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	session, err := store.CreateSession(ctx, NewSession{
		API:         "movies",
		Endpoint:    "top",
		Name:        "movie-night",
		Description: "top rated movies",
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if session.ID == "" {
		t.Fatal("CreateSession() generated empty id")
	}
	if session.Status != StatusActive {
		t.Errorf("Status = %q, want active", session.Status)
	}

	loaded, err := store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if loaded.Name != "movie-night" || loaded.Description != "top rated movies" {
		t.Errorf("loaded session = %+v", loaded)
	}
	if loaded.API != "movies" || loaded.Endpoint != "top" {
		t.Errorf("loaded binding = %q/%q, want movies/top", loaded.API, loaded.Endpoint)
	}

	if _, err := store.Append(ctx, session.ID, "movies", "top", "call-1", map[string]any{"title": "x"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	closed, err := store.CloseSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}
	if closed.Status != StatusClosed || closed.ClosedAt == nil {
		t.Errorf("closed session = %+v", closed)
	}

	// Appends after close must fail; stored data stays readable.
	if _, err := store.Append(ctx, session.ID, "movies", "top", "call-2", map[string]any{}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Append() after close error = %v, want ErrSessionClosed", err)
	}
	records, err := store.Records(ctx, session.ID, 0, 0)
	if err != nil {
		t.Fatalf("Records() after close error = %v", err)
	}
	if len(records) != 1 {
		t.Errorf("len(records) = %d, want 1", len(records))
	}

	if _, err := store.CloseSession(ctx, session.ID); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("second CloseSession() error = %v, want ErrSessionClosed", err)
	}
}

func TestCreateSession_Duplicate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateSession(ctx, NewSession{ID: "fixed-id", Name: "first"}); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	_, err := store.CreateSession(ctx, NewSession{ID: "fixed-id", Name: "second"})
	if !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("CreateSession() duplicate error = %v, want ErrDuplicateSession", err)
	}
}

func TestAppend_UnknownSession(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Append(context.Background(), "nope", "api", "ep", "", nil)
	if !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("Append() error = %v, want ErrUnknownSession", err)
	}
}

func TestAppend_PreservesOrderAndData(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	session, err := store.CreateSession(ctx, NewSession{Name: "ordered"})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		data := map[string]any{"seq": float64(i), "nested": map[string]any{"ok": true}}
		if _, err := store.Append(ctx, session.ID, "api", "ep", fmt.Sprintf("call-%d", i), data); err != nil {
			t.Fatalf("Append(%d) error = %v", i, err)
		}
	}

	records, err := store.Records(ctx, session.ID, 0, 0)
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("len(records) = %d, want 5", len(records))
	}
	for i, rec := range records {
		data := rec.Data.(map[string]any)
		if data["seq"] != float64(i) {
			t.Errorf("record %d seq = %v, want %d", i, data["seq"], i)
		}
		if rec.CallID != fmt.Sprintf("call-%d", i) {
			t.Errorf("record %d call id = %q", i, rec.CallID)
		}
	}

	loaded, err := store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.RecordCount != 5 {
		t.Errorf("RecordCount = %d, want 5", loaded.RecordCount)
	}
}

func TestRecords_Pagination(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	session, err := store.CreateSession(ctx, NewSession{Name: "paged"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if _, err := store.Append(ctx, session.ID, "api", "ep", "", map[string]any{"n": float64(i)}); err != nil {
			t.Fatal(err)
		}
	}

	page, err := store.Records(ctx, session.ID, 3, 4)
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("len(page) = %d, want 3", len(page))
	}
	if page[0].Data.(map[string]any)["n"] != float64(4) {
		t.Errorf("page starts at %v, want 4", page[0].Data)
	}
}

func TestConcurrentAppends(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	session, err := store.CreateSession(ctx, NewSession{Name: "concurrent"})
	if err != nil {
		t.Fatal(err)
	}

	const writers = 2
	const perWriter = 50

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				data := map[string]any{"writer": float64(w), "i": float64(i)}
				if _, err := store.Append(ctx, session.ID, "api", "ep", "", data); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Append() error = %v", err)
	}

	loaded, err := store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.RecordCount != writers*perWriter {
		t.Errorf("RecordCount = %d, want %d", loaded.RecordCount, writers*perWriter)
	}

	records, err := store.Records(ctx, session.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != writers*perWriter {
		t.Errorf("len(records) = %d, want %d", len(records), writers*perWriter)
	}
}

func TestListSessions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	active, err := store.CreateSession(ctx, NewSession{Name: "active-one"})
	if err != nil {
		t.Fatal(err)
	}
	toClose, err := store.CreateSession(ctx, NewSession{Name: "closed-one"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.CloseSession(ctx, toClose.ID); err != nil {
		t.Fatal(err)
	}

	sessions, err := store.ListSessions(ctx, false)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != active.ID {
		t.Errorf("active sessions = %+v, want only %s", sessions, active.ID)
	}

	all, err := store.ListSessions(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("len(all) = %d, want 2", len(all))
	}
}

func TestDeleteSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	session, err := store.CreateSession(ctx, NewSession{Name: "doomed"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Append(ctx, session.ID, "api", "ep", "", map[string]any{}); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteSession(ctx, session.ID); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, err := store.GetSession(ctx, session.ID); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("GetSession() after delete error = %v, want ErrUnknownSession", err)
	}
	if err := store.DeleteSession(ctx, session.ID); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("second DeleteSession() error = %v, want ErrUnknownSession", err)
	}
}

func TestOperationsAudit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	session, err := store.CreateSession(ctx, NewSession{Name: "audited"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Append(ctx, session.ID, "weather", "current", "", map[string]any{}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.CloseSession(ctx, session.ID); err != nil {
		t.Fatal(err)
	}

	ops, err := store.Operations(ctx, session.ID, 10)
	if err != nil {
		t.Fatalf("Operations() error = %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("len(ops) = %d, want 3", len(ops))
	}
	// Newest first: close, append, create.
	if ops[0].Kind != "close" || ops[1].Kind != "append" || ops[2].Kind != "create" {
		t.Errorf("operations = %s/%s/%s, want close/append/create", ops[0].Kind, ops[1].Kind, ops[2].Kind)
	}
	if ops[1].Detail != "weather.current" {
		t.Errorf("append detail = %q", ops[1].Detail)
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	store, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	session, err := store.CreateSession(ctx, NewSession{Name: "durable"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Append(ctx, session.ID, "api", "ep", "", map[string]any{"v": float64(1)}); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	loaded, err := reopened.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession() after reopen error = %v", err)
	}
	if loaded.RecordCount != 1 {
		t.Errorf("RecordCount = %d, want 1", loaded.RecordCount)
	}
	records, err := reopened.Records(ctx, session.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Data.(map[string]any)["v"] != float64(1) {
		t.Errorf("records after reopen = %+v", records)
	}
}
