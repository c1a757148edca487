package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStore_CreatesDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")

	// Verify the database file doesn't exist yet
	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Fatal("database file should not exist before creating store")
	}

	// Create the store, including missing parent directories
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file should exist after creating store")
	}
	if s.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", s.Path(), dbPath)
	}
}

func TestNewStore_RunsMigrations(t *testing.T) {
	s := newTestStore(t)

	tables := []string{"sessions", "session_signs", "transcripts"}
	for _, table := range tables {
		var name string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q should exist after migrations: %v", table, err)
		}
	}

	// Migrations are idempotent
	if err := s.runMigrations(); err != nil {
		t.Errorf("running migrations twice failed: %v", err)
	}
}

func TestStore_Close(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	// Close should not return an error
	if err := s.Close(); err != nil {
		t.Errorf("close should not return error: %v", err)
	}

	// After closing, DB operations should fail
	if _, err := s.DB().Exec("SELECT 1"); err == nil {
		t.Error("DB operations should fail after close")
	}
}

func TestStore_ForeignKeysEnabled(t *testing.T) {
	s := newTestStore(t)

	var fkEnabled int
	if err := s.DB().QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		t.Fatalf("failed to check foreign keys pragma: %v", err)
	}
	if fkEnabled != 1 {
		t.Error("foreign keys should be enabled")
	}
}

func TestStore_IndexesCreated(t *testing.T) {
	s := newTestStore(t)

	indexes := []string{
		"idx_session_signs_session_id",
		"idx_transcripts_created_at",
		"idx_transcripts_session_id",
	}
	for _, idx := range indexes {
		var name string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='index' AND name=?",
			idx,
		).Scan(&name)
		if err != nil {
			t.Errorf("index %q should exist after migrations: %v", idx, err)
		}
	}
}

func TestSessions_StartFinishGet(t *testing.T) {
	s := newTestStore(t)
	repo := s.Sessions()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := repo.Start("sess-1", 2, started); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	got, err := repo.Get("sess-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.DeviceID != 2 || !got.StartedAt.Equal(started) || got.StoppedAt != nil {
		t.Errorf("Get() before finish = %+v", got)
	}

	stopped := started.Add(time.Minute)
	signs := []string{"hello", "thanks", "unknown"}
	if err := repo.Finish("sess-1", stopped, signs, "detect: timeout"); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	got, err = repo.Get("sess-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.StoppedAt == nil || !got.StoppedAt.Equal(stopped) {
		t.Errorf("StoppedAt = %v, want %v", got.StoppedAt, stopped)
	}
	if got.SignCount != 3 || len(got.Signs) != 3 || got.Signs[2] != "unknown" {
		t.Errorf("signs = %d %v", got.SignCount, got.Signs)
	}
	if got.LastError != "detect: timeout" {
		t.Errorf("LastError = %q", got.LastError)
	}

	// Finishing again replaces the stored sequence
	if err := repo.Finish("sess-1", stopped, []string{"hello"}, ""); err != nil {
		t.Fatalf("second Finish() error = %v", err)
	}
	got, _ = repo.Get("sess-1")
	if len(got.Signs) != 1 {
		t.Errorf("signs after second finish = %v, want [hello]", got.Signs)
	}
}

func TestSessions_NotFound(t *testing.T) {
	repo := newTestStore(t).Sessions()

	if _, err := repo.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if err := repo.Finish("missing", time.Now(), nil, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Finish() error = %v, want ErrNotFound", err)
	}
	if err := repo.Delete("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
}

func TestTranscripts_CRUD(t *testing.T) {
	s := newTestStore(t)
	repo := s.Transcripts()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, sentence := range []string{"Hello.", "Thank you.", "Hello friend."} {
		tr := &Transcript{
			Signs:     []string{"hello"},
			Sentence:  sentence,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.Create(tr); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if tr.ID == "" {
			t.Fatal("Create() should assign an id")
		}
	}

	list, err := repo.List(2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List(2) returned %d transcripts", len(list))
	}
	if list[0].Sentence != "Hello friend." || list[1].Sentence != "Thank you." {
		t.Errorf("List() order = %q, %q", list[0].Sentence, list[1].Sentence)
	}

	id := list[0].ID
	if err := repo.MarkSpoken(id); err != nil {
		t.Fatalf("MarkSpoken() error = %v", err)
	}
	got, err := repo.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.Spoken || len(got.Signs) != 1 || got.Signs[0] != "hello" {
		t.Errorf("Get() = %+v", got)
	}

	if err := repo.Delete(id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.Get(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := repo.Delete(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestTranscripts_SessionReference(t *testing.T) {
	s := newTestStore(t)

	if err := s.Sessions().Start("sess-1", 0, time.Now()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	tr := &Transcript{SessionID: "sess-1", Signs: []string{"hello"}, Sentence: "Hello.", Fallback: true}
	if err := s.Transcripts().Create(tr); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Unknown sessions are rejected by the foreign key
	bad := &Transcript{SessionID: "missing", Sentence: "x"}
	if err := s.Transcripts().Create(bad); err == nil {
		t.Error("expected foreign key violation for unknown session")
	}

	if err := s.Sessions().Delete("sess-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	got, err := s.Transcripts().Get(tr.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.SessionID != "" || !got.Fallback {
		t.Errorf("transcript after session delete = %+v", got)
	}
}

func TestTranscripts_EmptySigns(t *testing.T) {
	repo := newTestStore(t).Transcripts()
	tr := &Transcript{Sentence: "Hi."}
	if err := repo.Create(tr); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	got, _ := repo.Get(tr.ID)
	if got.Signs == nil || len(got.Signs) != 0 {
		t.Errorf("Signs = %#v, want empty slice", got.Signs)
	}

	list, _ := repo.List(0)
	if len(list) != 1 {
		t.Errorf("List(0) = %d transcripts, want 1", len(list))
	}
}
