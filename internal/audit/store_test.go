package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"holectl/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "audit.db"), testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_FreshDB(t *testing.T) {
	s := testStore(t)
	v, err := schemaVersionOf(s.db)
	if err != nil {
		t.Fatal(err)
	}
	if v != schemaVersion {
		t.Errorf("expected schema version %d, got %d", schemaVersion, v)
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	for i := 0; i < 2; i++ {
		s, err := Open(path, testLogger())
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		s.Close()
	}
}

func TestMigrations_ResumeAfterPartialUpgrade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	// v1 applied, plus one v2 column added by hand without recording v2.
	if err := runMigrations(db, testLogger()); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("DELETE FROM schema_version WHERE version = 2"); err != nil {
		t.Fatal(err)
	}
	if err := runMigrations(db, testLogger()); err != nil {
		t.Fatalf("re-running v2 over existing columns failed: %v", err)
	}
	v, _ := schemaVersionOf(db)
	if v != schemaVersion {
		t.Errorf("expected schema version %d, got %d", schemaVersion, v)
	}
}

func TestRecordAndRecent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i := 0; i < 3; i++ {
		err := s.Record(ctx, domain.AuditEntry{
			ID:         fmt.Sprintf("id-%d", i),
			Action:     "block",
			Domain:     fmt.Sprintf("d%d.example", i),
			OK:         i != 1,
			Status:     201,
			Retried:    i == 2,
			DurationMS: int64(10 * i),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].ID != "id-2" || got[1].ID != "id-1" {
		t.Fatalf("expected newest first, got %s, %s", got[0].ID, got[1].ID)
	}
	if !got[0].Retried || got[0].DurationMS != 20 || got[0].Domain != "d2.example" {
		t.Fatalf("fields not round-tripped: %+v", got[0])
	}
	if got[1].OK {
		t.Fatal("expected second entry to be a failure")
	}
	if !got[0].CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("expected created_at %v, got %v", base.Add(2*time.Minute), got[0].CreatedAt)
	}
}

func TestRecord_DuplicateID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	e := domain.AuditEntry{ID: "same", Action: "status", OK: true}
	if err := s.Record(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, e); err == nil {
		t.Fatal("expected error for duplicate id")
	}
}

func TestPrune(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	s.Record(ctx, domain.AuditEntry{ID: "old", Action: "status", OK: true, CreatedAt: now.Add(-48 * time.Hour)})
	s.Record(ctx, domain.AuditEntry{ID: "new", Action: "status", OK: true, CreatedAt: now})

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
	got, _ := s.Recent(ctx, 10)
	if len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("expected only the new entry left, got %+v", got)
	}
}
