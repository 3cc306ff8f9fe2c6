package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func widgetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "create widgets",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
				return err
			},
		},
		{
			Version:     2,
			Description: "add colour",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`ALTER TABLE widgets ADD COLUMN colour TEXT NOT NULL DEFAULT ''`)
				return err
			},
		},
	}
}

func TestMigrate_AppliesOnce(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := s.Migrate(ctx, "widgets", widgetMigrations()); err != nil {
		t.Fatalf("first Migrate: %v", err)
	}
	// A second run must skip both versions; re-running ALTER TABLE would fail.
	if err := s.Migrate(ctx, "widgets", widgetMigrations()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	var count int
	if err := s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM _migrations WHERE component = 'widgets'").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("applied migrations = %d, want 2", count)
	}
}

func TestMigrate_FailureRollsBack(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	boom := errors.New("boom")
	err = s.Migrate(ctx, "broken", []Migration{{
		Version:     1,
		Description: "fails",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`CREATE TABLE half (id INTEGER)`); err != nil {
				return err
			}
			return boom
		},
	}})
	if !errors.Is(err, boom) {
		t.Fatalf("Migrate error = %v, want boom", err)
	}

	var n int
	if err := s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE name = 'half'").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Error("table from failed migration should have been rolled back")
	}
}

func TestNew_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state", "hubnet.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New(%q): %v", path, err)
	}
	defer s.Close()

	var mode string
	if err := s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestTx_RollbackOnError(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if _, err := s.DB().Exec(`CREATE TABLE kv (k TEXT PRIMARY KEY)`); err != nil {
		t.Fatal(err)
	}
	sentinel := errors.New("abort")
	err = s.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO kv (k) VALUES ('a')`); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Tx error = %v, want sentinel", err)
	}
	var n int
	_ = s.DB().QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&n)
	if n != 0 {
		t.Errorf("rows = %d, want 0 after rollback", n)
	}
}
