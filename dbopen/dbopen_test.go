package dbopen_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/yu320/NBot/dbopen"
)

func TestOpenMemoryPragmas(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithBusyTimeout(5000))

	var sync, busy int
	if err := db.QueryRow("PRAGMA synchronous").Scan(&sync); err != nil {
		t.Fatal(err)
	}
	if sync != 1 {
		t.Fatalf("synchronous = %d, want 1 (NORMAL)", sync)
	}
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busy); err != nil {
		t.Fatal(err)
	}
	if busy != 5000 {
		t.Fatalf("busy_timeout = %d, want 5000", busy)
	}
}

func TestOpenFileIsWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "history.db")
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(`CREATE TABLE IF NOT EXISTS t (id TEXT PRIMARY KEY)`))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q", mode)
	}
	if _, err := dbopen.Exec(context.Background(), db, `INSERT INTO t (id) VALUES (?)`, "a"); err != nil {
		t.Fatal(err)
	}
}

func TestBadSchemaFails(t *testing.T) {
	if _, err := dbopen.Open(":memory:", dbopen.WithSchema("CREATE TABLE")); err == nil {
		t.Fatal("expected schema error")
	}
}

func TestIsBusy(t *testing.T) {
	if !dbopen.IsBusy(errors.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Fatal("locked error not detected")
	}
	if dbopen.IsBusy(nil) || dbopen.IsBusy(errors.New("no such table")) {
		t.Fatal("false positive")
	}
}
