package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSQLiteBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "karaoke.db")

	backend, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	doc, err := Open(ctx, backend, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	err = doc.Update(ctx, map[string]any{
		"p1/player/queue/0": item(1, "Ann", "a.mp4"),
		"p2/player/state":   "playing",
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := doc.Remove(ctx, "p2"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	count, err := backend.CommitCount(ctx)
	if err != nil {
		t.Fatalf("CommitCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 logged commits, got %d", count)
	}

	if err := doc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	backend, err = OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	doc, err = Open(ctx, backend, nil)
	if err != nil {
		t.Fatalf("Open after reopen failed: %v", err)
	}
	defer doc.Close()

	name, ok, _ := doc.Get(ctx, "p1/player/queue/0/singer/name")
	if !ok || name != "Ann" {
		t.Errorf("Expected Ann after reopen, got %v (ok=%v)", name, ok)
	}
	if _, ok, _ := doc.Get(ctx, "p2"); ok {
		t.Error("Removed party should not come back after reopen")
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "karaoke.db")

	backend, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer backend.Close()

	if err := RunMigrations(backend.db); err != nil {
		t.Fatalf("Second migration run failed: %v", err)
	}

	var applied int
	if err := backend.db.QueryRow("SELECT COUNT(1) FROM schema_migrations").Scan(&applied); err != nil {
		t.Fatalf("Count migrations failed: %v", err)
	}
	if applied != 3 {
		t.Errorf("Expected 3 applied migrations, got %d", applied)
	}
}

func TestSQLiteBackend_AcquireRefusesLiveOwner(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "karaoke.db")

	server, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	if err := server.Acquire(ctx, "server"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	command, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("Second OpenSQLite failed: %v", err)
	}
	defer command.Close()

	err = command.Acquire(ctx, "reconcile")
	if !errors.Is(err, ErrHeld) {
		t.Fatalf("Expected ErrHeld while the server runs, got %v", err)
	}
	if !strings.Contains(err.Error(), "server") {
		t.Errorf("Expected the holder's role in %q", err)
	}

	if err := server.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := command.Acquire(ctx, "reconcile"); err != nil {
		t.Errorf("Acquire after release failed: %v", err)
	}
}

func TestSQLiteBackend_AcquireTakesOverStaleOwner(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "karaoke.db")

	crashed, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer crashed.Close()
	stale := time.Now().Add(-2 * DefaultLeaseTTL).UnixMilli()
	if _, err := crashed.db.Exec(
		"INSERT INTO store_owner(id, owner, role, pid, heartbeat_at) VALUES (1, 'gone', 'server', 1, ?)", stale,
	); err != nil {
		t.Fatalf("Seed owner failed: %v", err)
	}

	next, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("Second OpenSQLite failed: %v", err)
	}
	defer next.Close()
	if err := next.Acquire(ctx, "server"); err != nil {
		t.Fatalf("Expected a stale claim to be taken over, got %v", err)
	}

	var owner string
	if err := next.db.QueryRow("SELECT owner FROM store_owner WHERE id = 1").Scan(&owner); err != nil {
		t.Fatalf("Read owner failed: %v", err)
	}
	if owner == "gone" {
		t.Error("Stale owner kept the claim")
	}
}

func TestSQLiteBackend_HeartbeatKeepsClaim(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "karaoke.db")

	backend, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer backend.Close()
	backend.leaseTTL = 150 * time.Millisecond

	if err := backend.Acquire(ctx, "server"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	time.Sleep(400 * time.Millisecond)

	other, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("Second OpenSQLite failed: %v", err)
	}
	defer other.Close()
	other.leaseTTL = 150 * time.Millisecond
	if err := other.Acquire(ctx, "reconcile"); !errors.Is(err, ErrHeld) {
		t.Errorf("Expected the refreshed claim to hold, got %v", err)
	}
}
