package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultLeaseTTL is how long an owner claim stays valid without a heartbeat.
const DefaultLeaseTTL = 30 * time.Second

// ErrHeld is returned by Acquire while another live process owns the database.
var ErrHeld = errors.New("sqlite store is held by another process")

// SQLiteBackend keeps one JSON document per party in a SQLite file.
type SQLiteBackend struct {
	db     *sql.DB
	logger *zap.Logger

	leaseTTL time.Duration
	owner    string
	stopBeat chan struct{}
	beatDone chan struct{}
}

var _ Backend = (*SQLiteBackend)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Commits are serialized by the document lock anyway.
	database.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := database.Exec(pragma); err != nil {
			database.Close()
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", pragma, err)
		}
	}

	if err := database.Ping(); err != nil {
		database.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := RunMigrations(database); err != nil {
		database.Close()
		return nil, err
	}

	logger.Info("Opened SQLite store", zap.String("path", path))
	return &SQLiteBackend{db: database, logger: logger, leaseTTL: DefaultLeaseTTL}, nil
}

// RunMigrations applies every embedded migration that has not run yet.
func RunMigrations(database *sql.DB) error {
	if _, err := database.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(entries)

	for _, name := range entries {
		applied, err := migrationApplied(database, name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		body, err := migrationsFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := database.Begin()
		if err != nil {
			return fmt.Errorf("start migration tx %s: %w", name, err)
		}

		if _, err := tx.Exec(string(body)); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", name, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations(name, applied_at) VALUES (?, ?)",
			name,
			time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}

	return nil
}

func migrationApplied(database *sql.DB, name string) (bool, error) {
	var count int
	if err := database.QueryRow("SELECT COUNT(1) FROM schema_migrations WHERE name = ?", name).Scan(&count); err != nil {
		return false, fmt.Errorf("check migration %s: %w", name, err)
	}
	return count > 0, nil
}

// Load reads every stored party document.
func (b *SQLiteBackend) Load(ctx context.Context) (map[string]any, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT id, doc FROM party_documents")
	if err != nil {
		return nil, fmt.Errorf("query party documents: %w", err)
	}
	defer rows.Close()

	root := make(map[string]any)
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scan party document: %w", err)
		}

		var tree any
		if err := json.Unmarshal([]byte(doc), &tree); err != nil {
			b.logger.Warn("Skipping unreadable party document",
				zap.String("id", id),
				zap.Error(err))
			continue
		}
		if tree = prune(tree); tree != nil {
			root[id] = tree
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate party documents: %w", err)
	}
	return root, nil
}

// Commit writes every touched document and one commit_log row in a single
// transaction.
func (b *SQLiteBackend) Commit(ctx context.Context, docs map[string]any) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	ids := make([]string, 0, len(docs))
	for id, doc := range docs {
		ids = append(ids, id)

		if doc == nil {
			if _, err := tx.ExecContext(ctx, "DELETE FROM party_documents WHERE id = ?", id); err != nil {
				tx.Rollback()
				return fmt.Errorf("delete party document %s: %w", id, err)
			}
			continue
		}

		data, err := json.Marshal(doc)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("encode party document %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO party_documents(id, doc, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at
		`, id, string(data), now); err != nil {
			tx.Rollback()
			return fmt.Errorf("write party document %s: %w", id, err)
		}
	}

	sort.Strings(ids)
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO commit_log(parties, committed_at) VALUES (?, ?)",
		strings.Join(ids, ","), now,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("append commit log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit party documents: %w", err)
	}
	return nil
}

// CommitCount returns the number of committed writes recorded so far.
func (b *SQLiteBackend) CommitCount(ctx context.Context) (int, error) {
	var count int
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM commit_log").Scan(&count); err != nil {
		return 0, fmt.Errorf("count commits: %w", err)
	}
	return count, nil
}

// Acquire claims the database for this process. Every party document is
// committed whole, so two processes writing the same file would overwrite each
// other. The claim fails with ErrHeld while another owner's heartbeat is
// younger than the lease TTL, and is refreshed in the background until Close.
func (b *SQLiteBackend) Acquire(ctx context.Context, role string) error {
	if b.owner != "" {
		return nil
	}
	owner := uuid.NewString()
	now := time.Now()

	result, err := b.db.ExecContext(ctx, `
		INSERT INTO store_owner(id, owner, role, pid, heartbeat_at) VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			role = excluded.role,
			pid = excluded.pid,
			heartbeat_at = excluded.heartbeat_at
		WHERE store_owner.heartbeat_at < ?
	`, owner, role, os.Getpid(), now.UnixMilli(), now.Add(-b.leaseTTL).UnixMilli())
	if err != nil {
		return fmt.Errorf("claim sqlite store: %w", err)
	}
	claimed, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim sqlite store: %w", err)
	}
	if claimed == 0 {
		var heldBy string
		var pid int
		var beat int64
		if err := b.db.QueryRowContext(ctx,
			"SELECT role, pid, heartbeat_at FROM store_owner WHERE id = 1",
		).Scan(&heldBy, &pid, &beat); err != nil {
			return fmt.Errorf("%w: %v", ErrHeld, err)
		}
		return fmt.Errorf("%w: %s (pid %d) last seen %s ago",
			ErrHeld, heldBy, pid, now.Sub(time.UnixMilli(beat)).Round(time.Second))
	}

	b.owner = owner
	b.stopBeat = make(chan struct{})
	b.beatDone = make(chan struct{})
	go b.heartbeat()

	b.logger.Info("Claimed SQLite store", zap.String("role", role), zap.String("owner", owner))
	return nil
}

func (b *SQLiteBackend) heartbeat() {
	defer close(b.beatDone)

	ticker := time.NewTicker(b.leaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopBeat:
			return
		case <-ticker.C:
		}

		result, err := b.db.Exec(
			"UPDATE store_owner SET heartbeat_at = ? WHERE id = 1 AND owner = ?",
			time.Now().UnixMilli(), b.owner)
		if err != nil {
			b.logger.Warn("Failed to refresh store claim", zap.Error(err))
			continue
		}
		if n, _ := result.RowsAffected(); n == 0 {
			b.logger.Error("Store claim was taken over by another process", zap.String("owner", b.owner))
			return
		}
	}
}

// Close releases the claim, if any, and closes the database.
func (b *SQLiteBackend) Close() error {
	if b.owner != "" {
		close(b.stopBeat)
		<-b.beatDone
		if _, err := b.db.Exec("DELETE FROM store_owner WHERE id = 1 AND owner = ?", b.owner); err != nil {
			b.logger.Warn("Failed to release store claim", zap.Error(err))
		}
		b.owner = ""
	}
	return b.db.Close()
}
