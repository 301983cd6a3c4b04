package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// schemaVersion is the version a fully migrated database reports.
const schemaVersion = 2

type migration struct {
	version int
	name    string
	stmts   []string
}

// migrations run in order, each inside one transaction together with its
// schema_version row.
var migrations = []migration{
	{
		version: 1,
		name:    "messages log",
		stmts: []string{`
			CREATE TABLE IF NOT EXISTS messages (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id     TEXT NOT NULL,
				channel     TEXT NOT NULL,
				direction   TEXT NOT NULL CHECK (direction IN ('IN', 'OUT')),
				delivery_id TEXT,
				text        TEXT NOT NULL,
				ts          INTEGER NOT NULL
			)`,
		},
	},
	{
		version: 2,
		name:    "delivery uniqueness and per-user recency",
		stmts: []string{
			// Partial index: internal messages carry no delivery id and must never collide.
			`CREATE UNIQUE INDEX IF NOT EXISTS ux_messages_delivery
				ON messages(delivery_id, direction) WHERE delivery_id IS NOT NULL`,
			`CREATE INDEX IF NOT EXISTS idx_messages_user_ts ON messages(user_id, ts, id)`,
		},
	},
}

// Migrate brings db up to schemaVersion. Already applied versions are skipped.
func Migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > schemaVersion {
		return fmt.Errorf("database schema v%d is newer than this binary (v%d)", current, schemaVersion)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return err
		}
		logger.Info("schema migrated", "version", m.version, "name", m.name)
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, m migration) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", m.version, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for i, stmt := range m.stmts {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration v%d statement %d: %w", m.version, i+1, err)
		}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, name, applied_at) VALUES (?, ?, ?)`,
		m.version, m.name, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.version, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration v%d: %w", m.version, err)
	}
	return nil
}

// SchemaVersion reports the highest applied migration, 0 for a new database.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var name string
	err := db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'`,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("inspect schema: %w", err)
	}

	var version int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return version, nil
}
