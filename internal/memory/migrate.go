package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// step is one schema version. Statements must run unchanged on SQLite and
// PostgreSQL, so timestamps are unix nanoseconds in BIGINT columns.
type step struct {
	version int
	name    string
	stmts   []string
}

var schema = []step{
	{1, "users, rooms and messages", []string{
		`CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			role       TEXT NOT NULL DEFAULT 'user',
			is_temp    BOOLEAN NOT NULL DEFAULT FALSE,
			temp_id    TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			owner_id   TEXT NOT NULL DEFAULT '',
			is_private BOOLEAN NOT NULL DEFAULT FALSE,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			room_id    TEXT NOT NULL,
			user_id    TEXT,
			temp_id    TEXT NOT NULL DEFAULT '',
			text       TEXT NOT NULL DEFAULT '',
			file_url   TEXT NOT NULL DEFAULT '',
			file_name  TEXT NOT NULL DEFAULT '',
			type       TEXT NOT NULL,
			is_ai      BOOLEAN NOT NULL DEFAULT FALSE,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, created_at)`,
	}},
	{2, "guest lookup by temp id", []string{
		`CREATE INDEX IF NOT EXISTS idx_users_temp ON users(temp_id)`,
	}},
}

// latestVersion is the version a fully migrated database reports.
func latestVersion() int { return schema[len(schema)-1].version }

// migrate brings db up to latestVersion. Every step commits together with
// its schema_version row, so a failed step leaves the previous version intact.
func migrate(ctx context.Context, db *sql.DB, d dialect, logger *slog.Logger) error {
	const bookkeeping = `CREATE TABLE IF NOT EXISTS schema_version (
		version     INTEGER PRIMARY KEY,
		description TEXT
	)`
	if _, err := db.ExecContext(ctx, bookkeeping); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	have, err := appliedVersion(ctx, db)
	if err != nil {
		return err
	}
	for _, st := range schema {
		if st.version <= have {
			continue
		}
		if err := st.apply(ctx, db, d); err != nil {
			return fmt.Errorf("schema v%d (%s): %w", st.version, st.name, err)
		}
		logger.Info("schema upgraded", "version", st.version, "step", st.name)
	}
	return nil
}

func (st step) apply(ctx context.Context, db *sql.DB, d dialect) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, q := range st.stmts {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	record := d.rebind(`INSERT INTO schema_version (version, description) VALUES (?, ?)`)
	if _, err := tx.ExecContext(ctx, record, st.version, st.name); err != nil {
		return err
	}
	return tx.Commit()
}

// appliedVersion reads the highest recorded step, 0 on a fresh database.
func appliedVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}
