package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const dsnOptions = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

// migrations[i] moves a database from user_version i to i+1. Timestamps are
// unix nanoseconds so sub-second ticks keep their order.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS bars (
		symbol  TEXT    NOT NULL,
		ts      INTEGER NOT NULL,
		open    REAL    NOT NULL,
		high    REAL    NOT NULL,
		low     REAL    NOT NULL,
		close   REAL    NOT NULL,
		volume  REAL    NOT NULL DEFAULT 0,
		PRIMARY KEY (symbol, ts)
	);
	CREATE TABLE IF NOT EXISTS ticks (
		symbol  TEXT    NOT NULL,
		ts      INTEGER NOT NULL,
		last    REAL    NOT NULL,
		bid     REAL    NOT NULL,
		ask     REAL    NOT NULL,
		volume  REAL    NOT NULL DEFAULT 0,
		PRIMARY KEY (symbol, ts)
	);`,
	`CREATE TABLE IF NOT EXISTS imports (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol      TEXT    NOT NULL,
		kind        TEXT    NOT NULL,
		source      TEXT    NOT NULL,
		rows        INTEGER NOT NULL,
		first_ts    INTEGER,
		last_ts     INTEGER,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS imports_symbol ON imports (symbol, id);`,
}

func open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// migrate applies every migration above the stored user_version, each in
// its own transaction.
func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("sqlite schema version: %w", err)
	}
	for v := version; v < len(migrations); v++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite migration %d: %w", v+1, err)
		}
		// PRAGMA does not take bind parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite migration %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("sqlite migration %d: %w", v+1, err)
		}
	}
	return nil
}
