// Package sqlite provides a SQLite-backed StateStore for rewriter.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ineyio/rewriter"
)

const schema = `
CREATE TABLE IF NOT EXISTS usage (
    day TEXT NOT NULL,
    credential TEXT NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (day, credential)
);

CREATE TABLE IF NOT EXISTS quarantine (
    day TEXT NOT NULL,
    credential TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (day, credential)
);
`

// dsnOptions enables WAL with a full fsync per commit: a recorded success
// survives power loss once RecordSuccess has returned.
const dsnOptions = "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL"

// Store is a SQLite-backed StateStore.
type Store struct {
	db *sql.DB
}

var _ rewriter.StateStore = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("rewriter/sqlite: create database directory: %w", err)
		}
	}

	dsn := path + dsnOptions
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("rewriter/sqlite: open: %w", err)
	}
	if path == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.execSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) execSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rewriter/sqlite: begin schema: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rewriter/sqlite: schema statement %q: %w", stmt, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rewriter/sqlite: commit schema: %w", err)
	}
	return nil
}

// RecordSuccess increments the count for credential on day.
func (s *Store) RecordSuccess(ctx context.Context, day rewriter.Day, credential rewriter.Credential) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage (day, credential, count) VALUES (?, ?, 1)
		 ON CONFLICT (day, credential) DO UPDATE SET count = count + 1`,
		string(day), string(credential),
	)
	if err != nil {
		return fmt.Errorf("rewriter/sqlite: record success: %w", err)
	}
	return nil
}

// DailyCount returns the count for credential on day.
func (s *Store) DailyCount(ctx context.Context, day rewriter.Day, credential rewriter.Credential) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM usage WHERE day = ? AND credential = ?`,
		string(day), string(credential),
	).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rewriter/sqlite: daily count: %w", err)
	}
	return n, nil
}

// Counts returns every count recorded on day.
func (s *Store) Counts(ctx context.Context, day rewriter.Day) (map[rewriter.Credential]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT credential, count FROM usage WHERE day = ?`, string(day))
	if err != nil {
		return nil, fmt.Errorf("rewriter/sqlite: counts: %w", err)
	}
	defer rows.Close()

	out := make(map[rewriter.Credential]int64)
	for rows.Next() {
		var c string
		var n int64
		if err := rows.Scan(&c, &n); err != nil {
			return nil, fmt.Errorf("rewriter/sqlite: counts: %w", err)
		}
		out[rewriter.Credential(c)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rewriter/sqlite: counts: %w", err)
	}
	return out, nil
}

// Quarantine disables credential for day.
func (s *Store) Quarantine(ctx context.Context, day rewriter.Day, credential rewriter.Credential) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO quarantine (day, credential) VALUES (?, ?)`,
		string(day), string(credential),
	)
	if err != nil {
		return fmt.Errorf("rewriter/sqlite: quarantine: %w", err)
	}
	return nil
}

// IsQuarantined reports whether credential is disabled on day.
func (s *Store) IsQuarantined(ctx context.Context, day rewriter.Day, credential rewriter.Credential) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM quarantine WHERE day = ? AND credential = ?`,
		string(day), string(credential),
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("rewriter/sqlite: is quarantined: %w", err)
	}
	return true, nil
}

// Quarantined returns the credentials disabled on day, sorted.
func (s *Store) Quarantined(ctx context.Context, day rewriter.Day) ([]rewriter.Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT credential FROM quarantine WHERE day = ? ORDER BY credential`, string(day))
	if err != nil {
		return nil, fmt.Errorf("rewriter/sqlite: quarantined: %w", err)
	}
	defer rows.Close()

	out := []rewriter.Credential{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("rewriter/sqlite: quarantined: %w", err)
		}
		out = append(out, rewriter.Credential(c))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rewriter/sqlite: quarantined: %w", err)
	}
	return out, nil
}

// Prune deletes every row of days before keepFrom.
func (s *Store) Prune(ctx context.Context, keepFrom rewriter.Day) (int64, error) {
	var total int64
	for _, table := range []string{"usage", "quarantine"} {
		res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE day < ?`, table), string(keepFrom))
		if err != nil {
			return total, fmt.Errorf("rewriter/sqlite: prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
