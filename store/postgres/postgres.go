// Package postgres provides a PostgreSQL-backed StateStore for rewriter.
//
// Counts and quarantine entries are stored in two tables keyed by
// (day, credential). Increments are single upsert statements, which makes
// the store safe for multi-instance deployments and durable across restarts.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/rewriter"
)

// Store is a PostgreSQL-backed StateStore.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var _ rewriter.StateStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "rewriter_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed StateStore.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "rewriter_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("rewriter/postgres: connect: %w", err)
	}
	s := New(pool, opts...)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) usageTable() string      { return s.tablePrefix + "usage" }
func (s *Store) quarantineTable() string { return s.tablePrefix + "quarantine" }

// EnsureSchema creates the required tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			day TEXT NOT NULL,
			credential TEXT NOT NULL,
			count BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (day, credential)
		);
		CREATE TABLE IF NOT EXISTS %s (
			day TEXT NOT NULL,
			credential TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (day, credential)
		);
	`, s.usageTable(), s.quarantineTable())
	_, err := s.pool.Exec(ctx, q)
	if err != nil {
		return fmt.Errorf("rewriter/postgres: ensure schema: %w", err)
	}
	return nil
}

// RecordSuccess increments the count for credential on day.
func (s *Store) RecordSuccess(ctx context.Context, day rewriter.Day, credential rewriter.Credential) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (day, credential, count) VALUES ($1, $2, 1)
			ON CONFLICT (day, credential) DO UPDATE SET count = %s.count + 1, updated_at = now()`,
			s.usageTable(), s.usageTable()),
		string(day), string(credential),
	)
	if err != nil {
		return fmt.Errorf("rewriter/postgres: record success: %w", err)
	}
	return nil
}

// DailyCount returns the count for credential on day.
func (s *Store) DailyCount(ctx context.Context, day rewriter.Day, credential rewriter.Credential) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT count FROM %s WHERE day = $1 AND credential = $2`, s.usageTable()),
		string(day), string(credential),
	).Scan(&n)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rewriter/postgres: daily count: %w", err)
	}
	return n, nil
}

// Counts returns every count recorded on day.
func (s *Store) Counts(ctx context.Context, day rewriter.Day) (map[rewriter.Credential]int64, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT credential, count FROM %s WHERE day = $1`, s.usageTable()),
		string(day),
	)
	if err != nil {
		return nil, fmt.Errorf("rewriter/postgres: counts: %w", err)
	}
	defer rows.Close()

	out := make(map[rewriter.Credential]int64)
	for rows.Next() {
		var c string
		var n int64
		if err := rows.Scan(&c, &n); err != nil {
			return nil, fmt.Errorf("rewriter/postgres: counts: %w", err)
		}
		out[rewriter.Credential(c)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rewriter/postgres: counts: %w", err)
	}
	return out, nil
}

// Quarantine disables credential for day.
func (s *Store) Quarantine(ctx context.Context, day rewriter.Day, credential rewriter.Credential) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (day, credential) VALUES ($1, $2) ON CONFLICT DO NOTHING`, s.quarantineTable()),
		string(day), string(credential),
	)
	if err != nil {
		return fmt.Errorf("rewriter/postgres: quarantine: %w", err)
	}
	return nil
}

// IsQuarantined reports whether credential is disabled on day.
func (s *Store) IsQuarantined(ctx context.Context, day rewriter.Day, credential rewriter.Credential) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT true FROM %s WHERE day = $1 AND credential = $2`, s.quarantineTable()),
		string(day), string(credential),
	).Scan(&exists)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("rewriter/postgres: is quarantined: %w", err)
	}
	return exists, nil
}

// Quarantined returns the credentials disabled on day, sorted.
func (s *Store) Quarantined(ctx context.Context, day rewriter.Day) ([]rewriter.Credential, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT credential FROM %s WHERE day = $1 ORDER BY credential`, s.quarantineTable()),
		string(day),
	)
	if err != nil {
		return nil, fmt.Errorf("rewriter/postgres: quarantined: %w", err)
	}
	defer rows.Close()

	out := []rewriter.Credential{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("rewriter/postgres: quarantined: %w", err)
		}
		out = append(out, rewriter.Credential(c))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rewriter/postgres: quarantined: %w", err)
	}
	return out, nil
}

// Prune deletes every row of days before keepFrom.
func (s *Store) Prune(ctx context.Context, keepFrom rewriter.Day) (int64, error) {
	var total int64
	for _, table := range []string{s.usageTable(), s.quarantineTable()} {
		tag, err := s.pool.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE day < $1`, table),
			string(keepFrom),
		)
		if err != nil {
			return total, fmt.Errorf("rewriter/postgres: prune: %w", err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}
