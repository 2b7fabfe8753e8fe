// Package jsonfile provides a StateStore backed by two JSON documents in a
// directory, compatible with the usage_counts.json / disabled_keys.json
// layout:
//
//	usage_counts.json   {"2025-03-14": {"<key>": 12}}
//	disabled_keys.json  {"2025-03-14": ["<key>"]}
//
// Every read-modify-write holds an in-process mutex and an flock on a
// sibling ".lock" file, so several processes may share one directory.
// Documents are replaced atomically via a temp file and rename.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/ineyio/rewriter"
)

const (
	// UsageFile is the name of the ledger document.
	UsageFile = "usage_counts.json"
	// QuarantineFile is the name of the quarantine document.
	QuarantineFile = "disabled_keys.json"

	lockRetryDelay = 10 * time.Millisecond
)

// ErrCorrupt is returned when a document cannot be parsed.
var ErrCorrupt = errors.New("rewriter/jsonfile: corrupt document")

type usageDoc map[rewriter.Day]map[rewriter.Credential]int64

type quarantineDoc map[rewriter.Day][]rewriter.Credential

// Store is a file-backed StateStore.
type Store struct {
	dir    string
	logger *slog.Logger

	mu             sync.Mutex
	usageLock      *flock.Flock
	quarantineLock *flock.Flock
}

var _ rewriter.StateStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithLogger sets the logger used for warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("rewriter/jsonfile: create directory: %w", err)
	}
	s := &Store{
		dir:            dir,
		logger:         slog.New(slog.DiscardHandler),
		usageLock:      flock.New(filepath.Join(dir, UsageFile+".lock")),
		quarantineLock: flock.New(filepath.Join(dir, QuarantineFile+".lock")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the directory holding the documents.
func (s *Store) Dir() string { return s.dir }

func (s *Store) usagePath() string      { return filepath.Join(s.dir, UsageFile) }
func (s *Store) quarantinePath() string { return filepath.Join(s.dir, QuarantineFile) }

// RecordSuccess increments the count for credential on day.
func (s *Store) RecordSuccess(ctx context.Context, day rewriter.Day, credential rewriter.Credential) error {
	return s.withLock(ctx, s.usageLock, true, func() error {
		doc := usageDoc{}
		if err := s.load(s.usagePath(), &doc); err != nil {
			return err
		}
		counts, ok := doc[day]
		if !ok {
			counts = make(map[rewriter.Credential]int64)
			doc[day] = counts
		}
		counts[credential]++
		return s.save(s.usagePath(), doc)
	})
}

// DailyCount returns the count for credential on day.
func (s *Store) DailyCount(ctx context.Context, day rewriter.Day, credential rewriter.Credential) (int64, error) {
	var n int64
	err := s.withLock(ctx, s.usageLock, false, func() error {
		doc := usageDoc{}
		if err := s.load(s.usagePath(), &doc); err != nil {
			return err
		}
		n = doc[day][credential]
		return nil
	})
	return n, err
}

// Counts returns every count recorded on day.
func (s *Store) Counts(ctx context.Context, day rewriter.Day) (map[rewriter.Credential]int64, error) {
	out := make(map[rewriter.Credential]int64)
	err := s.withLock(ctx, s.usageLock, false, func() error {
		doc := usageDoc{}
		if err := s.load(s.usagePath(), &doc); err != nil {
			return err
		}
		for c, n := range doc[day] {
			out[c] = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Quarantine disables credential for day.
func (s *Store) Quarantine(ctx context.Context, day rewriter.Day, credential rewriter.Credential) error {
	return s.withLock(ctx, s.quarantineLock, true, func() error {
		doc := quarantineDoc{}
		if err := s.load(s.quarantinePath(), &doc); err != nil {
			return err
		}
		for _, c := range doc[day] {
			if c == credential {
				return nil
			}
		}
		doc[day] = append(doc[day], credential)
		return s.save(s.quarantinePath(), doc)
	})
}

// IsQuarantined reports whether credential is disabled on day.
func (s *Store) IsQuarantined(ctx context.Context, day rewriter.Day, credential rewriter.Credential) (bool, error) {
	var found bool
	err := s.withLock(ctx, s.quarantineLock, false, func() error {
		doc := quarantineDoc{}
		if err := s.load(s.quarantinePath(), &doc); err != nil {
			return err
		}
		for _, c := range doc[day] {
			if c == credential {
				found = true
				break
			}
		}
		return nil
	})
	return found, err
}

// Quarantined returns the credentials disabled on day, sorted.
func (s *Store) Quarantined(ctx context.Context, day rewriter.Day) ([]rewriter.Credential, error) {
	var out []rewriter.Credential
	err := s.withLock(ctx, s.quarantineLock, false, func() error {
		doc := quarantineDoc{}
		if err := s.load(s.quarantinePath(), &doc); err != nil {
			return err
		}
		out = append([]rewriter.Credential{}, doc[day]...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// withLock runs fn holding the process mutex and the file lock. Readers
// take a shared lock, writers an exclusive one.
func (s *Store) withLock(ctx context.Context, lock *flock.Flock, exclusive bool, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		ok  bool
		err error
	)
	if exclusive {
		ok, err = lock.TryLockContext(ctx, lockRetryDelay)
	} else {
		ok, err = lock.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return fmt.Errorf("rewriter/jsonfile: acquire %s: %w", lock.Path(), err)
	}
	if !ok {
		return fmt.Errorf("rewriter/jsonfile: acquire %s: lock not obtained", lock.Path())
	}
	defer lock.Unlock()

	return fn()
}

func (s *Store) load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil // fresh start
		}
		return fmt.Errorf("rewriter/jsonfile: read %s: %w", path, err)
	}

	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("state document is not valid JSON",
			"path", path,
			"error", err)
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return nil
}

// save writes v to path atomically.
func (s *Store) save(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("rewriter/jsonfile: marshal %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("rewriter/jsonfile: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("rewriter/jsonfile: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("rewriter/jsonfile: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rewriter/jsonfile: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // cleanup on failure
		return fmt.Errorf("rewriter/jsonfile: rename temp file: %w", err)
	}
	return nil
}
