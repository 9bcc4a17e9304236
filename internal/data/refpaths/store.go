// Package refpaths persists where assembly references were last found on
// disk, keyed by the reference full name.
package refpaths

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	driverName  = "sqlite"
	maxAttempts = 5
	keyPrefix   = "REF_"

	DefaultBusyTimeout = 2 * time.Second
)

// Key is the cache key of a reference full name.
func Key(fullName string) string { return keyPrefix + fullName }

// Entry is one cached reference location.
type Entry struct {
	Key       string
	Path      string
	Hits      int
	UpdatedAt time.Time
}

type Store struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

// Open opens or creates the database at path. A zero busyTimeout uses
// DefaultBusyTimeout.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("refpaths path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("refpaths path %q is a directory, expected file", cleanPath)
	}
	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create refpaths directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", cleanPath, busyTimeout.Milliseconds())
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite refpaths %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite refpaths %q: %w", cleanPath, err)
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema %q: %w", cleanPath, err)
	}
	return &Store{path: cleanPath, db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the path stored under key and counts the hit.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var path string
	err := s.withRetry("get ref path", func() error {
		return s.db.QueryRowContext(ctx, `SELECT path FROM ref_paths WHERE ref_key = ?`, key).Scan(&path)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	_ = s.withRetry("count ref hit", func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE ref_paths SET hits = hits + 1 WHERE ref_key = ?`, key)
		return err
	})
	return path, true, nil
}

// Put stores path under key, replacing any earlier entry.
func (s *Store) Put(ctx context.Context, key, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("ref key must not be empty")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.withRetry("put ref path", func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO ref_paths (ref_key, path, updated_at_utc) VALUES (?, ?, ?)
ON CONFLICT(ref_key) DO UPDATE SET path=excluded.path, updated_at_utc=excluded.updated_at_utc
`, key, path, now)
		return err
	})
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withRetry("delete ref path", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM ref_paths WHERE ref_key = ?`, key)
		return err
	})
}

// DeletePath drops every entry pointing at path and returns how many went.
func (s *Store) DeletePath(ctx context.Context, path string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	err := s.withRetry("delete ref paths", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM ref_paths WHERE path = ?`, path)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// List returns every entry ordered by key.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows *sql.Rows
	err := s.withRetry("list ref paths", func() error {
		var qErr error
		rows, qErr = s.db.QueryContext(ctx, `SELECT ref_key, path, hits, updated_at_utc FROM ref_paths ORDER BY ref_key ASC`)
		return qErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e     Entry
			tsRaw string
		)
		if err := rows.Scan(&e.Key, &e.Path, &e.Hits, &tsRaw); err != nil {
			return nil, fmt.Errorf("scan ref path row: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, tsRaw); err == nil {
			e.UpdatedAt = ts.UTC()
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ref path rows: %w", err)
	}
	return entries, nil
}

func (s *Store) withRetry(op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		lastErr = err
		if !isLockError(err) || attempt == maxAttempts {
			break
		}
		time.Sleep(time.Duration(attempt*25) * time.Millisecond)
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// Ping checks that the database still answers.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("refpaths store is closed")
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// IsCorruptError reports whether err looks like a damaged database file.
func IsCorruptError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "malformed") || strings.Contains(msg, "not a database") || errors.Is(err, os.ErrInvalid)
}
