// Package store provides the durable key/value map holding coverage history.
// It is backed by a single SQLite database file; writes are buffered in memory
// until Sync commits them in one transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"slices"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver.
)

// DefaultFileName is the store file created in the repository working directory.
const DefaultFileName = ".duvet"

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Side files SQLite keeps next to the database in WAL mode.
var sideFileSuffixes = []string{"-wal", "-shm", "-journal"}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
}

const schema = `CREATE TABLE IF NOT EXISTS entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

const upsert = `INSERT INTO entries (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

// Store is a durable string-to-bytes map. It is safe for concurrent use, but
// only one process should write a given file at a time.
type Store struct {
	db      *sql.DB
	pending map[string][]byte
	logger  *slog.Logger
	now     func() time.Time
	path    string
	mu      sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for recovery warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens or creates the store at path. A file that is not a readable
// store is discarded with a warning and replaced by an empty one.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:    path,
		pending: make(map[string][]byte),
		logger:  slog.Default(),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	err := s.open(ctx)
	if err == nil {
		return s, nil
	}

	if _, statErr := os.Stat(path); statErr != nil {
		return nil, err
	}

	s.logger.WarnContext(ctx, "coverage store unreadable, starting empty", "path", path, "error", err)

	err = Erase(path)
	if err != nil {
		return nil, err
	}

	err = s.open(ctx)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) open(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("open store %s: %w", s.path, err)
	}

	db.SetMaxOpenConns(1)

	err = initialize(ctx, db)
	if err != nil {
		db.Close()

		return fmt.Errorf("initialize store %s: %w", s.path, err)
	}

	s.db = db

	return nil
}

func initialize(ctx context.Context, db *sql.DB) error {
	for _, pragma := range pragmas {
		_, err := db.ExecContext(ctx, pragma)
		if err != nil {
			return fmt.Errorf("set pragma: %w", err)
		}
	}

	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	// Fails when an existing entries table has a different shape.
	rows, err := db.QueryContext(ctx, "SELECT key, value, updated_at FROM entries LIMIT 1")
	if err != nil {
		return fmt.Errorf("check schema: %w", err)
	}

	return rows.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value stored under key, including buffered writes.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, false, ErrClosed
	}

	if value, ok := s.pending[key]; ok {
		return slices.Clone(value), true, nil
	}

	var value []byte

	err := s.db.QueryRowContext(ctx, "SELECT value FROM entries WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}

	return value, true, nil
}

// Put buffers a write. It becomes durable on the next Sync.
func (s *Store) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return ErrClosed
	}

	s.pending[key] = slices.Clone(value)

	return nil
}

// Sync commits all buffered writes in a single transaction.
func (s *Store) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.syncLocked(ctx)
}

func (s *Store) syncLocked(ctx context.Context) error {
	if s.db == nil {
		return ErrClosed
	}

	if len(s.pending) == 0 {
		return nil
	}

	updatedAt := s.now().UnixNano()

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsert)
		if err != nil {
			return fmt.Errorf("prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, key := range slices.Sorted(maps.Keys(s.pending)) {
			_, err = stmt.ExecContext(ctx, key, s.pending[key], updatedAt)
			if err != nil {
				return fmt.Errorf("put %s: %w", key, err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	clear(s.pending)

	return nil
}

// Keys returns every key in ascending order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, "SELECT key FROM entries")
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{}, len(s.pending))

	for rows.Next() {
		var key string

		err = rows.Scan(&key)
		if err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}

		keys[key] = struct{}{}
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	for key := range s.pending {
		keys[key] = struct{}{}
	}

	return slices.Sorted(maps.Keys(keys)), nil
}

// Len returns the number of keys.
func (s *Store) Len(ctx context.Context) (int, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return 0, err
	}

	return len(keys), nil
}

// Empty reports whether the store holds no entries.
func (s *Store) Empty(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return false, ErrClosed
	}

	if len(s.pending) > 0 {
		return false, nil
	}

	var exists bool

	err := s.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM entries)").Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check empty: %w", err)
	}

	return !exists, nil
}

// Iterate calls fn for every entry in key order, stopping at the first error.
func (s *Store) Iterate(ctx context.Context, fn func(key string, value []byte) error) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}

	for _, key := range keys {
		value, ok, getErr := s.Get(ctx, key)
		if getErr != nil {
			return getErr
		}

		if !ok {
			continue
		}

		err = fn(key, value)
		if err != nil {
			return err
		}
	}

	return nil
}

// EraseAll drops every entry, including buffered writes, by deleting the
// database files and reopening an empty store.
func (s *Store) EraseAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		err := s.db.Close()
		if err != nil {
			s.logger.WarnContext(ctx, "close store before erase", "path", s.path, "error", err)
		}

		s.db = nil
	}

	clear(s.pending)

	err := Erase(s.path)
	if err != nil {
		return err
	}

	return s.open(ctx)
}

// Close syncs buffered writes and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	syncErr := s.syncLocked(context.Background())
	closeErr := s.db.Close()
	s.db = nil

	return errors.Join(syncErr, closeErr)
}

// Erase removes the store at path and its side files. Missing files are ignored.
func Erase(path string) error {
	for _, name := range append([]string{path}, sideFiles(path)...) {
		err := os.Remove(name)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("erase %s: %w", name, err)
		}
	}

	return nil
}

func sideFiles(path string) []string {
	files := make([]string, 0, len(sideFileSuffixes))
	for _, suffix := range sideFileSuffixes {
		files = append(files, path+suffix)
	}

	return files
}

// withTx runs fn in a transaction, rolling back when it fails.
func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	err = fn(tx)
	if err != nil {
		rollbackErr := tx.Rollback()

		return errors.Join(err, rollbackErr)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}
