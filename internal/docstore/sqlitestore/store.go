// Package sqlitestore is a docstore.Store on an embedded SQLite database.
// Several processes may share one database file; each picks up the others'
// writes through a file watcher on the database directory.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Tiliavir/telesales-timesheet/internal/docstore"
)

// Store implements docstore.Store.
type Store struct {
	db   *sql.DB
	path string
	log  *slog.Logger
	hub  *docstore.Hub
	fsw  *dirWatcher

	clockMu sync.Mutex
	clock   docstore.Clock
	now     func() time.Time

	closed    atomic.Bool
	closeOnce sync.Once
}

var _ docstore.Store = (*Store)(nil)

// Open opens or creates the database at path and applies migrations.
func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close()
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, path: path, log: log, now: time.Now}
	s.hub = docstore.NewHub(s.Query, log)

	fsw, err := watchDir(filepath.Dir(path), filepath.Base(path), s.hub.Notify)
	if err != nil {
		log.Warn("cross-process change detection disabled", "db", path, "error", err)
	} else {
		s.fsw = fsw
	}
	return s, nil
}

func (s *Store) nextTime() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	return s.clock.Next(s.now())
}

func (s *Store) Get(ctx context.Context, key string) (docstore.Document, error) {
	if s.closed.Load() {
		return docstore.Document{}, docstore.ErrClosed
	}
	row := s.db.QueryRowContext(ctx, `SELECT key, body, updated_at FROM documents WHERE key = ?`, key)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, fmt.Errorf("get %s: %w", key, err)
	}
	return d, nil
}

func (s *Store) Put(ctx context.Context, key string, fields map[string]any) (docstore.Document, error) {
	if s.closed.Load() {
		return docstore.Document{}, docstore.ErrClosed
	}
	if fields == nil {
		fields = map[string]any{}
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return docstore.Document{}, fmt.Errorf("encode %s: %w", key, err)
	}
	at := s.nextTime()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO documents(key, body, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	body=excluded.body,
	updated_at=excluded.updated_at
`, key, string(body), ts(at))
	if err != nil {
		return docstore.Document{}, fmt.Errorf("put %s: %w", key, err)
	}
	s.hub.Notify()

	var norm map[string]any
	if err := json.Unmarshal(body, &norm); err != nil {
		return docstore.Document{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return docstore.Document{Key: key, Fields: norm, UpdatedAt: at}, nil
}

func (s *Store) Patch(ctx context.Context, key string, fields map[string]any) (docstore.Document, error) {
	if s.closed.Load() {
		return docstore.Document{}, docstore.ErrClosed
	}
	patch, err := docstore.Normalize(fields)
	if err != nil {
		return docstore.Document{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return docstore.Document{}, fmt.Errorf("begin patch %s: %w", key, err)
	}
	defer tx.Rollback() //nolint:errcheck

	d, err := scanDocument(tx.QueryRowContext(ctx, `SELECT key, body, updated_at FROM documents WHERE key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, fmt.Errorf("patch %s: %w", key, err)
	}
	docstore.Merge(d.Fields, patch)
	body, err := json.Marshal(d.Fields)
	if err != nil {
		return docstore.Document{}, fmt.Errorf("encode %s: %w", key, err)
	}
	d.UpdatedAt = s.nextTime()
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET body = ?, updated_at = ? WHERE key = ?`, string(body), ts(d.UpdatedAt), key); err != nil {
		return docstore.Document{}, fmt.Errorf("patch %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return docstore.Document{}, fmt.Errorf("commit patch %s: %w", key, err)
	}
	s.hub.Notify()
	return d, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return docstore.ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if n == 0 {
		return docstore.ErrNotFound
	}
	s.hub.Notify()
	return nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if s.closed.Load() {
		return nil, docstore.ErrClosed
	}
	if err := docstore.ValidateQuery(q); err != nil {
		return nil, err
	}
	fields := make([]string, 0, len(q))
	for f := range q {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var (
		where []string
		args  []any
	)
	for _, f := range fields {
		where = append(where, "json_extract(body, ?) = ?")
		args = append(args, "$."+f, q[f])
	}
	stmt := `SELECT key, body, updated_at FROM documents`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY key"

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	out := []docstore.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	return out, nil
}

func (s *Store) Watch(ctx context.Context, q docstore.Query, fn docstore.WatchFunc) (docstore.Subscription, error) {
	if s.closed.Load() {
		return nil, docstore.ErrClosed
	}
	return s.hub.Watch(ctx, q, fn)
}

// Close stops every live query and closes the database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.fsw != nil {
			s.fsw.Close()
		}
		s.hub.Close()
		s.closed.Store(true)
		err = s.db.Close()
	})
	return err
}

func scanDocument(scanner interface{ Scan(dest ...any) error }) (docstore.Document, error) {
	var (
		d         docstore.Document
		body      string
		updatedAt string
	)
	if err := scanner.Scan(&d.Key, &body, &updatedAt); err != nil {
		return docstore.Document{}, err
	}
	if err := json.Unmarshal([]byte(body), &d.Fields); err != nil {
		return docstore.Document{}, fmt.Errorf("decode body of %s: %w", d.Key, err)
	}
	if d.Fields == nil {
		d.Fields = map[string]any{}
	}
	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return docstore.Document{}, fmt.Errorf("decode updated_at of %s: %w", d.Key, err)
	}
	d.UpdatedAt = t
	return d, nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
