package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jaakkos/attendsync/internal/app"
	"github.com/jaakkos/attendsync/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	namespace TEXT NOT NULL,
	name TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '[]',
	updated_at TEXT NOT NULL,
	PRIMARY KEY (namespace, name)
);
CREATE TABLE IF NOT EXISTS meta (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (namespace, key)
);
`

// Collection keys inside a namespace.
const (
	keyStudents   = "students"
	keyAttendance = "attendanceRecords"
	keyDocuments  = "documents"
	keyLastSync   = "lastSync"
)

const defaultNamespace = "attendsync"

const upsertCollection = `
INSERT INTO collections (namespace, name, payload, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(namespace, name) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`

const upsertMeta = `
INSERT INTO meta (namespace, key, value) VALUES (?, ?, ?)
ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value`

// Store implements app.CacheRepository using SQLite. The whole snapshot is
// held in memory after the first Load; saves update memory first, then the
// database.
type Store struct {
	db         *sql.DB
	namespace  string
	signalPath string

	mu  sync.Mutex
	mem *domain.Snapshot // nil until first read
}

// Option configures a Store.
type Option func(*Store)

// WithNamespace isolates the cache of one application instance.
func WithNamespace(ns string) Option {
	return func(s *Store) {
		if ns != "" {
			s.namespace = ns
		}
	}
}

// WithSignalFile sets the file touched after every durable save.
func WithSignalFile(path string) Option {
	return func(s *Store) { s.signalPath = path }
}

// New opens the SQLite database at path (creating parent dirs and schema).
func New(path string, opts ...Option) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	s := &Store{db: db, namespace: defaultNamespace}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close releases the database connection. Call on shutdown for clean exit.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Namespace returns the namespace this store reads and writes.
func (s *Store) Namespace() string { return s.namespace }

// Load implements app.CacheRepository. The returned snapshot is a copy.
func (s *Store) Load() (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mem == nil {
		snap, err := s.read()
		if err != nil {
			return nil, err
		}
		s.mem = snap
	}
	return s.mem.Clone(), nil
}

// Reload discards the in-memory snapshot and re-reads the database, picking
// up saves made by other processes.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.read()
	if err != nil {
		return err
	}
	s.mem = snap
	return nil
}

// Save implements app.CacheRepository. Memory is updated unconditionally;
// each collection is then written in its own statement. The returned error
// reports durable-write failures only.
func (s *Store) Save(p domain.PartialSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.mem == nil {
		snap, err := s.read()
		if err != nil {
			errs = append(errs, err)
			snap = domain.NewSnapshot()
		}
		s.mem = snap
	}
	s.mem.Apply(p)

	if s.db == nil {
		return errors.Join(append(errs, errors.New("sqlite: store closed"))...)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if p.Students != nil {
		errs = append(errs, s.writeCollection(keyStudents, *p.Students, now))
	}
	if p.AttendanceRecords != nil {
		errs = append(errs, s.writeCollection(keyAttendance, *p.AttendanceRecords, now))
	}
	if p.Documents != nil {
		errs = append(errs, s.writeCollection(keyDocuments, *p.Documents, now))
	}
	if p.LastSync != nil {
		if _, err := s.db.Exec(upsertMeta, s.namespace, keyLastSync, p.LastSync.UTC().Format(time.RFC3339Nano)); err != nil {
			errs = append(errs, fmt.Errorf("meta %s: %w", keyLastSync, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	_ = app.TouchNotifySignal(s.signalPath)
	return nil
}

func (s *Store) writeCollection(name string, entities any, now string) error {
	payload, err := json.Marshal(entities)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", name, err)
	}
	if _, err := s.db.Exec(upsertCollection, s.namespace, name, string(payload), now); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// read loads the namespace from the database. Caller holds mu.
func (s *Store) read() (*domain.Snapshot, error) {
	if s.db == nil {
		return nil, errors.New("sqlite: store closed")
	}
	snap := domain.NewSnapshot()

	rows, err := s.db.Query("SELECT name, payload FROM collections WHERE namespace = ?", s.namespace)
	if err != nil {
		return nil, fmt.Errorf("collections: %w", err)
	}
	for rows.Next() {
		var name, payload string
		if err := rows.Scan(&name, &payload); err != nil {
			_ = rows.Close()
			return nil, err
		}
		var target any
		switch name {
		case keyStudents:
			target = &snap.Students
		case keyAttendance:
			target = &snap.AttendanceRecords
		case keyDocuments:
			target = &snap.Documents
		default:
			continue
		}
		if err := parseJSON([]byte(payload), target, name); err != nil {
			_ = rows.Close()
			return nil, err
		}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("collections iteration: %w", err)
	}

	var lastSync string
	err = s.db.QueryRow("SELECT value FROM meta WHERE namespace = ? AND key = ?", s.namespace, keyLastSync).Scan(&lastSync)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("meta %s: %w", keyLastSync, err)
	default:
		t, err := parseTime(lastSync, "meta "+keyLastSync)
		if err != nil {
			return nil, err
		}
		snap.LastSync = t
	}

	// A stored JSON null decodes to a nil slice.
	if snap.Students == nil {
		snap.Students = []domain.Student{}
	}
	if snap.AttendanceRecords == nil {
		snap.AttendanceRecords = []domain.AttendanceRecord{}
	}
	if snap.Documents == nil {
		snap.Documents = []domain.Document{}
	}
	return snap, nil
}

// parseTime parses RFC3339Nano or returns zero time and error.
func parseTime(s, context string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: parse timestamp %q: %w", context, s, err)
	}
	return t, nil
}

// parseJSON unmarshals b into v or returns error with context.
func parseJSON(b []byte, v any, context string) error {
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%s: %w", context, err)
	}
	return nil
}

var _ app.CacheRepository = (*Store)(nil)
