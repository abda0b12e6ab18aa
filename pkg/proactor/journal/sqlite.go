package journal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// timeLayout is fixed width so completed_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists outcome records to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates a journal database.
// The path should be a file path (e.g., "./journal.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection, and writes
	// serialize in SQLite anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS outcomes (
			event_id TEXT PRIMARY KEY,
			pipeline TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL,
			stages TEXT NOT NULL,
			duration_ns INTEGER NOT NULL,
			completed_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_outcomes_pipeline
		ON outcomes(pipeline, completed_at)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	stages, err := json.Marshal(rec.Stages)
	if err != nil {
		return fmt.Errorf("encode stages: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO outcomes (event_id, pipeline, status, error, stages, duration_ns, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			pipeline = excluded.pipeline,
			status = excluded.status,
			error = excluded.error,
			stages = excluded.stages,
			duration_ns = excluded.duration_ns,
			completed_at = excluded.completed_at
	`, rec.EventID, rec.Pipeline, rec.Status, rec.Error, string(stages),
		int64(rec.Duration), rec.CompletedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(eventID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Record{}, ErrStoreClosed
	}

	row := s.db.QueryRow(`
		SELECT event_id, pipeline, status, error, stages, duration_ns, completed_at
		FROM outcomes
		WHERE event_id = ?
	`, eventID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load record: %w", err)
	}
	return rec, nil
}

// List implements Store.
func (s *SQLiteStore) List(pipeline string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT event_id, pipeline, status, error, stages, duration_ns, completed_at
		FROM outcomes
		WHERE pipeline = ?
		ORDER BY completed_at, event_id
	`, pipeline)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Counts implements Store.
func (s *SQLiteStore) Counts(pipeline string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT status, COUNT(*) FROM outcomes
		WHERE pipeline = ?
		GROUP BY status
	`, pipeline)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.Exec(`DELETE FROM outcomes WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec        Record
		stages     string
		durationNs int64
		completed  string
	)
	if err := row.Scan(&rec.EventID, &rec.Pipeline, &rec.Status, &rec.Error,
		&stages, &durationNs, &completed); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(stages), &rec.Stages); err != nil {
		return Record{}, fmt.Errorf("decode stages: %w", err)
	}
	rec.Duration = time.Duration(durationNs)
	rec.CompletedAt, _ = time.Parse(timeLayout, completed)
	return rec, nil
}
