// Package reports archives completed analyses in a local sqlite database so
// past results can be listed and re-fetched.
package reports

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/constructsafe/constructsafe/internal/utils"
)

type Store struct {
	sql  *sql.DB
	lock *flock.Flock
}

// Report is one archived analysis. Payload holds the full response JSON and
// is omitted from listings.
type Report struct {
	ID              string    `json:"report_id"`
	CreatedAt       time.Time `json:"created_at"`
	Mode            string    `json:"mode"`
	ImageQuality    string    `json:"image_quality"`
	ViolationsFound int       `json:"violations_found"`
	FlaggedCount    int       `json:"flagged_count"`
	Payload         []byte    `json:"-"`
}

// Open opens (or creates) the report database, takes a file lock against
// concurrent writer processes and ensures the schema exists.
func Open(path string) (*Store, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock on %s: %w", lock.Path(), err)
	}
	if !locked {
		utils.Log.Warnf("another process is writing to the report database, waiting for it to finish...")
		if err := lock.Lock(); err != nil {
			return nil, fmt.Errorf("failed to acquire lock on %s after waiting: %w", lock.Path(), err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS reports (
  id               TEXT PRIMARY KEY,
  created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  mode             TEXT NOT NULL,
  image_quality    TEXT NOT NULL,
  violations_found INTEGER NOT NULL,
  flagged_count    INTEGER NOT NULL,
  payload          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_created ON reports(created_at);
	`); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return &Store{sql: db, lock: lock}, nil
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
	if s.sql == nil {
		return nil
	}
	return s.sql.Close()
}

func (s *Store) Insert(ctx context.Context, r Report) error {
	_, err := s.sql.ExecContext(ctx,
		`INSERT INTO reports(id, created_at, mode, image_quality, violations_found, flagged_count, payload)
		 VALUES(?,?,?,?,?,?,?)`,
		r.ID, r.CreatedAt.UTC(), r.Mode, r.ImageQuality, r.ViolationsFound, r.FlaggedCount, string(r.Payload))
	return err
}

// List returns the most recent reports without payloads, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.sql.QueryContext(ctx,
		`SELECT id, created_at, mode, image_quality, violations_found, flagged_count
		 FROM reports ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		var r Report
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.Mode, &r.ImageQuality, &r.ViolationsFound, &r.FlaggedCount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get fetches one report with its payload. A missing id is not an error.
func (s *Store) Get(ctx context.Context, id string) (Report, bool, error) {
	var r Report
	var payload string
	err := s.sql.QueryRowContext(ctx,
		`SELECT id, created_at, mode, image_quality, violations_found, flagged_count, payload
		 FROM reports WHERE id = ?`, id).
		Scan(&r.ID, &r.CreatedAt, &r.Mode, &r.ImageQuality, &r.ViolationsFound, &r.FlaggedCount, &payload)
	if err == sql.ErrNoRows {
		return Report{}, false, nil
	}
	if err != nil {
		return Report{}, false, err
	}
	r.Payload = []byte(payload)
	return r, true, nil
}
