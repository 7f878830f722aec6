// Package catalog records converted containers in a SQLite database so that
// re-running over the same raw folder skips files already processed.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opencontainers/go-digest"
	_ "modernc.org/sqlite"

	"github.com/flaneur2020/vesper-bin/vesperbin/report"
	"github.com/flaneur2020/vesper-bin/vesperbin/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS containers (
	digest      TEXT PRIMARY KEY,
	path        TEXT NOT NULL,
	session     TEXT NOT NULL,
	kind        TEXT NOT NULL,
	size        INTEGER NOT NULL,
	stream      TEXT NOT NULL,
	profile     TEXT NOT NULL,
	samples     INTEGER NOT NULL,
	warnings    INTEGER NOT NULL,
	report      TEXT NOT NULL,
	convertedAt REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS containers_session ON containers(session);
`

// Entry is one converted container.
type Entry struct {
	Digest      digest.Digest
	Path        string
	Session     string
	Kind        storage.Kind
	Size        int64
	Stream      string
	Profile     string
	Samples     int64
	Warnings    int
	ConvertedAt time.Time
}

// Store is the catalog database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the catalog at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create catalog schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Seen reports whether a container with dgst was already converted.
func (s *Store) Seen(ctx context.Context, dgst digest.Digest) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM containers WHERE digest = ?`, dgst.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query container: %w", err)
	}
	return n > 0, nil
}

// Record stores the outcome of a finished conversion.
func (s *Store) Record(ctx context.Context, dgst digest.Digest, file storage.FileDescriptor, rep *report.Report) error {
	body, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO containers
			(digest, path, session, kind, size, stream, profile, samples, warnings, report, convertedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, dgst.String(), file.Path, file.Session, string(file.Kind), file.Size,
		rep.Stream, rep.Profile, rep.Samples, len(rep.Warnings), string(body), unixFromTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert container: %w", err)
	}
	return nil
}

// List returns every entry, most recent first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT digest, path, session, kind, size, stream, profile, samples, warnings, convertedAt
		FROM containers
		ORDER BY convertedAt DESC, path ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query containers: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var dgst, kind string
		var convertedAt float64
		if err := rows.Scan(&dgst, &e.Path, &e.Session, &kind, &e.Size,
			&e.Stream, &e.Profile, &e.Samples, &e.Warnings, &convertedAt); err != nil {
			return nil, fmt.Errorf("scan container: %w", err)
		}
		e.Digest = digest.Digest(dgst)
		e.Kind = storage.Kind(kind)
		e.ConvertedAt = timeFromUnix(convertedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Report returns the stored report of a container, or nil when unknown.
func (s *Store) Report(ctx context.Context, dgst digest.Digest) (*report.Report, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM containers WHERE digest = ?`, dgst.String()).Scan(&body)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query report: %w", err)
	}
	var rep report.Report
	if err := json.Unmarshal([]byte(body), &rep); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &rep, nil
}

// Forget removes a container so the next run converts it again.
func (s *Store) Forget(ctx context.Context, dgst digest.Digest) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM containers WHERE digest = ?`, dgst.String()); err != nil {
		return fmt.Errorf("delete container: %w", err)
	}
	return nil
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
