// Package reportstore persists delivered research reports in SQLite.
package reportstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// ErrReportNotFound is returned when no report exists for a lookup.
var ErrReportNotFound = errors.New("report not found")

// Report is the delivered research artifact.
type Report struct {
	ID            string    `json:"id"`
	JobID         string    `json:"job_id"`
	Title         string    `json:"title"`
	Markdown      string    `json:"markdown"`
	Sections      int       `json:"sections"`
	UniqueSources int       `json:"unique_sources"`
	CreatedAt     time.Time `json:"created_at"`
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open opens the SQLite report archive with required pragmas and migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	stmts := []string{
		"PRAGMA foreign_keys=ON;",
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Store provides persistence for delivered reports.
type Store struct {
	db *sql.DB
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts or replaces the report for its job.
func (s *Store) Save(ctx context.Context, r *Report) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO reports
		(report_id, job_id, title, markdown, sections, unique_sources, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.JobID, r.Title, r.Markdown, r.Sections, r.UniqueSources,
		r.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// GetByJobID returns the report delivered for a job.
func (s *Store) GetByJobID(ctx context.Context, jobID string) (*Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT report_id, job_id, title, markdown,
		sections, unique_sources, created_at FROM reports WHERE job_id = ?`, jobID)
	return scanReport(row)
}

// Get returns the report with the given ID.
func (s *Store) Get(ctx context.Context, reportID string) (*Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT report_id, job_id, title, markdown,
		sections, unique_sources, created_at FROM reports WHERE report_id = ?`, reportID)
	return scanReport(row)
}

// List returns all reports, newest first.
func (s *Store) List(ctx context.Context) ([]*Report, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT report_id, job_id, title, markdown,
		sections, unique_sources, created_at FROM reports ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []*Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*Report, error) {
	var r Report
	var createdAt string
	err := row.Scan(&r.ID, &r.JobID, &r.Title, &r.Markdown, &r.Sections, &r.UniqueSources, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan report: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		r.CreatedAt = t
	}
	return &r, nil
}
