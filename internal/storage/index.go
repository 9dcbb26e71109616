package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	model       TEXT NOT NULL,
	integrator  TEXT NOT NULL,
	domain      TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	seed        INTEGER NOT NULL,
	particles   INTEGER NOT NULL,
	dt          REAL NOT NULL,
	steps       INTEGER NOT NULL,
	steps_taken INTEGER NOT NULL,
	accelerator INTEGER NOT NULL,
	backend     TEXT NOT NULL,
	metrics     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_model_created ON runs (model, created_at DESC);
`

// Index is a SQLite table of run metadata for filtered listing. The run
// directories stay authoritative; Reindex rebuilds the table from them.
type Index struct {
	db *sql.DB
}

// Filter narrows Query. Zero fields match everything.
type Filter struct {
	Model      string
	Integrator string
	Since      time.Time
	Limit      int
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

func OpenIndex(path string) (*Index, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("index path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(indexSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Index{db: db}, nil
}

func (x *Index) Close() error {
	if x == nil || x.db == nil {
		return nil
	}
	return x.db.Close()
}

// Put inserts or replaces the row for meta.ID.
func (x *Index) Put(ctx context.Context, meta RunMetadata) error {
	metrics, err := json.Marshal(meta.Metrics)
	if err != nil {
		return err
	}
	_, err = x.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (
		   id, model, integrator, domain, created_at, seed, particles,
		   dt, steps, steps_taken, accelerator, backend, metrics
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.ID, meta.Model, meta.Integrator, meta.Domain, toMillis(meta.Timestamp),
		meta.Seed, meta.Particles, meta.Dt, meta.Steps, meta.StepsTaken,
		meta.Accelerator, meta.Backend, string(metrics),
	)
	if err != nil {
		return fmt.Errorf("index run %s: %w", meta.ID, err)
	}
	return nil
}

func (x *Index) Delete(ctx context.Context, runID string) error {
	_, err := x.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	return err
}

// Query returns matching runs, newest first.
func (x *Index) Query(ctx context.Context, f Filter) ([]RunMetadata, error) {
	var (
		where []string
		args  []any
	)
	if f.Model != "" {
		where = append(where, "model = ?")
		args = append(args, f.Model)
	}
	if f.Integrator != "" {
		where = append(where, "integrator = ?")
		args = append(args, f.Integrator)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, toMillis(f.Since))
	}

	q := `SELECT id, model, integrator, domain, created_at, seed, particles,
	             dt, steps, steps_taken, accelerator, backend, metrics
	      FROM runs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := x.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]RunMetadata, 0)
	for rows.Next() {
		var (
			meta    RunMetadata
			created int64
			metrics string
		)
		if err := rows.Scan(&meta.ID, &meta.Model, &meta.Integrator, &meta.Domain, &created,
			&meta.Seed, &meta.Particles, &meta.Dt, &meta.Steps, &meta.StepsTaken,
			&meta.Accelerator, &meta.Backend, &metrics); err != nil {
			return nil, err
		}
		meta.Timestamp = fromMillis(created)
		if err := json.Unmarshal([]byte(metrics), &meta.Metrics); err != nil {
			return nil, fmt.Errorf("run %s metrics: %w", meta.ID, err)
		}
		runs = append(runs, meta)
	}
	return runs, rows.Err()
}

func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n)
	return n, err
}
