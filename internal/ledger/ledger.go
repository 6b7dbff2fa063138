// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package ledger records dispatcher batches and their stage invocations in a
// SQLite database.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/dispatch"
	_ "modernc.org/sqlite"
)

// Status of a stage invocation.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS dispatch_runs (
	id          TEXT PRIMARY KEY,
	script      TEXT NOT NULL,
	total       INTEGER NOT NULL,
	workers     INTEGER NOT NULL,
	failed      INTEGER,
	started_at  TEXT NOT NULL,
	finished_at TEXT
);
CREATE TABLE IF NOT EXISTS stage_runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	dispatch_id TEXT NOT NULL REFERENCES dispatch_runs(id),
	file_index  INTEGER NOT NULL,
	status      TEXT NOT NULL,
	exit_code   INTEGER,
	error       TEXT,
	started_at  TEXT NOT NULL,
	finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_stage_runs_dispatch ON stage_runs(dispatch_id);
`

// Ledger is an open run ledger.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the ledger at path.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000", schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialise ledger %s: %w", path, err)
		}
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) timestamp() string {
	return l.now().UTC().Format(time.RFC3339Nano)
}

// Batch is one dispatcher invocation.
type Batch struct {
	ID      uuid.UUID
	Script  string
	Total   int
	Workers int
}

// StartBatch records a new batch.
func (l *Ledger) StartBatch(ctx context.Context, script string, total, workers int) (*Batch, error) {
	b := &Batch{ID: uuid.New(), Script: script, Total: total, Workers: workers}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO dispatch_runs (id, script, total, workers, started_at) VALUES (?, ?, ?, ?, ?)`,
		b.ID.String(), script, total, workers, l.timestamp())
	if err != nil {
		return nil, fmt.Errorf("failed to record batch: %w", err)
	}
	return b, nil
}

// FinishBatch stores the number of failed invocations of the batch.
func (l *Ledger) FinishBatch(ctx context.Context, id uuid.UUID, failed int) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE dispatch_runs SET failed = ?, finished_at = ? WHERE id = ?`,
		failed, l.timestamp(), id.String())
	if err != nil {
		return fmt.Errorf("failed to finish batch: %w", err)
	}
	return nil
}

// StartRun records a running invocation and returns its row id.
func (l *Ledger) StartRun(ctx context.Context, batch uuid.UUID, index int) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO stage_runs (dispatch_id, file_index, status, started_at) VALUES (?, ?, ?, ?)`,
		batch.String(), index, string(StatusRunning), l.timestamp())
	if err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun marks an invocation completed, or failed when runErr is set.
func (l *Ledger) FinishRun(ctx context.Context, id int64, runErr error) error {
	status := StatusCompleted
	var msg sql.NullString
	if runErr != nil {
		status = StatusFailed
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := l.db.ExecContext(ctx,
		`UPDATE stage_runs SET status = ?, exit_code = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), dispatch.ExitCode(runErr), msg, l.timestamp(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run %d: %w", id, err)
	}
	return nil
}

// Run is a recorded invocation.
type Run struct {
	ID         int64
	Index      int
	Status     Status
	ExitCode   int
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Runs lists the invocations of a batch by index.
func (l *Ledger) Runs(ctx context.Context, batch uuid.UUID) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, file_index, status, exit_code, error, started_at, finished_at
		FROM stage_runs
		WHERE dispatch_id = ?
		ORDER BY file_index, id`, batch.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			code              sql.NullInt64
			msg, started, end sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Index, &r.Status, &code, &msg, &started, &end); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.ExitCode = int(code.Int64)
		r.Error = msg.String
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = parseTime(end); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s.String)
}

// Failed returns the recorded failure count of a batch, or -1 while it is
// still running.
func (l *Ledger) Failed(ctx context.Context, batch uuid.UUID) (int, error) {
	var n sql.NullInt64
	err := l.db.QueryRowContext(ctx, `SELECT failed FROM dispatch_runs WHERE id = ?`, batch.String()).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("batch %s not found", batch)
	}
	if err != nil {
		return 0, err
	}
	if !n.Valid {
		return -1, nil
	}
	return int(n.Int64), nil
}

// Track wraps r so that every invocation is recorded under batch. Ledger
// errors are reported through the invocation's error.
func (l *Ledger) Track(batch *Batch, r dispatch.Runner) dispatch.Runner {
	return dispatch.RunnerFunc(func(ctx context.Context, index int) error {
		id, err := l.StartRun(ctx, batch.ID, index)
		if err != nil {
			return err
		}
		runErr := r.Run(ctx, index)
		// Record the outcome even when ctx was cancelled mid-run.
		if err := l.FinishRun(context.WithoutCancel(ctx), id, runErr); err != nil {
			return errors.Join(runErr, err)
		}
		return runErr
	})
}
