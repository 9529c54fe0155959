package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/db"
)

// Stage run statuses.
const (
	RunRunning  = "running"
	RunComplete = "complete"
	RunFailed   = "failed"
)

// StageRun represents a row in stage_runs.
type StageRun struct {
	ID          int64          `json:"id"`
	Stage       string         `json:"stage"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// RunLog provides read/write access to the stage_runs table.
type RunLog struct {
	pool  db.Pool
	table string
}

// NewRunLog creates a RunLog backed by the given connection pool.
func NewRunLog(pool db.Pool, schema string) *RunLog {
	return &RunLog{pool: pool, table: Table(schema, "stage_runs").Sanitize()}
}

// Start records the beginning of a stage run and returns its ID.
func (r *RunLog) Start(ctx context.Context, stage string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO `+r.table+` (stage, status, started_at)
		 VALUES ($1, 'running', now()) RETURNING id`,
		stage,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "runlog: start %s", stage)
	}
	return id, nil
}

// Complete marks a stage run as successfully completed. metadata is
// stored as JSON and may be nil.
func (r *RunLog) Complete(ctx context.Context, runID int64, metadata any) error {
	var metaJSON []byte
	if metadata != nil {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return eris.Wrap(err, "runlog: marshal metadata")
		}
	}

	_, err := r.pool.Exec(ctx,
		`UPDATE `+r.table+`
		 SET status = 'complete', completed_at = now(), metadata = $1
		 WHERE id = $2`,
		metaJSON, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %d", runID)
	}
	return nil
}

// Fail marks a stage run as failed with an error message.
func (r *RunLog) Fail(ctx context.Context, runID int64, errMsg string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE `+r.table+`
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %d", runID)
	}
	return nil
}

// LastSuccess returns the start time of the most recent successful run of
// stage, or nil if it never completed.
func (r *RunLog) LastSuccess(ctx context.Context, stage string) (*time.Time, error) {
	var t time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT started_at FROM `+r.table+`
		 WHERE stage = $1 AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		stage,
	).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "runlog: last success for %s", stage)
	}
	return &t, nil
}

// List returns up to limit runs ordered by most recent first.
func (r *RunLog) List(ctx context.Context, limit int) ([]StageRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, stage, status, started_at, completed_at, error, metadata
		 FROM `+r.table+` ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list")
	}
	defer rows.Close()

	var runs []StageRun
	for rows.Next() {
		var s StageRun
		var errStr *string
		var metaJSON []byte
		if err := rows.Scan(&s.ID, &s.Stage, &s.Status, &s.StartedAt, &s.CompletedAt, &errStr, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "runlog: scan run")
		}
		if errStr != nil {
			s.Error = *errStr
		}
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &s.Metadata)
		}
		runs = append(runs, s)
	}
	return runs, rows.Err()
}

// Track runs fn between Start and Complete or Fail. When r is nil, fn runs
// untracked.
func Track[T any](ctx context.Context, r *RunLog, stage string, fn func(context.Context) (T, error)) (T, error) {
	if r == nil {
		return fn(ctx)
	}
	id, err := r.Start(ctx, stage)
	if err != nil {
		var zero T
		return zero, err
	}
	out, err := fn(ctx)
	if err != nil {
		if ferr := r.Fail(ctx, id, err.Error()); ferr != nil {
			return out, errors.Join(err, ferr)
		}
		return out, err
	}
	if err := r.Complete(ctx, id, out); err != nil {
		return out, err
	}
	return out, nil
}
