package quality

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/db"
)

// PostgresResultStore appends results to the quality_results table.
type PostgresResultStore struct {
	pool  db.Pool
	table string
}

// NewPostgresResultStore creates a store writing to schema.quality_results.
func NewPostgresResultStore(pool db.Pool, schema string) *PostgresResultStore {
	return &PostgresResultStore{pool: pool, table: pgx.Identifier{schema, "quality_results"}.Sanitize()}
}

// Append inserts r. check_id is the primary key, so a result is never
// overwritten.
func (s *PostgresResultStore) Append(ctx context.Context, r *Result) error {
	checks, err := json.Marshal(r.Checks)
	if err != nil {
		return eris.Wrap(err, "quality: marshal results")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.table+` (check_id, table_name, checked_at, overall_status, results)
		 VALUES ($1, $2, $3, $4, $5)`,
		r.CheckID, r.TableName, r.Timestamp, r.OverallStatus, checks,
	)
	if err != nil {
		return eris.Wrapf(err, "quality: append result %s", r.CheckID)
	}
	return nil
}

// Latest returns the most recent results for table, newest first.
func (s *PostgresResultStore) Latest(ctx context.Context, table string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT check_id, table_name, checked_at, overall_status, results
		 FROM `+s.table+` WHERE table_name = $1 ORDER BY checked_at DESC LIMIT $2`,
		table, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "quality: latest results for %s", table)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		var checks []byte
		if err := rows.Scan(&r.CheckID, &r.TableName, &r.Timestamp, &r.OverallStatus, &checks); err != nil {
			return nil, eris.Wrap(err, "quality: scan result")
		}
		if err := json.Unmarshal(checks, &r.Checks); err != nil {
			return nil, eris.Wrapf(err, "quality: decode result %s", r.CheckID)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
