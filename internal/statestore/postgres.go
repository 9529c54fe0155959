package statestore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/db"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "statestore: postgres parse config")
	}
	pgxCfg.MaxConns = 4
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "statestore: postgres connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS item_state (
	id            TEXT NOT NULL,
	sort          TEXT NOT NULL,
	status        TEXT NOT NULL,
	last_updated  TIMESTAMPTZ NOT NULL,
	content_hash  TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	value         TEXT NOT NULL DEFAULT '',
	expires_at    TIMESTAMPTZ,
	PRIMARY KEY (id, sort)
);

CREATE INDEX IF NOT EXISTS idx_item_state_status_updated ON item_state(status, last_updated, id, sort);
CREATE INDEX IF NOT EXISTS idx_item_state_expires_at ON item_state(expires_at);
`

var postgresDialect = dialect{
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	timeArg:     func(t time.Time) any { return t.UTC() },
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "statestore: postgres migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (*model.ItemState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+columns+` FROM item_state WHERE id = $1 AND sort = $2`,
		key.ID, key.Sort,
	)
	rec, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "statestore: get %s/%s", key.ID, key.Sort)
	}
	return rec, nil
}

func (s *PostgresStore) Put(ctx context.Context, rec model.ItemState) error {
	var expires *time.Time
	if !rec.ExpiresAt.IsZero() {
		t := rec.ExpiresAt.UTC()
		expires = &t
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO item_state (`+columns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id, sort) DO UPDATE SET
			status = EXCLUDED.status,
			last_updated = EXCLUDED.last_updated,
			content_hash = EXCLUDED.content_hash,
			error_message = EXCLUDED.error_message,
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at`,
		rec.ID, rec.Sort, string(rec.Status), rec.LastUpdated.UTC(),
		rec.ContentHash, rec.ErrorMessage, rec.Value, expires,
	)
	return eris.Wrapf(err, "statestore: put %s/%s", rec.ID, rec.Sort)
}

func (s *PostgresStore) Query(ctx context.Context, q Query) (Page, error) {
	query, args, limit, err := buildQuery(q, postgresDialect)
	if err != nil {
		return Page{}, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return Page{}, eris.Wrap(err, "statestore: query")
	}
	defer rows.Close()

	var recs []model.ItemState
	for rows.Next() {
		rec, err := scanPostgres(rows)
		if err != nil {
			return Page{}, eris.Wrap(err, "statestore: scan")
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return Page{}, eris.Wrap(err, "statestore: query rows")
	}
	return paginate(recs, limit), nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM item_state WHERE expires_at IS NOT NULL AND expires_at <= $1`,
		now.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "statestore: delete expired")
	}
	return int(tag.RowsAffected()), nil
}

func scanPostgres(row pgx.Row) (*model.ItemState, error) {
	var (
		rec     model.ItemState
		status  string
		expires *time.Time
	)
	if err := row.Scan(&rec.ID, &rec.Sort, &status, &rec.LastUpdated,
		&rec.ContentHash, &rec.ErrorMessage, &rec.Value, &expires); err != nil {
		return nil, err
	}
	rec.Status = model.Status(status)
	rec.LastUpdated = rec.LastUpdated.UTC()
	if expires != nil {
		rec.ExpiresAt = expires.UTC()
	}
	return &rec, nil
}
