package statestore

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are
// stored as fixed-width UTC text so lexical order is time order.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "statestore: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "statestore: sqlite exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS item_state (
	id            TEXT NOT NULL,
	sort          TEXT NOT NULL,
	status        TEXT NOT NULL,
	last_updated  TEXT NOT NULL,
	content_hash  TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	value         TEXT NOT NULL DEFAULT '',
	expires_at    TEXT,
	PRIMARY KEY (id, sort)
);

CREATE INDEX IF NOT EXISTS idx_item_state_status_updated ON item_state(status, last_updated, id, sort);
CREATE INDEX IF NOT EXISTS idx_item_state_expires_at ON item_state(expires_at);
`

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	timeArg:     func(t time.Time) any { return model.SortKey(t) },
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "statestore: sqlite migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key Key) (*model.ItemState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM item_state WHERE id = ? AND sort = ?`,
		key.ID, key.Sort,
	)
	rec, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "statestore: get %s/%s", key.ID, key.Sort)
	}
	return rec, nil
}

func (s *SQLiteStore) Put(ctx context.Context, rec model.ItemState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO item_state (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id, sort) DO UPDATE SET
			status = excluded.status,
			last_updated = excluded.last_updated,
			content_hash = excluded.content_hash,
			error_message = excluded.error_message,
			value = excluded.value,
			expires_at = excluded.expires_at`,
		rec.ID, rec.Sort, string(rec.Status), model.SortKey(rec.LastUpdated),
		rec.ContentHash, rec.ErrorMessage, rec.Value, nullableTime(rec.ExpiresAt),
	)
	return eris.Wrapf(err, "statestore: put %s/%s", rec.ID, rec.Sort)
}

func (s *SQLiteStore) Query(ctx context.Context, q Query) (Page, error) {
	query, args, limit, err := buildQuery(q, sqliteDialect)
	if err != nil {
		return Page{}, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Page{}, eris.Wrap(err, "statestore: query")
	}
	defer rows.Close() //nolint:errcheck

	var recs []model.ItemState
	for rows.Next() {
		rec, err := scanSQLite(rows)
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

func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM item_state WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		model.SortKey(now),
	)
	if err != nil {
		return 0, eris.Wrap(err, "statestore: delete expired")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "statestore: rows affected")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLite(row scannable) (*model.ItemState, error) {
	var (
		rec         model.ItemState
		status      string
		lastUpdated string
		expiresAt   sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.Sort, &status, &lastUpdated,
		&rec.ContentHash, &rec.ErrorMessage, &rec.Value, &expiresAt); err != nil {
		return nil, err
	}
	rec.Status = model.Status(status)

	t, err := time.Parse(model.SortLayout, lastUpdated)
	if err != nil {
		return nil, eris.Wrapf(err, "statestore: parse last_updated %s", strconv.Quote(lastUpdated))
	}
	rec.LastUpdated = t
	if expiresAt.Valid {
		if rec.ExpiresAt, err = time.Parse(model.SortLayout, expiresAt.String); err != nil {
			return nil, eris.Wrap(err, "statestore: parse expires_at")
		}
	}
	return &rec, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return model.SortKey(t)
}
