// Package statestore persists item lifecycle state and the crawl watermark
// behind a small keyed interface with index-scoped queries.
package statestore

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/model"
)

// Index names accepted by Query.
const (
	// IndexStatus ranges over records of one status ordered by
	// last_updated, then numeric id.
	IndexStatus = "status-last-updated"
	// IndexItem ranges over every record of one id ordered by sort key.
	IndexItem = "item"
)

// ErrUnknownIndex is returned for a query naming an index that does not exist.
var ErrUnknownIndex = eris.New("statestore: unknown index")

// Key is the two-part record key.
type Key struct {
	ID   string
	Sort string
}

// Query selects a page of records through an index. On IndexStatus the
// time bounds form the predicate: AtOrAfter <= last_updated < Before, with
// zero values meaning unbounded.
type Query struct {
	Index     string
	Status    model.Status
	ID        string
	AtOrAfter time.Time
	Before    time.Time
	Limit     int
	Cursor    string
}

// Page is one page of query results. An empty Cursor means no more pages.
type Page struct {
	Records []model.ItemState
	Cursor  string
}

// Store is the state store contract. Writes are visible to subsequent reads
// by the same caller. There are no cross-record transactions and errors are
// returned as-is without retry.
type Store interface {
	// Get returns the record or nil when absent.
	Get(ctx context.Context, key Key) (*model.ItemState, error)
	// Put upserts by (ID, Sort); last write wins.
	Put(ctx context.Context, rec model.ItemState) error
	Query(ctx context.Context, q Query) (Page, error)
	// DeleteExpired removes records whose expiry is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)

	Migrate(ctx context.Context) error
	Close() error
}

// KeyOf returns the key of rec.
func KeyOf(rec model.ItemState) Key {
	return Key{ID: rec.ID, Sort: rec.Sort}
}

// QueryAll drains every page of q.
func QueryAll(ctx context.Context, s Store, q Query) ([]model.ItemState, error) {
	var out []model.ItemState
	for {
		page, err := s.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Records...)
		if page.Cursor == "" {
			return out, nil
		}
		q.Cursor = page.Cursor
	}
}

// Open returns a migrated store for the configured driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		s   Store
		err error
	)
	switch driver {
	case "sqlite":
		s, err = NewSQLite(dsn)
	case "postgres":
		s, err = NewPostgres(ctx, dsn)
	default:
		return nil, eris.Errorf("statestore: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
