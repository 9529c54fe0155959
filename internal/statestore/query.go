package statestore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/model"
)

const defaultPageSize = 100

const columns = "id, sort, status, last_updated, content_hash, error_message, value, expires_at"

// cursor is the keyset position after the last returned record.
type cursor struct {
	LastUpdated time.Time `json:"u"`
	ID          string    `json:"i"`
	Sort        string    `json:"s"`
}

func encodeCursor(rec model.ItemState) string {
	b, _ := json.Marshal(cursor{LastUpdated: rec.LastUpdated.UTC(), ID: rec.ID, Sort: rec.Sort})
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(s string) (*cursor, error) {
	if s == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, eris.Wrap(err, "statestore: decode cursor")
	}
	var c cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, eris.Wrap(err, "statestore: decode cursor")
	}
	return &c, nil
}

// dialect adapts the shared query builder to a driver.
type dialect struct {
	placeholder func(n int) string
	timeArg     func(t time.Time) any
}

// buildQuery renders q as a SELECT fetching limit+1 rows so the caller can
// tell whether another page exists.
func buildQuery(q Query, d dialect) (string, []any, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	cur, err := decodeCursor(q.Cursor)
	if err != nil {
		return "", nil, 0, err
	}

	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return d.placeholder(len(args))
	}

	var order string
	switch q.Index {
	case IndexStatus:
		where = append(where, "status = "+arg(string(q.Status)))
		if !q.AtOrAfter.IsZero() {
			where = append(where, "last_updated >= "+arg(d.timeArg(q.AtOrAfter)))
		}
		if !q.Before.IsZero() {
			where = append(where, "last_updated < "+arg(d.timeArg(q.Before)))
		}
		if cur != nil {
			where = append(where, fmt.Sprintf("(last_updated, length(id), id, sort) > (%s, %s, %s, %s)",
				arg(d.timeArg(cur.LastUpdated)), arg(len(cur.ID)), arg(cur.ID), arg(cur.Sort)))
		}
		// length(id) first makes numeric ids sort numerically.
		order = "last_updated ASC, length(id) ASC, id ASC, sort ASC"
	case IndexItem:
		where = append(where, "id = "+arg(q.ID))
		if cur != nil {
			where = append(where, "sort > "+arg(cur.Sort))
		}
		order = "sort ASC"
	default:
		return "", nil, 0, eris.Wrapf(ErrUnknownIndex, "statestore: index %q", q.Index)
	}

	sql := fmt.Sprintf("SELECT %s FROM item_state WHERE %s ORDER BY %s LIMIT %s",
		columns, strings.Join(where, " AND "), order, arg(limit+1))
	return sql, args, limit, nil
}

// paginate trims the extra look-ahead row and sets the next cursor.
func paginate(recs []model.ItemState, limit int) Page {
	if len(recs) <= limit {
		return Page{Records: recs}
	}
	recs = recs[:limit]
	return Page{Records: recs, Cursor: encodeCursor(recs[len(recs)-1])}
}
