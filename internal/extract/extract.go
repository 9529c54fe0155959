// Package extract fetches catalog items one at a time, persists the raw
// record to the bronze bucket and records each attempt in the state store.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/blob"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/metrics"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/model"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/statestore"
)

// Fetcher returns the parsed record for one item.
type Fetcher interface {
	Thing(ctx context.Context, id int64) (*model.RawGame, error)
}

// Writer publishes a raw record.
type Writer interface {
	Write(ctx context.Context, bucket, key string, data []byte, contentType string) error
}

// Result summarizes one batch.
type Result struct {
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
	FailedIDs []int64  `json:"failed_ids"`
	Keys      []string `json:"keys"`
}

// Worker runs extraction. Concurrent workers on overlapping ids may both
// fetch the same item; raw writes are keyed by id and day so the later
// write wins.
type Worker struct {
	store     statestore.Store
	fetcher   Fetcher
	writer    Writer
	bucket    string
	retention time.Duration
	now       func() time.Time
}

// NewWorker creates a Worker writing raw records to bucket. Item state
// records expire retentionDays after their last update.
func NewWorker(store statestore.Store, f Fetcher, w Writer, bucket string, retentionDays int) *Worker {
	if retentionDays <= 0 {
		retentionDays = 180
	}
	return &Worker{
		store:     store,
		fetcher:   f,
		writer:    w,
		bucket:    bucket,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
	}
}

// Run processes ids in order. Item failures are recorded and skipped;
// only state store errors and cancellation stop the batch.
func (w *Worker) Run(ctx context.Context, ids []int64) (*Result, error) {
	log := zap.L().With(zap.String("component", "extract.worker"))
	res := &Result{FailedIDs: []int64{}, Keys: []string{}}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrapf(err, "extract: cancelled after %d of %d items", i, len(ids))
		}

		key, err := w.Process(ctx, id)
		switch {
		case err == nil:
			res.Completed++
			res.Keys = append(res.Keys, key)
		case isItemFailure(err):
			res.Failed++
			res.FailedIDs = append(res.FailedIDs, id)
		default:
			return res, err
		}

		if (i+1)%50 == 0 {
			log.Info("extraction progress",
				zap.Int("done", i+1),
				zap.Int("total", len(ids)),
				zap.Int("failed", res.Failed),
			)
		}
	}

	log.Info("extraction complete",
		zap.Int("completed", res.Completed),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// itemError marks a failure recorded against one item.
type itemError struct{ err error }

func (e *itemError) Error() string { return e.err.Error() }
func (e *itemError) Unwrap() error { return e.err }

func isItemFailure(err error) bool {
	var ie *itemError
	return eris.As(err, &ie)
}

// Process extracts one item: IN_PROGRESS, fetch, raw write, then COMPLETED
// with the content hash, or FAILED with the error message. It returns the
// raw record key. A fetch or write failure is returned as an item failure
// after it has been recorded; a state store failure is returned as is.
func (w *Worker) Process(ctx context.Context, id int64) (string, error) {
	attempt := w.now().UTC()
	rec := model.ItemState{
		ID:          model.ItemKey(id),
		Sort:        model.SortKey(attempt),
		Status:      model.StatusInProgress,
		LastUpdated: attempt,
		ExpiresAt:   attempt.Add(w.retention),
	}
	if err := w.store.Put(ctx, rec); err != nil {
		return "", eris.Wrapf(err, "extract: mark %d in progress", id)
	}

	key, hash, err := w.fetchAndStore(ctx, id)
	if err != nil {
		zap.L().Warn("extract: item failed", zap.Int64("item_id", id), zap.Error(err))
		if ferr := w.finish(ctx, rec, model.StatusFailed, "", err.Error()); ferr != nil {
			return "", ferr
		}
		return "", &itemError{err: err}
	}

	if err := w.finish(ctx, rec, model.StatusCompleted, hash, ""); err != nil {
		return "", err
	}
	return key, nil
}

func (w *Worker) fetchAndStore(ctx context.Context, id int64) (key, hash string, err error) {
	game, err := w.fetcher.Thing(ctx, id)
	if err != nil {
		return "", "", err
	}

	payload, err := json.Marshal(game)
	if err != nil {
		return "", "", eris.Wrapf(err, "extract: marshal item %d", id)
	}

	key = blob.RawKey(w.now(), id)
	if err := w.writer.Write(ctx, w.bucket, key, payload, blob.ContentTypeJSON); err != nil {
		return "", "", eris.Wrapf(err, "extract: write item %d", id)
	}
	return key, ContentHash(game), nil
}

func (w *Worker) finish(ctx context.Context, rec model.ItemState, status model.Status, hash, msg string) error {
	now := w.now().UTC()
	rec.Status = status
	rec.LastUpdated = now
	rec.ContentHash = hash
	rec.ErrorMessage = msg
	rec.ExpiresAt = now.Add(w.retention)

	metrics.ItemsProcessed.WithLabelValues(string(status)).Inc()
	if err := w.store.Put(ctx, rec); err != nil {
		return eris.Wrapf(err, "extract: mark %s %s", rec.ID, status)
	}
	return nil
}

// ContentHash fingerprints the source payload of a record.
func ContentHash(g *model.RawGame) string {
	sum := sha256.Sum256([]byte(g.RawXML))
	return hex.EncodeToString(sum[:])
}
