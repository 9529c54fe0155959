package discovery

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/metrics"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/model"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/statestore"
)

var watermarkKey = statestore.Key{ID: model.WatermarkID, Sort: model.WatermarkSort}

// trending returns up to hot_limit trending ids. A remote failure yields
// an empty list.
func (e *Engine) trending(ctx context.Context) []int64 {
	ids, err := e.catalog.Hot(ctx, e.cfg.HotLimit)
	if err != nil {
		zap.L().Warn("discovery: trending strategy failed", zap.Error(err))
		return nil
	}
	if len(ids) > e.cfg.HotLimit {
		ids = ids[:e.cfg.HotLimit]
	}
	return ids
}

// Watermark returns the current crawl watermark, or the configured start
// id when none has been recorded.
func (e *Engine) Watermark(ctx context.Context) (int64, error) {
	rec, err := e.store.Get(ctx, watermarkKey)
	if err != nil {
		return 0, eris.Wrap(err, "discovery: read watermark")
	}
	start := int64(e.cfg.StartID)
	if start < 1 {
		start = 1
	}
	if rec == nil {
		return start, nil
	}
	wm, err := strconv.ParseInt(rec.Value, 10, 64)
	if err != nil || wm < 1 {
		zap.L().Warn("discovery: unreadable watermark, restarting from start id",
			zap.String("value", rec.Value), zap.Int64("start_id", start))
		return start, nil
	}
	return wm, nil
}

// scanRange checks [watermark, watermark+scan_range_size) in sub-batches
// and keeps the ids that exist. The watermark advances to the window's
// upper bound whatever the window yielded.
func (e *Engine) scanRange(ctx context.Context) ([]int64, model.ScanWindow, error) {
	from, err := e.Watermark(ctx)
	if err != nil {
		return nil, model.ScanWindow{}, err
	}
	window := model.ScanWindow{From: from, To: from}
	if e.cfg.ScanRangeSize <= 0 {
		return nil, window, nil
	}
	window.To = from + int64(e.cfg.ScanRangeSize)

	batchSize := int64(e.cfg.ScanBatchSize)
	if batchSize <= 0 {
		batchSize = 20
	}

	var found []int64
	for start := window.From; start < window.To; start += batchSize {
		if ctx.Err() != nil {
			return nil, window, eris.Wrap(ctx.Err(), "discovery: range scan")
		}
		end := min(start+batchSize, window.To)
		ids := make([]int64, 0, end-start)
		for id := start; id < end; id++ {
			ids = append(ids, id)
		}

		existing, err := e.catalog.Existing(ctx, ids)
		if err != nil {
			zap.L().Warn("discovery: range batch failed",
				zap.Int64("from", start), zap.Int64("to", end), zap.Error(err))
			continue
		}
		found = append(found, existing...)
	}

	if err := e.store.Put(ctx, model.ItemState{
		ID:          model.WatermarkID,
		Sort:        model.WatermarkSort,
		Status:      model.StatusState,
		LastUpdated: e.now().UTC(),
		Value:       strconv.FormatInt(window.To, 10),
	}); err != nil {
		return nil, window, eris.Wrap(err, "discovery: advance watermark")
	}
	metrics.Watermark.Set(float64(window.To))
	return found, window, nil
}

// recentlyCompleted returns ids with a COMPLETED record at or after cutoff.
func (e *Engine) recentlyCompleted(ctx context.Context, cutoff time.Time) (map[int64]bool, error) {
	recs, err := statestore.QueryAll(ctx, e.store, statestore.Query{
		Index:     statestore.IndexStatus,
		Status:    model.StatusCompleted,
		AtOrAfter: cutoff,
	})
	if err != nil {
		return nil, eris.Wrap(err, "discovery: query recent")
	}
	out := make(map[int64]bool, len(recs))
	for _, r := range recs {
		if id, ok := parseItemID(r); ok {
			out[id] = true
		}
	}
	return out, nil
}

// staleCompleted returns up to refresh_limit distinct ids whose COMPLETED
// records are all older than cutoff, oldest first.
func (e *Engine) staleCompleted(ctx context.Context, cutoff time.Time, recent map[int64]bool) ([]int64, error) {
	limit := e.cfg.RefreshLimit
	if limit <= 0 {
		return nil, nil
	}

	q := statestore.Query{
		Index:  statestore.IndexStatus,
		Status: model.StatusCompleted,
		Before: cutoff,
		Limit:  limit,
	}
	seen := make(map[int64]bool)
	var out []int64
	for {
		page, err := e.store.Query(ctx, q)
		if err != nil {
			return nil, eris.Wrap(err, "discovery: query stale")
		}
		for _, r := range page.Records {
			id, ok := parseItemID(r)
			if !ok || seen[id] || recent[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
			if len(out) == limit {
				return out, nil
			}
		}
		if page.Cursor == "" {
			return out, nil
		}
		q.Cursor = page.Cursor
	}
}

// reclaimable returns ids whose latest attempt has been IN_PROGRESS for
// longer than reclaim_after_minutes. Disabled when the setting is zero.
func (e *Engine) reclaimable(ctx context.Context, now time.Time, recent map[int64]bool) ([]int64, error) {
	if e.cfg.ReclaimAfterMinutes <= 0 {
		return nil, nil
	}
	cutoff := now.Add(-time.Duration(e.cfg.ReclaimAfterMinutes) * time.Minute)

	stuck, err := statestore.QueryAll(ctx, e.store, statestore.Query{
		Index:  statestore.IndexStatus,
		Status: model.StatusInProgress,
		Before: cutoff,
	})
	if err != nil {
		return nil, eris.Wrap(err, "discovery: query in-progress")
	}

	seen := make(map[int64]bool)
	var out []int64
	for _, r := range stuck {
		id, ok := parseItemID(r)
		if !ok || seen[id] || recent[id] {
			continue
		}
		seen[id] = true

		latest, err := e.latestAttempt(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		// A newer attempt already moved on.
		if latest == nil || latest.Sort != r.Sort {
			continue
		}
		out = append(out, id)
	}
	if len(out) > 0 {
		zap.L().Warn("discovery: reclaiming stuck items", zap.Int("count", len(out)))
	}
	return out, nil
}

func (e *Engine) latestAttempt(ctx context.Context, id string) (*model.ItemState, error) {
	recs, err := statestore.QueryAll(ctx, e.store, statestore.Query{Index: statestore.IndexItem, ID: id})
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: query item %s", id)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[len(recs)-1], nil
}
