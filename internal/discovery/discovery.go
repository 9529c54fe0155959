// Package discovery decides which catalog items to fetch next. It combines
// the trending list, an incremental id range scan and a refresh of stale
// items into one bounded batch descriptor.
package discovery

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/blob"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/config"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/model"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/statestore"
)

// Catalog is the part of the remote catalog discovery needs.
type Catalog interface {
	Hot(ctx context.Context, limit int) ([]int64, error)
	Existing(ctx context.Context, ids []int64) ([]int64, error)
}

// Writer publishes the batch descriptor.
type Writer interface {
	Write(ctx context.Context, bucket, key string, data []byte, contentType string) error
}

// Result is the outcome of one discovery run.
type Result struct {
	Key        string                `json:"key"`
	Descriptor model.BatchDescriptor `json:"descriptor"`
}

// Engine runs discovery. It reads item state and owns the crawl watermark.
type Engine struct {
	store   statestore.Store
	catalog Catalog
	writer  Writer
	bucket  string
	cfg     *config.DiscoveryConfig
	now     func() time.Time
}

// NewEngine creates an Engine writing descriptors to bucket.
func NewEngine(store statestore.Store, cat Catalog, w Writer, bucket string, cfg *config.DiscoveryConfig) *Engine {
	return &Engine{
		store:   store,
		catalog: cat,
		writer:  w,
		bucket:  bucket,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Run executes every strategy, combines the results and writes the batch
// descriptor. Remote failures inside a strategy yield an empty set; state
// store failures abort the run.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("component", "discovery.engine"))
	now := e.now().UTC()

	hot := e.trending(ctx)

	scanned, window, err := e.scanRange(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := now.AddDate(0, 0, -e.cfg.RefreshDays)
	recent, err := e.recentlyCompleted(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	stale, err := e.staleCompleted(ctx, cutoff, recent)
	if err != nil {
		return nil, err
	}
	reclaimed, err := e.reclaimable(ctx, now, recent)
	if err != nil {
		return nil, err
	}

	ids := Combine(e.cfg.NewIDsLimit, recent, stale, hot, scanned, reclaimed)

	desc := model.BatchDescriptor{
		Timestamp:  now.Format("20060102_150405"),
		GameIDs:    ids,
		TotalCount: len(ids),
		DiscoveryMethods: model.MethodCounts{
			HotGames:  len(hot),
			IDScan:    len(scanned),
			Refresh:   len(stale),
			Reclaimed: len(reclaimed),
		},
		Limits: model.BatchLimits{
			HotLimit:            e.cfg.HotLimit,
			ScanRangeSize:       e.cfg.ScanRangeSize,
			ScanBatchSize:       e.cfg.ScanBatchSize,
			RefreshDays:         e.cfg.RefreshDays,
			RefreshLimit:        e.cfg.RefreshLimit,
			NewIDsLimit:         e.cfg.NewIDsLimit,
			ReclaimAfterMinutes: e.cfg.ReclaimAfterMinutes,
		},
		ScanWindow: window,
	}

	body, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "discovery: marshal descriptor")
	}
	key := blob.DescriptorKey(now)
	if err := e.writer.Write(ctx, e.bucket, key, body, blob.ContentTypeJSON); err != nil {
		return nil, eris.Wrap(err, "discovery: write descriptor")
	}

	log.Info("discovery complete",
		zap.String("key", key),
		zap.Int("total", desc.TotalCount),
		zap.Int("hot", desc.DiscoveryMethods.HotGames),
		zap.Int("id_scan", desc.DiscoveryMethods.IDScan),
		zap.Int("refresh", desc.DiscoveryMethods.Refresh),
		zap.Int("reclaimed", desc.DiscoveryMethods.Reclaimed),
		zap.Int64("watermark", window.To),
	)
	return &Result{Key: key, Descriptor: desc}, nil
}

// Combine builds the output batch: the new candidates (in order, without
// duplicates, minus recent and stale ids) capped at newLimit, followed by
// the stale refresh ids. A negative newLimit disables the cap.
func Combine(newLimit int, recent map[int64]bool, stale []int64, candidates ...[]int64) []int64 {
	staleSet := make(map[int64]bool, len(stale))
	for _, id := range stale {
		staleSet[id] = true
	}

	seen := make(map[int64]bool)
	out := make([]int64, 0)
	for _, set := range candidates {
		for _, id := range set {
			if newLimit >= 0 && len(out) >= newLimit {
				break
			}
			if seen[id] || recent[id] || staleSet[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return append(out, stale...)
}

func parseItemID(rec model.ItemState) (int64, bool) {
	id, err := strconv.ParseInt(rec.ID, 10, 64)
	return id, err == nil
}
