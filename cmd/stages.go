package main

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/alert"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/blob"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/clean"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/discovery"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/extract"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/quality"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/stage"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/transform"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/warehouse"
)

// latestBatch selects the newest discovery descriptor in an extract request.
const latestBatch = "latest"

// buildRegistry wires every stage to env. Each stage validates its
// configuration before doing any work and is recorded in the stage run
// log when a warehouse is configured.
func buildRegistry(env *stageEnv) stage.Registry {
	return stage.Registry{
		stage.Discover:  tracked(env, stage.Discover, env.runDiscover),
		stage.Extract:   tracked(env, stage.Extract, env.runExtract),
		stage.Clean:     tracked(env, stage.Clean, env.runClean),
		stage.Transform: tracked(env, stage.Transform, env.runTransform),
		stage.Load:      tracked(env, stage.Load, env.runLoad),
		stage.Quality:   tracked(env, stage.Quality, env.runQuality),
	}
}

func tracked(env *stageEnv, name string, fn stage.Func) stage.Func {
	return func(ctx context.Context, req stage.Request) (any, error) {
		if err := env.cfg.Validate(name); err != nil {
			return nil, err
		}
		return warehouse.Track(ctx, env.runLog(ctx), name, func(ctx context.Context) (any, error) {
			return fn(ctx, req)
		})
	}
}

func (e *stageEnv) runDiscover(ctx context.Context, _ stage.Request) (any, error) {
	cat, err := e.catalog(ctx)
	if err != nil {
		return nil, err
	}
	st, err := e.state(ctx)
	if err != nil {
		return nil, err
	}
	_, w, err := e.writer(ctx)
	if err != nil {
		return nil, err
	}
	return discovery.NewEngine(st, cat, w, e.cfg.Blob.BronzeBucket, &e.cfg.Discovery).Run(ctx)
}

func (e *stageEnv) runExtract(ctx context.Context, req stage.Request) (any, error) {
	cat, err := e.catalog(ctx)
	if err != nil {
		return nil, err
	}
	st, err := e.state(ctx)
	if err != nil {
		return nil, err
	}
	store, w, err := e.writer(ctx)
	if err != nil {
		return nil, err
	}

	ids, err := e.extractIDs(ctx, store, req)
	if err != nil {
		return nil, err
	}
	return extract.NewWorker(st, cat, w, e.cfg.Blob.BronzeBucket, e.cfg.State.RetentionDays).Run(ctx, ids)
}

// extractIDs resolves the ids of an extract request: explicit ids win,
// then a named or latest discovery batch.
func (e *stageEnv) extractIDs(ctx context.Context, store blob.Store, req stage.Request) ([]int64, error) {
	if len(req.GameIDs) > 0 {
		return req.GameIDs, nil
	}
	if req.BatchKey == "" {
		return nil, stage.BadRequest(eris.New("extract: game_ids or batch_key is required"))
	}

	bucket := e.cfg.Blob.BronzeBucket
	if req.BatchKey == latestBatch {
		desc, _, err := discovery.LatestDescriptor(ctx, store, bucket)
		if err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				return nil, stage.BadRequest(err)
			}
			return nil, err
		}
		return desc.GameIDs, nil
	}
	desc, err := discovery.ReadDescriptor(ctx, store, bucket, req.BatchKey)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, stage.BadRequest(err)
		}
		return nil, err
	}
	return desc.GameIDs, nil
}

func (e *stageEnv) runClean(ctx context.Context, req stage.Request) (any, error) {
	store, w, err := e.writer(ctx)
	if err != nil {
		return nil, err
	}
	c := clean.NewCleaner(store, w, e.cfg.Blob.BronzeBucket, e.cfg.Blob.SilverBucket)
	if len(req.Keys) > 0 {
		return c.Run(ctx, req.Keys)
	}
	day, err := req.Day(time.Now())
	if err != nil {
		return nil, err
	}
	return c.RunDate(ctx, day)
}

func (e *stageEnv) runTransform(ctx context.Context, req stage.Request) (any, error) {
	day, err := req.Day(time.Now())
	if err != nil {
		return nil, err
	}
	store, w, err := e.writer(ctx)
	if err != nil {
		return nil, err
	}
	b := e.cfg.Blob
	return transform.NewTransformer(store, w, b.BronzeBucket, b.SilverBucket, b.GoldBucket).Run(ctx, day)
}

func (e *stageEnv) runLoad(ctx context.Context, _ stage.Request) (any, error) {
	store, err := e.blobs(ctx)
	if err != nil {
		return nil, err
	}
	pool, err := e.pool(ctx)
	if err != nil {
		return nil, err
	}
	b := e.cfg.Blob
	return warehouse.NewLoader(pool, store, e.cfg.Warehouse.Schema, b.SilverBucket, b.GoldBucket).Load(ctx)
}

func (e *stageEnv) runQuality(ctx context.Context, req stage.Request) (any, error) {
	rules, err := quality.LoadRules(e.cfg.Quality.RulesPath)
	if err != nil {
		return nil, err
	}
	pool, err := e.pool(ctx)
	if err != nil {
		return nil, err
	}
	schema := warehouse.SchemaOrDefault(e.cfg.Warehouse.Schema)
	engine := quality.NewEngine(pool, schema, rules,
		quality.NewPostgresResultStore(pool, schema), alert.FromConfig(e.cfg.Alert))

	if req.Table == "" {
		return engine.RunAll(ctx)
	}
	res, err := engine.Run(ctx, req.Table)
	if errors.Is(err, quality.ErrNoRules) {
		return nil, stage.BadRequest(err)
	}
	return res, err
}
