package main

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/blob"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/catalog"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/config"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/db"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/resilience"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/secrets"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/statestore"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/warehouse"
)

// stageEnv opens the clients each stage needs on first use and shares
// them across stages for the life of the process. Fields set before first
// use are kept, which lets tests inject in-memory backends.
type stageEnv struct {
	cfg *config.Config

	mu      sync.Mutex
	Blobs   blob.Store
	State   statestore.Store
	Catalog *catalog.Client
	Pool    db.Pool
	closers []func()
}

func newStageEnv(c *config.Config) *stageEnv {
	return &stageEnv{cfg: c}
}

// Close releases every client the env opened.
func (e *stageEnv) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

func (e *stageEnv) blobs(ctx context.Context) (blob.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Blobs != nil {
		return e.Blobs, nil
	}

	b := e.cfg.Blob
	s, err := blob.NewMinIO(blob.MinIOConfig{
		Endpoint:  b.Endpoint,
		AccessKey: b.AccessKey,
		SecretKey: b.SecretKey,
		UseSSL:    b.UseSSL,
		Region:    b.Region,
	})
	if err != nil {
		return nil, err
	}
	if err := s.EnsureBuckets(ctx, b.BronzeBucket, b.SilverBucket, b.GoldBucket); err != nil {
		return nil, err
	}
	e.Blobs = s
	return s, nil
}

func (e *stageEnv) writer(ctx context.Context) (blob.Store, *blob.AtomicWriter, error) {
	s, err := e.blobs(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, blob.NewAtomicWriter(s, e.cfg.Blob.TmpPrefix), nil
}

func (e *stageEnv) state(ctx context.Context) (statestore.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State != nil {
		return e.State, nil
	}

	s, err := statestore.Open(ctx, e.cfg.State.Driver, e.cfg.State.DSN)
	if err != nil {
		return nil, err
	}
	e.State = s
	e.closers = append(e.closers, func() { _ = s.Close() })
	return s, nil
}

// catalog resolves the bearer token and builds the API client. A missing
// secret is a configuration error raised before any request is made.
func (e *stageEnv) catalog(ctx context.Context) (*catalog.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Catalog != nil {
		return e.Catalog, nil
	}

	c := e.cfg.Catalog
	token, err := secrets.FromConfig(c).Token(ctx)
	if err != nil {
		return nil, err
	}
	throttle, err := catalog.NewThrottle(c.Throttle,
		time.Duration(c.RequestDelayMs)*time.Millisecond, c.RatePerSec, c.Burst)
	if err != nil {
		return nil, eris.Wrapf(config.ErrConfiguration, "catalog: %v", err)
	}

	e.Catalog = catalog.New(catalog.Options{
		BaseURL:   c.BaseURL,
		UserAgent: c.UserAgent,
		Token:     token,
		Timeout:   time.Duration(c.TimeoutSecs) * time.Second,
		Throttle:  throttle,
		Retry:     resilience.FromConfig(c.MaxAttempts, c.InitialBackoffMs),
	})
	return e.Catalog, nil
}

func (e *stageEnv) pool(ctx context.Context) (db.Pool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Pool != nil {
		return e.Pool, nil
	}

	dsn := e.cfg.Warehouse.DatabaseURL
	if dsn == "" {
		return nil, eris.Wrap(config.ErrConfiguration, "warehouse: no database_url configured (set warehouse.database_url)")
	}

	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: create connection pool")
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, eris.Wrap(err, "warehouse: ping database")
	}
	e.Pool = p
	e.closers = append(e.closers, p.Close)
	return p, nil
}

// runLog returns the stage run log, or nil when no warehouse is configured
// or it cannot be reached. Stages then run untracked.
func (e *stageEnv) runLog(ctx context.Context) *warehouse.RunLog {
	if e.cfg.Warehouse.DatabaseURL == "" && e.Pool == nil {
		return nil
	}
	p, err := e.pool(ctx)
	if err != nil {
		zap.L().Warn("stage run log unavailable", zap.Error(err))
		return nil
	}
	return warehouse.NewRunLog(p, e.cfg.Warehouse.Schema)
}
