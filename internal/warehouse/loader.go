package warehouse

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/blob"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/columnar"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/db"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/metrics"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/model"
)

// DefaultConcurrency is the number of tables loaded in parallel.
const DefaultConcurrency = 4

var dimGameColumns = []string{
	"game_id", "bgg_game_id", "year", "weight",
	"min_players", "max_players", "min_players_best", "max_players_best",
	"min_age_rec", "min_time", "max_time", "cooperative",
	"rank_bgg", "num_votes_bgg", "avg_rating_bgg", "stddev_rating_bgg", "bayes_rating_bgg", "complexity_bgg",
	"primary_name", "description", "thumbnail_url", "image_url", "extraction_date",
}

var factColumns = []string{
	"user_id_sk", "game_id_sk", "bgg_latest_rating", "bayes_average", "users_rated", "extraction_date",
}

// LoadStats reports the rows written per warehouse table.
type LoadStats struct {
	Tables  map[string]int64 `json:"tables"`
	Skipped []string         `json:"skipped,omitempty"`
}

// Loader copies the silver and gold tables into the warehouse. Dimension
// tables are upserted by key. Bridge and fact tables are replaced in full.
type Loader struct {
	pool        db.Pool
	blobs       blob.Store
	schema      string
	silver      string
	gold        string
	concurrency int
	log         *zap.Logger
}

// NewLoader creates a Loader writing into schema.
func NewLoader(pool db.Pool, blobs blob.Store, schema, silver, gold string) *Loader {
	return &Loader{
		pool:        pool,
		blobs:       blobs,
		schema:      SchemaOrDefault(schema),
		silver:      silver,
		gold:        gold,
		concurrency: DefaultConcurrency,
		log:         zap.L().With(zap.String("component", "warehouse.loader")),
	}
}

// WithConcurrency sets how many tables load at once. Values below 1 mean 1.
func (l *Loader) WithConcurrency(n int) *Loader {
	if n < 1 {
		n = 1
	}
	l.concurrency = n
	return l
}

type loadJob struct {
	table string
	run   func(ctx context.Context) (int64, bool, error)
}

// Load reads every table and writes it to the warehouse. A table with no
// files in blob storage is skipped and left untouched.
func (l *Loader) Load(ctx context.Context) (*LoadStats, error) {
	jobs := []loadJob{{table: model.TableDimGame, run: l.loadDimGame}}
	for _, d := range model.Dimensions {
		jobs = append(jobs,
			loadJob{table: d.Table(), run: l.dimensionLoader(d)},
			loadJob{table: d.BridgeTable(), run: l.bridgeLoader(d)},
		)
	}
	jobs = append(jobs, loadJob{table: model.TableFactRating, run: l.loadFacts})

	stats := &LoadStats{Tables: make(map[string]int64, len(jobs))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			n, ok, err := job.run(gctx)
			metrics.StorageOperations.WithLabelValues("warehouse_load", metrics.Result(err)).Inc()
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if !ok {
				stats.Skipped = append(stats.Skipped, job.table)
				return nil
			}
			stats.Tables[job.table] = n
			l.log.Info("table loaded", zap.String("table", job.table), zap.Int64("rows", n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(stats.Skipped)
	return stats, nil
}

func (l *Loader) loadDimGame(ctx context.Context) (int64, bool, error) {
	rows, err := columnar.ReadAll[model.DimGameRow](ctx, l.blobs, l.silver, blob.TablePrefix(model.TableDimGame))
	if err != nil {
		return 0, false, eris.Wrap(err, "warehouse: read dim_game")
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	n, err := db.BulkUpsert(ctx, l.pool, db.UpsertConfig{
		Table:        l.schema + "." + model.TableDimGame,
		Columns:      dimGameColumns,
		ConflictKeys: []string{"game_id"},
	}, DimGameValues(LatestGames(rows)))
	if err != nil {
		return 0, false, eris.Wrap(err, "warehouse: load dim_game")
	}
	return n, true, nil
}

func (l *Loader) dimensionLoader(d model.Dimension) func(context.Context) (int64, bool, error) {
	return func(ctx context.Context) (int64, bool, error) {
		rows, err := columnar.ReadFile[model.DimMemberRow](ctx, l.blobs, l.silver, blob.TableKey(d.Table()))
		if err != nil {
			return 0, false, eris.Wrapf(err, "warehouse: read %s", d.Table())
		}
		if rows == nil {
			return 0, false, nil
		}
		values := make([][]any, 0, len(rows))
		seen := make(map[string]bool, len(rows))
		for _, r := range rows {
			k := r.Name + "\x00" + strconv.FormatInt(r.ID, 10)
			if seen[k] {
				continue
			}
			seen[k] = true
			values = append(values, []any{r.ID, r.Name, r.Description})
		}
		n, err := db.BulkUpsert(ctx, l.pool, db.UpsertConfig{
			Table:        l.schema + "." + d.Table(),
			Columns:      []string{d.IDColumn(), d.NameColumn(), d.DescriptionColumn()},
			ConflictKeys: []string{d.IDColumn(), d.NameColumn()},
		}, values)
		if err != nil {
			return 0, false, eris.Wrapf(err, "warehouse: load %s", d.Table())
		}
		return n, true, nil
	}
}

func (l *Loader) bridgeLoader(d model.Dimension) func(context.Context) (int64, bool, error) {
	return func(ctx context.Context) (int64, bool, error) {
		parts, err := columnar.ReadTable[model.BridgeRow](ctx, l.blobs, l.gold, blob.TablePrefix(d.BridgeTable()))
		if err != nil {
			return 0, false, eris.Wrapf(err, "warehouse: read %s", d.BridgeTable())
		}
		if len(parts) == 0 {
			return 0, false, nil
		}
		var values [][]any
		for _, p := range parts {
			for _, r := range p.Rows {
				values = append(values, []any{r.GameIDSK, r.MemberSK, r.MemberID, r.MemberName})
			}
		}
		n, err := db.ReplaceAll(ctx, l.pool, l.schema, d.BridgeTable(),
			[]string{"game_id_sk", d.SKColumn(), d.IDColumn(), d.NameColumn()}, values)
		if err != nil {
			return 0, false, eris.Wrapf(err, "warehouse: load %s", d.BridgeTable())
		}
		return n, true, nil
	}
}

func (l *Loader) loadFacts(ctx context.Context) (int64, bool, error) {
	parts, err := columnar.ReadTable[model.FactRatingRow](ctx, l.blobs, l.gold, blob.TablePrefix(model.TableFactRating))
	if err != nil {
		return 0, false, eris.Wrap(err, "warehouse: read fct_user_rating")
	}
	if len(parts) == 0 {
		return 0, false, nil
	}
	var values [][]any
	for _, p := range parts {
		for _, r := range p.Rows {
			values = append(values, []any{r.UserIDSK, r.GameIDSK, r.BGGLatestRating, r.BayesAverage, r.UsersRated, r.ExtractionDate})
		}
	}
	n, err := db.ReplaceAll(ctx, l.pool, l.schema, model.TableFactRating, factColumns, values)
	if err != nil {
		return 0, false, eris.Wrap(err, "warehouse: load fct_user_rating")
	}
	return n, true, nil
}

// LatestGames keeps one row per game_id, preferring the latest extraction
// date. A game whose year changed between runs has a row in two year
// partitions; only the newer one reaches the warehouse.
func LatestGames(rows []model.DimGameRow) []model.DimGameRow {
	latest := make(map[string]model.DimGameRow, len(rows))
	for _, r := range rows {
		if cur, ok := latest[r.GameID]; !ok || r.ExtractionDate > cur.ExtractionDate {
			latest[r.GameID] = r
		}
	}
	out := make([]model.DimGameRow, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BGGGameID < out[j].BGGGameID })
	return out
}

// DimGameValues converts rows to COPY values in dimGameColumns order.
func DimGameValues(rows []model.DimGameRow) [][]any {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = []any{
			r.GameID, r.BGGGameID, r.Year, r.Weight,
			r.MinPlayers, r.MaxPlayers, r.MinPlayersBest, r.MaxPlayersBest,
			r.MinAgeRec, r.MinTime, r.MaxTime, r.Cooperative,
			r.RankBGG, r.NumVotesBGG, r.AvgRatingBGG, r.StddevRatingBGG, r.BayesRatingBGG, r.ComplexityBGG,
			r.PrimaryName, r.Description, r.ThumbnailURL, r.ImageURL, r.ExtractionDate,
		}
	}
	return values
}

// Table returns the schema-qualified identifier of a warehouse table.
func Table(schema, table string) pgx.Identifier {
	return pgx.Identifier{SchemaOrDefault(schema), table}
}
