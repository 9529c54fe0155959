// Package transform builds the gold bridge and fact tables from the silver
// dim_game table and the raw records of one extraction day.
package transform

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/blob"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/columnar"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/model"
)

// Stats summarizes one transform run.
type Stats struct {
	RawRecords int            `json:"raw_records"`
	Skipped    int            `json:"skipped"`
	BridgeRows map[string]int `json:"bridge_rows"`
	FactRows   int            `json:"fact_rows"`
	Files      []string       `json:"files"`
}

// Transformer reads silver and bronze and writes gold.
type Transformer struct {
	blobs  blob.Store
	writer *blob.AtomicWriter
	bronze string
	silver string
	gold   string
}

// NewTransformer creates a Transformer.
func NewTransformer(blobs blob.Store, w *blob.AtomicWriter, bronze, silver, gold string) *Transformer {
	return &Transformer{blobs: blobs, writer: w, bronze: bronze, silver: silver, gold: gold}
}

// rawGame is the part of a raw record the transform needs.
type rawGame struct {
	GameLinks
	avgRating  *float64
	bayes      *float64
	usersRated *int32
	date       string
}

// Run transforms the raw records extracted on day.
func (t *Transformer) Run(ctx context.Context, day time.Time) (*Stats, error) {
	log := zap.L().With(zap.String("component", "transform"), zap.String("date", day.Format(blob.DateLayout)))
	stats := &Stats{BridgeRows: map[string]int{}, Files: []string{}}

	dim, err := columnar.ReadAll[model.DimGameRow](ctx, t.blobs, t.silver, blob.TablePrefix(model.TableDimGame))
	if err != nil {
		return nil, eris.Wrap(err, "transform: read dim_game")
	}
	if len(dim) == 0 {
		log.Warn("transform: no dim_game rows, nothing to do")
		return stats, nil
	}
	latest := LatestGames(dim)
	gameSK := make(map[int64]string, len(latest))
	yearOf := make(map[string]int, len(latest))
	for _, g := range latest {
		gameSK[g.BGGGameID] = g.GameID
		yearOf[g.GameID] = g.YearBucket()
	}

	raws, err := t.readRaw(ctx, day, stats)
	if err != nil {
		return nil, err
	}
	if len(raws) == 0 {
		log.Warn("transform: no raw records for date")
		return stats, nil
	}

	links := make([]GameLinks, len(raws))
	inRun := make(map[string]bool, len(raws))
	for i, r := range raws {
		links[i] = r.GameLinks
		if sk, ok := gameSK[r.SourceID]; ok {
			inRun[sk] = true
		}
	}
	replaced := func(r model.BridgeRow) bool { return inRun[r.GameIDSK] }

	for _, d := range model.Dimensions {
		rows := BuildBridge(links, d.Name, gameSK)
		stats.BridgeRows[d.BridgeTable()] = len(rows)

		// Every partition is visited so that links dropped from a game's
		// latest snapshot, or rows left in its previous year, go away.
		byYear := make(map[string][]model.BridgeRow)
		for _, r := range rows {
			key := blob.YearPartitionKey(d.BridgeTable(), yearOf[r.GameIDSK])
			byYear[key] = append(byYear[key], r)
		}
		files, err := columnar.MergeTable(ctx, t.blobs, t.writer, t.gold, blob.TablePrefix(d.BridgeTable()),
			byYear, replaced, lessBridge)
		if err != nil {
			return nil, eris.Wrapf(err, "transform: write %s", d.BridgeTable())
		}
		stats.Files = append(stats.Files, files...)
	}

	facts := buildFacts(raws, gameSK, day)
	stats.FactRows = len(facts)
	byDate := make(map[string][]model.FactRatingRow)
	for _, f := range facts {
		byDate[f.ExtractionDate] = append(byDate[f.ExtractionDate], f)
	}
	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	for _, d := range dates {
		key := blob.DatePartitionKey(model.TableFactRating, d)
		if _, err := columnar.MergeWrite(ctx, t.blobs, t.writer, t.gold, key, byDate[d],
			func(r model.FactRatingRow) bool { return inRun[r.GameIDSK] },
			func(a, b model.FactRatingRow) bool { return a.GameIDSK < b.GameIDSK },
		); err != nil {
			return nil, eris.Wrapf(err, "transform: write %s", key)
		}
		stats.Files = append(stats.Files, key)
	}

	log.Info("transform complete",
		zap.Int("raw_records", stats.RawRecords),
		zap.Int("skipped", stats.Skipped),
		zap.Int("fact_rows", stats.FactRows),
		zap.Int("files", len(stats.Files)),
	)
	return stats, nil
}

// readRaw loads the raw records of day in key order. Unreadable records
// are counted and skipped.
func (t *Transformer) readRaw(ctx context.Context, day time.Time, stats *Stats) ([]rawGame, error) {
	objs, err := t.blobs.List(ctx, t.bronze, blob.RawDatePrefix(day))
	if err != nil {
		return nil, eris.Wrap(err, "transform: list raw records")
	}

	var out []rawGame
	for _, o := range objs {
		data, err := t.blobs.Get(ctx, t.bronze, o.Key)
		if err != nil {
			return nil, eris.Wrapf(err, "transform: read %s", o.Key)
		}
		stats.RawRecords++

		fields, err := model.DecodeRawFields(data)
		if err != nil {
			stats.Skipped++
			zap.L().Warn("transform: skipping undecodable record", zap.String("key", o.Key), zap.Error(err))
			continue
		}
		id, ok := model.SourceID(fields)
		if !ok {
			stats.Skipped++
			zap.L().Warn("transform: skipping record without id", zap.String("key", o.Key))
			continue
		}

		r := rawGame{
			GameLinks:  GameLinks{SourceID: id, Links: make(map[string][]model.Link, len(model.Dimensions))},
			avgRating:  optFloat(fields["average_rating"]),
			bayes:      optFloat(fields["bayes_average"]),
			usersRated: optInt32(fields["users_rated"]),
			date:       factDate(fields["extraction_date"], day),
		}
		for _, d := range model.Dimensions {
			r.Links[d.Name] = model.LinksFrom(fields[d.Source])
		}
		out = append(out, r)
	}
	return out, nil
}

// buildFacts emits one aggregate rating row per game per extraction day.
// A game seen twice on one day keeps its last record.
func buildFacts(raws []rawGame, gameSK map[int64]string, day time.Time) []model.FactRatingRow {
	type key struct{ game, date string }
	idx := make(map[key]int)
	var rows []model.FactRatingRow
	for _, r := range raws {
		sk, ok := gameSK[r.SourceID]
		if !ok {
			continue
		}
		row := model.FactRatingRow{
			UserIDSK:        model.AggregateUser,
			GameIDSK:        sk,
			BGGLatestRating: r.avgRating,
			BayesAverage:    r.bayes,
			UsersRated:      r.usersRated,
			ExtractionDate:  r.date,
		}
		k := key{sk, r.date}
		if i, ok := idx[k]; ok {
			rows[i] = row
			continue
		}
		idx[k] = len(rows)
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ExtractionDate != rows[j].ExtractionDate {
			return rows[i].ExtractionDate < rows[j].ExtractionDate
		}
		return rows[i].GameIDSK < rows[j].GameIDSK
	})
	return rows
}

// factDate is the calendar day of a raw extraction timestamp, or day when
// the record has none.
func factDate(v any, day time.Time) string {
	if s, err := cast.ToStringE(v); err == nil && s != "" {
		if t, err := cast.ToTimeE(s); err == nil {
			return t.UTC().Format(blob.DateLayout)
		}
	}
	return day.UTC().Format(blob.DateLayout)
}

func optFloat(v any) *float64 {
	if v == nil {
		return nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return nil
	}
	return &f
}

func optInt32(v any) *int32 {
	if v == nil {
		return nil
	}
	n, err := cast.ToInt32E(v)
	if err != nil {
		return nil
	}
	return &n
}

// LatestGames keeps one row per game: the one with the latest extraction
// date, with later rows winning ties.
func LatestGames(rows []model.DimGameRow) map[string]model.DimGameRow {
	out := make(map[string]model.DimGameRow, len(rows))
	for _, r := range rows {
		if cur, ok := out[r.GameID]; ok && cur.ExtractionDate > r.ExtractionDate {
			continue
		}
		out[r.GameID] = r
	}
	return out
}
