// Package clean turns bronze raw records into the silver dim_game table and
// its lookup dimensions.
package clean

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/blob"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/columnar"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/metrics"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/model"
)

// ErrRecordFatal marks a raw record that cannot be cleaned at all. The
// record is dropped and the batch continues.
var ErrRecordFatal = eris.New("clean: unusable record")

// Cleaned is the output of cleaning one raw record.
type Cleaned struct {
	Game    model.DimGameRow
	Members map[string][]model.Link // by dimension name
	// CoercionFailures counts fields that were nulled.
	CoercionFailures int
}

// Stats summarizes one cleaner run.
type Stats struct {
	Records          int      `json:"records"`
	Kept             int      `json:"kept"`
	Dropped          int      `json:"dropped"`
	CoercionFailures int      `json:"coercion_failures"`
	Files            []string `json:"files"`
}

// CleanRecord cleans one raw JSON record. now stamps records that carry no
// extraction date. The result depends only on data when the record has one.
func CleanRecord(data []byte, now time.Time) (*Cleaned, error) {
	fields, err := model.DecodeRawFields(data)
	if err != nil {
		return nil, eris.Wrapf(ErrRecordFatal, "decode: %v", err)
	}

	sourceID, ok := model.SourceID(fields)
	if !ok {
		return nil, eris.Wrap(ErrRecordFatal, "missing source id")
	}
	r := &record{fields: fields, itemID: sourceID}

	members := make(map[string][]model.Link, len(model.Dimensions))
	for _, d := range model.Dimensions {
		members[d.Name] = model.LinksFrom(fields[d.Source])
	}
	mechanics := make([]string, 0, len(members["mechanic"]))
	for _, m := range members["mechanic"] {
		mechanics = append(mechanics, m.Name)
	}

	extracted := r.string("extraction_date")
	if extracted == "" {
		extracted = now.UTC().Format(time.RFC3339)
	}

	row := model.DimGameRow{
		GameID:          model.SurrogateKey(sourceID),
		BGGGameID:       sourceID,
		Year:            r.int32("year_published"),
		Weight:          r.float64("average_weight"),
		MinPlayers:      NormalizePlayers(r.int32("min_players")),
		MaxPlayers:      NormalizePlayers(r.int32("max_players")),
		MinPlayersBest:  r.int32("min_players_best"),
		MaxPlayersBest:  r.int32("max_players_best"),
		MinAgeRec:       r.firstInt32("min_age_rec", "min_age"),
		MinTime:         r.int32("min_playtime"),
		MaxTime:         r.int32("max_playtime"),
		Cooperative:     IsCooperative(mechanics),
		RankBGG:         r.int32("rank_boardgame"),
		NumVotesBGG:     r.int32("users_rated"),
		AvgRatingBGG:    r.float64("average_rating"),
		StddevRatingBGG: r.float64("stddev"),
		BayesRatingBGG:  r.float64("bayes_average"),
		ComplexityBGG:   r.float64("average_weight"),
		PrimaryName:     r.string("primary_name"),
		Description:     r.string("description"),
		ThumbnailURL:    r.string("thumbnail"),
		ImageURL:        r.string("image"),
		ExtractionDate:  extracted,
	}

	return &Cleaned{Game: row, Members: members, CoercionFailures: r.failures}, nil
}

// Cleaner reads raw records from bronze and writes silver tables.
type Cleaner struct {
	blobs  blob.Store
	writer *blob.AtomicWriter
	bronze string
	silver string
	now    func() time.Time
}

// NewCleaner creates a Cleaner.
func NewCleaner(blobs blob.Store, w *blob.AtomicWriter, bronze, silver string) *Cleaner {
	return &Cleaner{blobs: blobs, writer: w, bronze: bronze, silver: silver, now: time.Now}
}

// RunDate cleans every raw record extracted on day.
func (c *Cleaner) RunDate(ctx context.Context, day time.Time) (*Stats, error) {
	objs, err := c.blobs.List(ctx, c.bronze, blob.RawDatePrefix(day))
	if err != nil {
		return nil, eris.Wrap(err, "clean: list raw records")
	}
	keys := make([]string, 0, len(objs))
	for _, o := range objs {
		keys = append(keys, o.Key)
	}
	return c.Run(ctx, keys)
}

// Run cleans the raw records at keys. Bad records are logged and skipped;
// storage failures abort the run.
func (c *Cleaner) Run(ctx context.Context, keys []string) (*Stats, error) {
	log := zap.L().With(zap.String("component", "clean.cleaner"))
	stats := &Stats{Files: []string{}}

	games := make(map[string]model.DimGameRow)
	members := make(map[string][]model.Link)

	for _, key := range keys {
		data, err := c.blobs.Get(ctx, c.bronze, key)
		if err != nil {
			return nil, eris.Wrapf(err, "clean: read %s", key)
		}
		stats.Records++

		cl, err := CleanRecord(data, c.now())
		if err != nil {
			stats.Dropped++
			metrics.CleanerRecords.WithLabelValues("dropped").Inc()
			log.Warn("clean: dropping record", zap.String("key", key), zap.Error(err))
			continue
		}

		stats.Kept++
		stats.CoercionFailures += cl.CoercionFailures
		metrics.CleanerRecords.WithLabelValues("kept").Inc()
		if cl.CoercionFailures > 0 {
			metrics.CleanerRecords.WithLabelValues("coerced").Inc()
		}

		// Later keys win for a game seen twice.
		games[cl.Game.GameID] = cl.Game
		for name, links := range cl.Members {
			members[name] = append(members[name], links...)
		}
	}

	files, err := c.writeGames(ctx, games)
	if err != nil {
		return nil, err
	}
	stats.Files = append(stats.Files, files...)

	for _, d := range model.Dimensions {
		rows := DedupeMembers(members[d.Name])
		if len(rows) == 0 {
			continue
		}
		key := blob.TableKey(d.Table())
		if _, err := columnar.MergeWrite(ctx, c.blobs, c.writer, c.silver, key, rows,
			replacedBy(rows), lessMember); err != nil {
			return nil, eris.Wrapf(err, "clean: write %s", d.Table())
		}
		stats.Files = append(stats.Files, key)
	}

	log.Info("clean complete",
		zap.Int("records", stats.Records),
		zap.Int("kept", stats.Kept),
		zap.Int("dropped", stats.Dropped),
		zap.Int("coercion_failures", stats.CoercionFailures),
		zap.Int("files", len(stats.Files)),
	)
	return stats, nil
}

// writeGames merges the cleaned games into their year partitions. A game
// whose year changed is removed from its old partition.
func (c *Cleaner) writeGames(ctx context.Context, games map[string]model.DimGameRow) ([]string, error) {
	if len(games) == 0 {
		return nil, nil
	}
	byYear := make(map[string][]model.DimGameRow)
	for _, g := range games {
		key := blob.YearPartitionKey(model.TableDimGame, g.YearBucket())
		byYear[key] = append(byYear[key], g)
	}

	files, err := columnar.MergeTable(ctx, c.blobs, c.writer, c.silver, blob.TablePrefix(model.TableDimGame), byYear,
		func(r model.DimGameRow) bool { _, ok := games[r.GameID]; return ok },
		func(a, b model.DimGameRow) bool { return a.BGGGameID < b.BGGGameID },
	)
	if err != nil {
		return nil, eris.Wrap(err, "clean: write dim_game")
	}
	return files, nil
}

// DedupeMembers collapses links to one row per member. Members are keyed
// by source id, or by name when the source gave none. The first name seen
// for an id wins.
func DedupeMembers(links []model.Link) []model.DimMemberRow {
	seen := make(map[string]bool, len(links))
	out := make([]model.DimMemberRow, 0, len(links))
	for _, l := range links {
		k := memberKey(l.ID, l.Name)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, model.DimMemberRow{ID: l.ID, Name: l.Name})
	}
	sort.Slice(out, func(i, j int) bool { return lessMember(out[i], out[j]) })
	return out
}

func memberKey(id int64, name string) string {
	if id != 0 {
		return "id:" + cast.ToString(id)
	}
	return "name:" + name
}

func replacedBy(rows []model.DimMemberRow) func(model.DimMemberRow) bool {
	keys := make(map[string]bool, len(rows))
	for _, r := range rows {
		keys[memberKey(r.ID, r.Name)] = true
	}
	return func(r model.DimMemberRow) bool { return keys[memberKey(r.ID, r.Name)] }
}

func lessMember(a, b model.DimMemberRow) bool {
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.Name < b.Name
}
