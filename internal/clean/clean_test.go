package clean

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/blob"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/columnar"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/model"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const catanJSON = `{
	"game_id": 13, "bgg_game_id": 13, "extraction_date": "2025-06-01T10:00:00Z",
	"primary_name": "CATAN", "year_published": 1995, "description": "Trade and build.",
	"thumbnail": "t.jpg", "image": "i.jpg",
	"min_players": 3, "max_players": 4, "min_players_best": 4, "max_players_best": 4,
	"min_playtime": 60, "max_playtime": 120, "min_age": 10, "min_age_rec": null,
	"users_rated": 110000, "average_rating": 7.1, "bayes_average": 6.9, "stddev": 1.48,
	"average_weight": 2.3, "rank_boardgame": 500,
	"categories": [{"id": 1021, "name": "Economic"}, {"id": 1026, "name": "Negotiation"}],
	"mechanics": [{"id": 2072, "name": "Dice Rolling"}],
	"themes": [], "publishers": [{"id": 37, "name": "KOSMOS"}],
	"artists": [], "designers": [{"id": 11, "name": "Klaus Teuber"}]
}`

func TestCleanRecord(t *testing.T) {
	cl, err := CleanRecord([]byte(catanJSON), testNow)
	require.NoError(t, err)

	g := cl.Game
	assert.Equal(t, "bgg_13", g.GameID)
	assert.Equal(t, int64(13), g.BGGGameID)
	assert.Equal(t, int32(1995), *g.Year)
	assert.Equal(t, int32(3), *g.MinPlayers)
	assert.Equal(t, int32(4), *g.MaxPlayers)
	assert.Equal(t, int32(10), *g.MinAgeRec, "falls back to min_age")
	assert.Equal(t, int32(60), *g.MinTime)
	assert.Equal(t, int32(500), *g.RankBGG)
	assert.Equal(t, int32(110000), *g.NumVotesBGG)
	assert.InDelta(t, 2.3, *g.Weight, 1e-9)
	assert.InDelta(t, 2.3, *g.ComplexityBGG, 1e-9)
	assert.InDelta(t, 6.9, *g.BayesRatingBGG, 1e-9)
	assert.False(t, g.Cooperative)
	assert.Equal(t, "CATAN", g.PrimaryName)
	assert.Equal(t, "t.jpg", g.ThumbnailURL)
	assert.Equal(t, "2025-06-01T10:00:00Z", g.ExtractionDate)
	assert.Zero(t, cl.CoercionFailures)

	assert.Equal(t, []model.Link{{ID: 1021, Name: "Economic"}, {ID: 1026, Name: "Negotiation"}}, cl.Members["category"])
	assert.Equal(t, []model.Link{{ID: 11, Name: "Klaus Teuber"}}, cl.Members["designer"])
	assert.Empty(t, cl.Members["theme"])
}

func TestCleanRecord_Deterministic(t *testing.T) {
	a, err := CleanRecord([]byte(catanJSON), testNow)
	require.NoError(t, err)
	b, err := CleanRecord([]byte(catanJSON), testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCleanRecord_ZeroPlayers(t *testing.T) {
	cl, err := CleanRecord([]byte(`{"game_id": 7, "min_players": 0, "max_players": 0}`), testNow)
	require.NoError(t, err)
	assert.Equal(t, int32(1), *cl.Game.MinPlayers)
	assert.Equal(t, int32(1), *cl.Game.MaxPlayers)
	assert.Nil(t, cl.Game.Year)
	assert.Equal(t, 0, cl.Game.YearBucket())
	assert.Equal(t, testNow.Format(time.RFC3339), cl.Game.ExtractionDate)
}

func TestCleanRecord_CoercionNullsField(t *testing.T) {
	doc := `{"bgg_game_id": "42", "year_published": "unknown", "average_rating": "n/a",
		"min_players": "2", "rank_boardgame": "Not Ranked", "primary_name": "X"}`
	cl, err := CleanRecord([]byte(doc), testNow)
	require.NoError(t, err)

	assert.Equal(t, int64(42), cl.Game.BGGGameID)
	assert.Nil(t, cl.Game.Year)
	assert.Nil(t, cl.Game.AvgRatingBGG)
	assert.Nil(t, cl.Game.RankBGG)
	assert.Equal(t, int32(2), *cl.Game.MinPlayers)
	assert.Equal(t, 3, cl.CoercionFailures)
}

func TestCleanRecord_Fatal(t *testing.T) {
	for name, doc := range map[string]string{
		"not json":   `{"game_id":`,
		"no id":      `{"primary_name": "Nameless"}`,
		"bad id":     `{"game_id": "abc"}`,
		"zero id":    `{"game_id": 0}`,
		"array root": `[1, 2]`,
	} {
		_, err := CleanRecord([]byte(doc), testNow)
		assert.ErrorIs(t, err, ErrRecordFatal, name)
	}
}

func TestCleanRecord_BareStringLinks(t *testing.T) {
	doc := `{"game_id": 5, "categories": ["Strategy", "", "Card Game"], "mechanics": ["Cooperative Game"]}`
	cl, err := CleanRecord([]byte(doc), testNow)
	require.NoError(t, err)
	assert.Equal(t, []model.Link{{Name: "Strategy"}, {Name: "Card Game"}}, cl.Members["category"])
	assert.True(t, cl.Game.Cooperative)
}

func TestIsCooperative(t *testing.T) {
	// Heuristic, best-effort.
	assert.True(t, IsCooperative([]string{"Dice Rolling", "Cooperative Game"}))
	assert.True(t, IsCooperative([]string{"Semi-Cooperative Game"}))
	assert.True(t, IsCooperative([]string{"COOPERATIVE"}))
	assert.False(t, IsCooperative([]string{"Co-op", "Team-Based Game"}))
	assert.False(t, IsCooperative(nil))
}

func TestNormalizePlayers(t *testing.T) {
	n := func(v int32) *int32 { return &v }
	assert.Nil(t, NormalizePlayers(nil))
	assert.Equal(t, int32(1), *NormalizePlayers(n(0)))
	assert.Equal(t, int32(1), *NormalizePlayers(n(-2)))
	assert.Equal(t, int32(5), *NormalizePlayers(n(5)))
}

func TestDedupeMembers(t *testing.T) {
	rows := DedupeMembers([]model.Link{
		{ID: 2, Name: "B"},
		{ID: 1, Name: "A"},
		{ID: 2, Name: "B renamed"},
		{Name: "Loose"},
		{Name: "Loose"},
	})
	assert.Equal(t, []model.DimMemberRow{
		{ID: 0, Name: "Loose"},
		{ID: 1, Name: "A"},
		{ID: 2, Name: "B"},
	}, rows)
}

func putRaw(t *testing.T, mem *blob.Memory, id int64, doc string) string {
	t.Helper()
	key := blob.RawKey(testNow, id)
	require.NoError(t, mem.Put(context.Background(), "bronze", key, []byte(doc), blob.ContentTypeJSON))
	return key
}

func newTestCleaner(s blob.Store) *Cleaner {
	c := NewCleaner(s, blob.NewAtomicWriter(s, ""), "bronze", "silver")
	c.now = func() time.Time { return testNow }
	return c
}

func TestCleaner_RunDate(t *testing.T) {
	ctx := context.Background()
	mem := blob.NewMemory()
	putRaw(t, mem, 13, catanJSON)
	putRaw(t, mem, 7, `{"game_id": 7, "min_players": 0, "categories": [{"id": 1021, "name": "Economic"}]}`)
	putRaw(t, mem, 8, `not json`)

	stats, err := newTestCleaner(mem).RunDate(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Records)
	assert.Equal(t, 2, stats.Kept)
	assert.Equal(t, 1, stats.Dropped)
	assert.Contains(t, stats.Files, "dim_game/year=1995/data.parquet")
	assert.Contains(t, stats.Files, "dim_game/year=0/data.parquet")
	assert.Contains(t, stats.Files, "dim_category/data.parquet")

	rows, err := columnar.ReadFile[model.DimGameRow](ctx, mem, "silver", "dim_game/year=0/data.parquet")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "bgg_7", rows[0].GameID)
	assert.Equal(t, int32(1), *rows[0].MinPlayers)

	cats, err := columnar.ReadFile[model.DimMemberRow](ctx, mem, "silver", "dim_category/data.parquet")
	require.NoError(t, err)
	assert.Equal(t, []model.DimMemberRow{{ID: 1021, Name: "Economic"}, {ID: 1026, Name: "Negotiation"}}, cats)

	// No temp objects left behind.
	tmp, err := mem.List(ctx, "silver", "_tmp/")
	require.NoError(t, err)
	assert.Empty(t, tmp)
}

func TestCleaner_RerunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := blob.NewMemory()
	key := putRaw(t, mem, 13, catanJSON)
	c := newTestCleaner(mem)

	_, err := c.Run(ctx, []string{key})
	require.NoError(t, err)
	first, err := mem.Get(ctx, "silver", "dim_game/year=1995/data.parquet")
	require.NoError(t, err)

	_, err = c.Run(ctx, []string{key})
	require.NoError(t, err)
	second, err := mem.Get(ctx, "silver", "dim_game/year=1995/data.parquet")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	rows, err := columnar.Decode[model.DimGameRow](second)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCleaner_MergesWithExistingPartition(t *testing.T) {
	ctx := context.Background()
	mem := blob.NewMemory()
	c := newTestCleaner(mem)

	k1 := putRaw(t, mem, 13, catanJSON)
	_, err := c.Run(ctx, []string{k1})
	require.NoError(t, err)

	var other map[string]any
	require.NoError(t, json.Unmarshal([]byte(catanJSON), &other))
	other["game_id"], other["bgg_game_id"], other["primary_name"] = 14, 14, "Other"
	doc, err := json.Marshal(other)
	require.NoError(t, err)
	k2 := putRaw(t, mem, 14, string(doc))
	_, err = c.Run(ctx, []string{k2})
	require.NoError(t, err)

	rows, err := columnar.ReadFile[model.DimGameRow](ctx, mem, "silver", "dim_game/year=1995/data.parquet")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "bgg_13", rows[0].GameID)
	assert.Equal(t, "bgg_14", rows[1].GameID)
}

func TestCleaner_AtomicWriteFailureLeavesNoFinalKey(t *testing.T) {
	ctx := context.Background()
	mem := blob.NewMemory()
	key := putRaw(t, mem, 13, catanJSON)

	store := failingCopyStore{Memory: mem}
	c := NewCleaner(store, blob.NewAtomicWriter(store, ""), "bronze", "silver")

	_, err := c.Run(ctx, []string{key})
	require.Error(t, err)

	ok, err := mem.Exists(ctx, "silver", "dim_game/year=1995/data.parquet")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCleaner_YearChangeMovesGame(t *testing.T) {
	for name, years := range map[string][2]int{
		"later year":   {1995, 1996},
		"earlier year": {1996, 1995},
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mem := blob.NewMemory()
			c := newTestCleaner(mem)

			for i, year := range years {
				var doc map[string]any
				require.NoError(t, json.Unmarshal([]byte(catanJSON), &doc))
				doc["year_published"] = year
				data, err := json.Marshal(doc)
				require.NoError(t, err)

				key := blob.RawKey(testNow.AddDate(0, 0, i), 13)
				require.NoError(t, mem.Put(ctx, "bronze", key, data, blob.ContentTypeJSON))
				_, err = c.Run(ctx, []string{key})
				require.NoError(t, err)
			}

			all, err := columnar.ReadAll[model.DimGameRow](ctx, mem, "silver", "dim_game/")
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, int32(years[1]), *all[0].Year)

			old, err := columnar.ReadFile[model.DimGameRow](ctx, mem, "silver", blob.YearPartitionKey(model.TableDimGame, years[0]))
			require.NoError(t, err)
			assert.Empty(t, old)
		})
	}
}
