package transform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/blob"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/columnar"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/model"
)

var testDay = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func i32(v int32) *int32 { return &v }

func seedSilver(t *testing.T, mem *blob.Memory, rows map[int][]model.DimGameRow) {
	t.Helper()
	for year, rs := range rows {
		data, err := columnar.Encode(rs)
		require.NoError(t, err)
		require.NoError(t, mem.Put(context.Background(), "silver",
			blob.YearPartitionKey(model.TableDimGame, year), data, blob.ContentTypeParquet))
	}
}

func seedRaw(t *testing.T, mem *blob.Memory, id int64, doc string) {
	t.Helper()
	require.NoError(t, mem.Put(context.Background(), "bronze", blob.RawKey(testDay, id), []byte(doc), blob.ContentTypeJSON))
}

func newTestTransformer(mem *blob.Memory) *Transformer {
	return NewTransformer(mem, blob.NewAtomicWriter(mem, ""), "bronze", "silver", "gold")
}

func TestAssignMemberKeys_SortedAndDense(t *testing.T) {
	games := []GameLinks{
		{SourceID: 1, Links: map[string][]model.Link{"category": {{Name: "Wargame"}, {Name: "Economic"}}}},
		{SourceID: 2, Links: map[string][]model.Link{"category": {{Name: "Economic"}, {Name: " Abstract "}, {Name: ""}}}},
	}
	keys := AssignMemberKeys(games, "category")
	assert.Equal(t, map[string]int32{"Abstract": 1, "Economic": 2, "Wargame": 3}, keys)

	// Same input, same keys.
	assert.Equal(t, keys, AssignMemberKeys(games, "category"))
	assert.Empty(t, AssignMemberKeys(games, "mechanic"))
}

func TestBuildBridge_UniquePairs(t *testing.T) {
	games := []GameLinks{
		{SourceID: 1, Links: map[string][]model.Link{"category": {
			{ID: 10, Name: "Economic"}, {ID: 10, Name: "Economic"}, {Name: "Trains"},
		}}},
		{SourceID: 1, Links: map[string][]model.Link{"category": {{ID: 10, Name: "Economic"}}}},
		{SourceID: 2, Links: map[string][]model.Link{"category": {{ID: 10, Name: "Economic"}}}},
		{SourceID: 3, Links: map[string][]model.Link{"category": {{Name: "Orphan"}}}},
	}
	sk := map[int64]string{1: "bgg_1", 2: "bgg_2"}

	rows := BuildBridge(games, "category", sk)
	require.Len(t, rows, 3)

	seen := map[[2]any]bool{}
	for _, r := range rows {
		k := [2]any{r.GameIDSK, r.MemberSK}
		assert.False(t, seen[k], "duplicate pair %v", k)
		seen[k] = true
	}

	assert.Equal(t, "bgg_1", rows[0].GameIDSK)
	assert.Equal(t, "Economic", rows[0].MemberName)
	require.NotNil(t, rows[0].MemberID)
	assert.Equal(t, int64(10), *rows[0].MemberID)
	assert.Equal(t, "Trains", rows[1].MemberName)
	assert.Nil(t, rows[1].MemberID)
	assert.Equal(t, "bgg_2", rows[2].GameIDSK)
	// Orphan is not a game in the cleaned table, but it still took a key.
	assert.Equal(t, rows[0].MemberSK, rows[2].MemberSK)
}

func TestTransformer_Run(t *testing.T) {
	ctx := context.Background()
	mem := blob.NewMemory()
	seedSilver(t, mem, map[int][]model.DimGameRow{
		1995: {{GameID: "bgg_13", BGGGameID: 13, Year: i32(1995)}},
		0:    {{GameID: "bgg_7", BGGGameID: 7}},
	})
	seedRaw(t, mem, 13, `{"game_id": 13, "extraction_date": "2025-06-01T10:00:00Z",
		"average_rating": 7.1, "bayes_average": 6.9, "users_rated": 110000,
		"categories": [{"id": 1021, "name": "Economic"}, {"id": 1026, "name": "Negotiation"}],
		"mechanics": [{"id": 2072, "name": "Dice Rolling"}]}`)
	seedRaw(t, mem, 7, `{"game_id": 7, "categories": ["Strategy"], "average_rating": null}`)
	seedRaw(t, mem, 8, `{"primary_name": "no id"}`)

	stats, err := newTestTransformer(mem).Run(ctx, testDay)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.RawRecords)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 3, stats.BridgeRows["br_game_category"])
	assert.Equal(t, 1, stats.BridgeRows["br_game_mechanic"])
	assert.Equal(t, 2, stats.FactRows)

	cat95, err := columnar.ReadFile[model.BridgeRow](ctx, mem, "gold", "br_game_category/year=1995/data.parquet")
	require.NoError(t, err)
	require.Len(t, cat95, 2)
	assert.Equal(t, "Economic", cat95[0].MemberName)
	assert.Equal(t, int32(1), cat95[0].MemberSK)

	cat0, err := columnar.ReadFile[model.BridgeRow](ctx, mem, "gold", "br_game_category/year=0/data.parquet")
	require.NoError(t, err)
	require.Len(t, cat0, 1)
	assert.Equal(t, "bgg_7", cat0[0].GameIDSK)
	assert.Equal(t, "Strategy", cat0[0].MemberName)
	assert.Equal(t, int32(3), cat0[0].MemberSK)

	facts, err := columnar.ReadFile[model.FactRatingRow](ctx, mem, "gold", "fct_user_rating/extraction_date=2025-06-01/data.parquet")
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "bgg_13", facts[0].GameIDSK)
	assert.Equal(t, model.AggregateUser, facts[0].UserIDSK)
	assert.InDelta(t, 7.1, *facts[0].BGGLatestRating, 1e-9)
	assert.Equal(t, int32(110000), *facts[0].UsersRated)
	assert.Nil(t, facts[1].BGGLatestRating)
}

func TestTransformer_RerunDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	mem := blob.NewMemory()
	seedSilver(t, mem, map[int][]model.DimGameRow{
		2020: {{GameID: "bgg_5", BGGGameID: 5, Year: i32(2020)}, {GameID: "bgg_6", BGGGameID: 6, Year: i32(2020)}},
	})
	seedRaw(t, mem, 5, `{"game_id": 5, "mechanics": ["Cooperative Game", "Hand Management"]}`)
	tr := newTestTransformer(mem)

	_, err := tr.Run(ctx, testDay)
	require.NoError(t, err)
	_, err = tr.Run(ctx, testDay)
	require.NoError(t, err)

	rows, err := columnar.ReadFile[model.BridgeRow](ctx, mem, "gold", "br_game_mechanic/year=2020/data.parquet")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// A later day for another game keeps the first game's rows.
	next := testDay.AddDate(0, 0, 1)
	require.NoError(t, mem.Put(ctx, "bronze", blob.RawKey(next, 6),
		[]byte(`{"game_id": 6, "mechanics": ["Drafting"]}`), blob.ContentTypeJSON))
	_, err = tr.Run(ctx, next)
	require.NoError(t, err)

	rows, err = columnar.ReadFile[model.BridgeRow](ctx, mem, "gold", "br_game_mechanic/year=2020/data.parquet")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestTransformer_NoSilver(t *testing.T) {
	mem := blob.NewMemory()
	seedRaw(t, mem, 1, `{"game_id": 1}`)

	stats, err := newTestTransformer(mem).Run(context.Background(), testDay)
	require.NoError(t, err)
	assert.Empty(t, stats.Files)
}

func TestTransformer_FactDateFromRecord(t *testing.T) {
	assert.Equal(t, "2025-05-31", factDate("2025-05-31T23:59:59Z", testDay))
	assert.Equal(t, "2025-06-01", factDate(nil, testDay))
	assert.Equal(t, "2025-06-01", factDate("garbage", testDay))
}

func seedRawOn(t *testing.T, mem *blob.Memory, day time.Time, id int64, doc string) {
	t.Helper()
	require.NoError(t, mem.Put(context.Background(), "bronze", blob.RawKey(day, id), []byte(doc), blob.ContentTypeJSON))
}

func categoryBridge(t *testing.T, mem *blob.Memory) []columnar.Partition[model.BridgeRow] {
	t.Helper()
	parts, err := columnar.ReadTable[model.BridgeRow](context.Background(), mem, "gold", "br_game_category/")
	require.NoError(t, err)
	return parts
}

func TestTransformer_YearChangeMovesBridgeRows(t *testing.T) {
	for name, years := range map[string][2]int{
		"later year":   {2019, 2020},
		"earlier year": {2020, 2019},
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mem := blob.NewMemory()
			tr := newTestTransformer(mem)
			doc := `{"game_id": 13, "categories": [{"id": 1009, "name": "Strategy"}]}`
			day2 := testDay.AddDate(0, 0, 1)

			seedSilver(t, mem, map[int][]model.DimGameRow{
				years[0]: {{GameID: "bgg_13", BGGGameID: 13, Year: i32(int32(years[0])), ExtractionDate: "2025-06-01T10:00:00Z"}},
			})
			seedRawOn(t, mem, testDay, 13, doc)
			_, err := tr.Run(ctx, testDay)
			require.NoError(t, err)

			// Cleaning the next day moves the game to its new year.
			seedSilver(t, mem, map[int][]model.DimGameRow{
				years[0]: {},
				years[1]: {{GameID: "bgg_13", BGGGameID: 13, Year: i32(int32(years[1])), ExtractionDate: "2025-06-02T10:00:00Z"}},
			})
			seedRawOn(t, mem, day2, 13, doc)
			_, err = tr.Run(ctx, day2)
			require.NoError(t, err)

			var all []model.BridgeRow
			for _, p := range categoryBridge(t, mem) {
				if p.Key == blob.YearPartitionKey("br_game_category", years[0]) {
					assert.Empty(t, p.Rows, "old partition keeps no rows")
				}
				all = append(all, p.Rows...)
			}
			require.Len(t, all, 1)
			assert.Equal(t, "bgg_13", all[0].GameIDSK)

			rows, err := columnar.ReadFile[model.BridgeRow](ctx, mem, "gold", blob.YearPartitionKey("br_game_category", years[1]))
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, "Strategy", rows[0].MemberName)
		})
	}
}

func TestTransformer_YearFromLatestExtraction(t *testing.T) {
	ctx := context.Background()
	mem := blob.NewMemory()
	// Stale duplicate rows: the newer extraction sits in the partition read first.
	seedSilver(t, mem, map[int][]model.DimGameRow{
		2019: {{GameID: "bgg_13", BGGGameID: 13, Year: i32(2019), ExtractionDate: "2025-06-02T10:00:00Z"}},
		2020: {{GameID: "bgg_13", BGGGameID: 13, Year: i32(2020), ExtractionDate: "2025-06-01T10:00:00Z"}},
	})
	seedRaw(t, mem, 13, `{"game_id": 13, "categories": ["Strategy"]}`)

	_, err := newTestTransformer(mem).Run(ctx, testDay)
	require.NoError(t, err)

	parts := categoryBridge(t, mem)
	require.Len(t, parts, 1)
	assert.Equal(t, "br_game_category/year=2019/data.parquet", parts[0].Key)
}

func TestTransformer_DroppedLinkRemovesBridgeRow(t *testing.T) {
	ctx := context.Background()
	mem := blob.NewMemory()
	tr := newTestTransformer(mem)
	seedSilver(t, mem, map[int][]model.DimGameRow{
		2019: {{GameID: "bgg_13", BGGGameID: 13, Year: i32(2019)}, {GameID: "bgg_14", BGGGameID: 14, Year: i32(2019)}},
	})

	seedRawOn(t, mem, testDay, 13, `{"game_id": 13, "categories": [{"id": 1, "name": "Strategy"}]}`)
	seedRawOn(t, mem, testDay, 14, `{"game_id": 14, "categories": [{"id": 2, "name": "Family"}]}`)
	_, err := tr.Run(ctx, testDay)
	require.NoError(t, err)

	day2 := testDay.AddDate(0, 0, 1)
	seedRawOn(t, mem, day2, 13, `{"game_id": 13, "categories": []}`)
	stats, err := tr.Run(ctx, day2)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.BridgeRows["br_game_category"])
	assert.Contains(t, stats.Files, "br_game_category/year=2019/data.parquet")

	rows, err := columnar.ReadFile[model.BridgeRow](ctx, mem, "gold", "br_game_category/year=2019/data.parquet")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "bgg_14", rows[0].GameIDSK)
}

func TestLatestGames(t *testing.T) {
	got := LatestGames([]model.DimGameRow{
		{GameID: "bgg_1", Year: i32(2001), ExtractionDate: "2025-06-02T00:00:00Z"},
		{GameID: "bgg_1", Year: i32(2000), ExtractionDate: "2025-06-01T00:00:00Z"},
		{GameID: "bgg_2", Year: i32(1999), ExtractionDate: "2025-06-01T00:00:00Z"},
	})
	require.Len(t, got, 2)
	assert.Equal(t, int32(2001), *got["bgg_1"].Year)
	assert.Equal(t, int32(1999), *got["bgg_2"].Year)
}
