package model

import "strconv"

// Table names shared by the silver, gold and warehouse layers.
const (
	TableDimGame    = "dim_game"
	TableFactRating = "fct_user_rating"
)

// AggregateUser is the user key of fact rows built from catalog aggregates.
const AggregateUser = "bgg_aggregate"

// Dimension describes one lookup dimension fed by a raw link list.
type Dimension struct {
	Name   string // singular, e.g. "category"
	Source string // raw record field, e.g. "categories"
}

// Dimensions lists every lookup dimension in processing order.
var Dimensions = []Dimension{
	{Name: "category", Source: "categories"},
	{Name: "mechanic", Source: "mechanics"},
	{Name: "theme", Source: "themes"},
	{Name: "publisher", Source: "publishers"},
	{Name: "artist", Source: "artists"},
	{Name: "designer", Source: "designers"},
}

// Table is the silver lookup table name.
func (d Dimension) Table() string { return "dim_" + d.Name }

// BridgeTable is the gold bridge table name.
func (d Dimension) BridgeTable() string { return "br_game_" + d.Name }

// IDColumn is the natural key column name in the warehouse.
func (d Dimension) IDColumn() string { return d.Name + "_id" }

// SKColumn is the run-scoped surrogate key column name in the warehouse.
func (d Dimension) SKColumn() string { return d.Name + "_sk" }

// NameColumn is the member name column name in the warehouse.
func (d Dimension) NameColumn() string { return d.Name + "_name" }

// DescriptionColumn is the description column name in the warehouse.
func (d Dimension) DescriptionColumn() string { return d.Name + "_description" }

// Links returns the raw link list this dimension reads from g.
func (d Dimension) Links(g *RawGame) []Link {
	switch d.Source {
	case "categories":
		return g.Categories
	case "mechanics":
		return g.Mechanics
	case "themes":
		return g.Themes
	case "publishers":
		return g.Publishers
	case "artists":
		return g.Artists
	case "designers":
		return g.Designers
	}
	return nil
}

// SurrogateKey derives the game surrogate key from its source id. It is a
// pure function of the id.
func SurrogateKey(sourceID int64) string {
	return "bgg_" + strconv.FormatInt(sourceID, 10)
}

// DimGameRow is one cleaned game in the silver dim_game table.
type DimGameRow struct {
	GameID          string   `parquet:"game_id" json:"game_id"`
	BGGGameID       int64    `parquet:"bgg_game_id" json:"bgg_game_id"`
	Year            *int32   `parquet:"year,optional" json:"year"`
	Weight          *float64 `parquet:"weight,optional" json:"weight"`
	MinPlayers      *int32   `parquet:"min_players,optional" json:"min_players"`
	MaxPlayers      *int32   `parquet:"max_players,optional" json:"max_players"`
	MinPlayersBest  *int32   `parquet:"min_players_best,optional" json:"min_players_best"`
	MaxPlayersBest  *int32   `parquet:"max_players_best,optional" json:"max_players_best"`
	MinAgeRec       *int32   `parquet:"min_age_rec,optional" json:"min_age_rec"`
	MinTime         *int32   `parquet:"min_time,optional" json:"min_time"`
	MaxTime         *int32   `parquet:"max_time,optional" json:"max_time"`
	Cooperative     bool     `parquet:"cooperative" json:"cooperative"`
	RankBGG         *int32   `parquet:"rank_bgg,optional" json:"rank_bgg"`
	NumVotesBGG     *int32   `parquet:"num_votes_bgg,optional" json:"num_votes_bgg"`
	AvgRatingBGG    *float64 `parquet:"avg_rating_bgg,optional" json:"avg_rating_bgg"`
	StddevRatingBGG *float64 `parquet:"stddev_rating_bgg,optional" json:"stddev_rating_bgg"`
	BayesRatingBGG  *float64 `parquet:"bayes_rating_bgg,optional" json:"bayes_rating_bgg"`
	ComplexityBGG   *float64 `parquet:"complexity_bgg,optional" json:"complexity_bgg"`
	PrimaryName     string   `parquet:"primary_name" json:"primary_name"`
	Description     string   `parquet:"description" json:"description"`
	ThumbnailURL    string   `parquet:"thumbnail_url" json:"thumbnail_url"`
	ImageURL        string   `parquet:"image_url" json:"image_url"`
	ExtractionDate  string   `parquet:"extraction_date" json:"extraction_date"`
}

// YearBucket returns the partition year; unknown years go to bucket 0.
func (r DimGameRow) YearBucket() int {
	if r.Year == nil {
		return 0
	}
	return int(*r.Year)
}

// DimMemberRow is one member of a silver lookup dimension.
type DimMemberRow struct {
	ID          int64  `parquet:"id" json:"id"`
	Name        string `parquet:"name" json:"name"`
	Description string `parquet:"description" json:"description"`
}

// BridgeRow links a game to one dimension member. MemberSK is scoped to the
// transform run that produced it; MemberID is the source id when known.
type BridgeRow struct {
	GameIDSK   string `parquet:"game_id_sk" json:"game_id_sk"`
	MemberSK   int32  `parquet:"member_sk" json:"member_sk"`
	MemberID   *int64 `parquet:"member_id,optional" json:"member_id"`
	MemberName string `parquet:"member_name" json:"member_name"`
}

// FactRatingRow is one aggregate rating row per game per extraction day.
type FactRatingRow struct {
	UserIDSK        string   `parquet:"user_id_sk" json:"user_id_sk"`
	GameIDSK        string   `parquet:"game_id_sk" json:"game_id_sk"`
	BGGLatestRating *float64 `parquet:"bgg_latest_rating,optional" json:"bgg_latest_rating"`
	BayesAverage    *float64 `parquet:"bayes_average,optional" json:"bayes_average"`
	UsersRated      *int32   `parquet:"users_rated,optional" json:"users_rated"`
	ExtractionDate  string   `parquet:"extraction_date" json:"extraction_date"`
}
