package model

import (
	"strconv"
	"strings"
)

// Link is a (source id, name) pair from a game's link list.
type Link struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// PlayerCountVotes is one row of the suggested player count poll.
type PlayerCountVotes struct {
	Best           int `json:"best"`
	Recommended    int `json:"recommended"`
	NotRecommended int `json:"not_recommended"`
}

// LanguageVote is one level of the language dependence poll.
type LanguageVote struct {
	Description string `json:"description"`
	Votes       int    `json:"votes"`
}

// RawGame is the canonical record produced by extraction and written to
// the bronze layer. Nullable numerics are pointers.
type RawGame struct {
	GameID         int64  `json:"game_id"`
	BGGGameID      int64  `json:"bgg_game_id"`
	ExtractionDate string `json:"extraction_date"`

	PrimaryName    string   `json:"primary_name"`
	AlternateNames []string `json:"alternate_names"`

	YearPublished *int   `json:"year_published"`
	Description   string `json:"description"`
	Thumbnail     string `json:"thumbnail"`
	Image         string `json:"image"`

	MinPlayers     *int `json:"min_players"`
	MaxPlayers     *int `json:"max_players"`
	MinPlayersBest *int `json:"min_players_best"`
	MaxPlayersBest *int `json:"max_players_best"`

	MinPlaytime *int `json:"min_playtime"`
	MaxPlaytime *int `json:"max_playtime"`
	PlayingTime *int `json:"playing_time"`

	MinAge    *int `json:"min_age"`
	MinAgeRec *int `json:"min_age_rec"`

	SuggestedNumPlayers map[string]PlayerCountVotes `json:"suggested_numplayers"`
	SuggestedPlayerAge  map[string]int              `json:"suggested_playerage"`
	LanguageDependence  map[string]LanguageVote     `json:"language_dependence"`

	Designers  []Link `json:"designers"`
	Artists    []Link `json:"artists"`
	Publishers []Link `json:"publishers"`
	Categories []Link `json:"categories"`
	Mechanics  []Link `json:"mechanics"`
	Themes     []Link `json:"themes"`

	UsersRated    *int     `json:"users_rated"`
	AverageRating *float64 `json:"average_rating"`
	BayesAverage  *float64 `json:"bayes_average"`
	StdDev        *float64 `json:"stddev"`
	Median        *float64 `json:"median"`
	Owned         *int     `json:"owned"`
	Trading       *int     `json:"trading"`
	Wanting       *int     `json:"wanting"`
	Wishing       *int     `json:"wishing"`
	NumComments   *int     `json:"num_comments"`
	NumWeights    *int     `json:"num_weights"`
	AverageWeight *float64 `json:"average_weight"`

	RankBoardgame *int `json:"rank_boardgame"`
	RankStrategy  *int `json:"rank_strategy"`
	RankFamily    *int `json:"rank_family"`

	RawXML string `json:"raw_xml"`
}

// LinksFrom converts a decoded JSON link list into Links. Elements may be
// {id, name} objects or bare strings; bare strings have no source id.
// Elements with an empty name are dropped.
func LinksFrom(v any) []Link {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []Link
	for _, it := range items {
		switch x := it.(type) {
		case string:
			if name := strings.TrimSpace(x); name != "" {
				out = append(out, Link{Name: name})
			}
		case map[string]any:
			name, _ := x["name"].(string)
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			out = append(out, Link{ID: linkID(x["id"]), Name: name})
		}
	}
	return out
}

func linkID(v any) int64 {
	switch x := v.(type) {
	case float64:
		return int64(x)
	case int64:
		return x
	case int:
		return int64(x)
	case string:
		n, _ := strconv.ParseInt(x, 10, 64)
		return n
	case interface{ Int64() (int64, error) }:
		n, _ := x.Int64()
		return n
	}
	return 0
}
