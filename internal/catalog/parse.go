package catalog

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/model"
)

// Link types on a thing item.
const (
	linkCategory  = "boardgamecategory"
	linkMechanic  = "boardgamemechanic"
	linkFamily    = "boardgamefamily"
	linkDesigner  = "boardgamedesigner"
	linkArtist    = "boardgameartist"
	linkPublisher = "boardgamepublisher"
)

// Poll names.
const (
	pollPlayers  = "suggested_numplayers"
	pollAge      = "suggested_playerage"
	pollLanguage = "language_dependence"
)

// ParseThing decodes a full thing response for one item into the canonical
// record. ErrMalformed is returned for an unreadable document and
// ErrItemNotFound when the document has no <item>.
func ParseThing(body []byte, id int64, extractedAt time.Time) (*model.RawGame, error) {
	items, err := decodeItems(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: parse thing %d", id)
	}
	if len(items) == 0 {
		return nil, eris.Wrapf(ErrItemNotFound, "catalog: thing %d", id)
	}
	item := items[0]

	bggID, err := strconv.ParseInt(item.ID, 10, 64)
	if err != nil {
		return nil, eris.Wrapf(ErrMalformed, "catalog: thing %d has item id %q", id, item.ID)
	}

	g := &model.RawGame{
		GameID:              id,
		BGGGameID:           bggID,
		ExtractionDate:      extractedAt.UTC().Format(time.RFC3339),
		AlternateNames:      []string{},
		Description:         item.Description,
		Thumbnail:           strings.TrimSpace(item.Thumbnail),
		Image:               strings.TrimSpace(item.Image),
		YearPublished:       intAttr(item.YearPublished),
		MinPlayers:          intAttr(item.MinPlayers),
		MaxPlayers:          intAttr(item.MaxPlayers),
		MinPlaytime:         intAttr(item.MinPlaytime),
		MaxPlaytime:         intAttr(item.MaxPlaytime),
		PlayingTime:         intAttr(item.PlayingTime),
		MinAge:              intAttr(item.MinAge),
		SuggestedNumPlayers: map[string]model.PlayerCountVotes{},
		SuggestedPlayerAge:  map[string]int{},
		LanguageDependence:  map[string]model.LanguageVote{},
		Designers:           []model.Link{},
		Artists:             []model.Link{},
		Publishers:          []model.Link{},
		Categories:          []model.Link{},
		Mechanics:           []model.Link{},
		Themes:              []model.Link{},
		RawXML:              string(body),
	}

	for _, n := range item.Names {
		switch n.Type {
		case "primary":
			g.PrimaryName = n.Value
		case "alternate":
			g.AlternateNames = append(g.AlternateNames, n.Value)
		}
	}

	for _, p := range item.Polls {
		switch p.Name {
		case pollPlayers:
			parsePlayerPoll(g, p)
		case pollAge:
			parseAgePoll(g, p)
		case pollLanguage:
			parseLanguagePoll(g, p)
		}
	}

	parseLinks(g, item.Links)

	if item.Ratings != nil {
		parseRatings(g, item.Ratings)
	}
	return g, nil
}

// parseHotIDs returns board game ids from a hot list, in list order.
func parseHotIDs(body []byte) ([]int64, error) {
	items, err := decodeItems(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "catalog: parse hot list")
	}
	return itemIDs(items), nil
}

func itemIDs(items []xmlItem) []int64 {
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if it.Type != "" && it.Type != "boardgame" {
			continue
		}
		id, err := strconv.ParseInt(it.ID, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func parsePlayerPoll(g *model.RawGame, p xmlPoll) {
	bestKey, bestVotes := "", 0
	for _, res := range p.Results {
		var v model.PlayerCountVotes
		for _, r := range res.Result {
			n := atoiOrZero(r.NumVotes)
			switch r.Value {
			case "Best":
				v.Best = n
			case "Recommended":
				v.Recommended = n
			case "Not Recommended":
				v.NotRecommended = n
			}
		}
		g.SuggestedNumPlayers[res.NumPlayers] = v
		if bestKey == "" || v.Best > bestVotes {
			bestKey, bestVotes = res.NumPlayers, v.Best
		}
	}

	// "4+" style counts are open-ended and do not pin a best count.
	if bestVotes > 0 && !strings.Contains(bestKey, "+") {
		if n, err := strconv.Atoi(bestKey); err == nil {
			g.MinPlayersBest = &n
			g.MaxPlayersBest = &n
		}
	}
}

func parseAgePoll(g *model.RawGame, p xmlPoll) {
	topAge, topVotes := "", -1
	for _, res := range p.Results {
		for _, r := range res.Result {
			n := atoiOrZero(r.NumVotes)
			g.SuggestedPlayerAge[r.Value] = n
			if n > topVotes {
				topAge, topVotes = r.Value, n
			}
		}
	}
	if topVotes < 0 {
		return
	}
	if n, err := strconv.Atoi(topAge); err == nil {
		g.MinAgeRec = &n
	}
}

func parseLanguagePoll(g *model.RawGame, p xmlPoll) {
	for _, res := range p.Results {
		for _, r := range res.Result {
			g.LanguageDependence["level_"+r.Level] = model.LanguageVote{
				Description: r.Value,
				Votes:       atoiOrZero(r.NumVotes),
			}
		}
	}
}

func parseLinks(g *model.RawGame, links []xmlLink) {
	for _, l := range links {
		id, err := strconv.ParseInt(l.ID, 10, 64)
		if err != nil {
			zap.L().Debug("catalog: skipping link with bad id",
				zap.Int64("item_id", g.GameID), zap.String("type", l.Type), zap.String("id", l.ID))
			continue
		}
		link := model.Link{ID: id, Name: l.Value}
		switch l.Type {
		case linkCategory:
			g.Categories = append(g.Categories, link)
		case linkMechanic:
			g.Mechanics = append(g.Mechanics, link)
		case linkDesigner:
			g.Designers = append(g.Designers, link)
		case linkArtist:
			g.Artists = append(g.Artists, link)
		case linkPublisher:
			g.Publishers = append(g.Publishers, link)
		case linkFamily:
			if theme, ok := ThemeFromFamily(l.Value); ok {
				g.Themes = append(g.Themes, model.Link{ID: id, Name: theme})
			}
		}
	}
}

func parseRatings(g *model.RawGame, r *xmlRatings) {
	g.UsersRated = intAttr(r.UsersRated)
	g.AverageRating = floatAttr(r.Average)
	g.BayesAverage = floatAttr(r.BayesAverage)
	g.StdDev = floatAttr(r.StdDev)
	g.Median = floatAttr(r.Median)
	g.Owned = intAttr(r.Owned)
	g.Trading = intAttr(r.Trading)
	g.Wanting = intAttr(r.Wanting)
	g.Wishing = intAttr(r.Wishing)
	g.NumComments = intAttr(r.NumComments)
	g.NumWeights = intAttr(r.NumWeights)
	g.AverageWeight = floatAttr(r.AverageWeight)

	for _, rank := range r.Ranks {
		var v *int
		if n, err := strconv.Atoi(rank.Value); err == nil {
			v = &n
		}
		switch rank.Name {
		case "boardgame":
			g.RankBoardgame = v
		case "strategygames":
			g.RankStrategy = v
		case "familygames":
			g.RankFamily = v
		}
	}
}

// intAttr returns nil for absent or non-integer values ("Not Ranked", "").
func intAttr(a *valueAttr) *int {
	if a == nil {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(a.Value))
	if err != nil {
		return nil
	}
	return &n
}

func floatAttr(a *valueAttr) *float64 {
	if a == nil {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(a.Value), 64)
	if err != nil {
		return nil
	}
	return &f
}

func atoiOrZero(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
