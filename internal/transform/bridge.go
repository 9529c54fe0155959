package transform

import (
	"sort"
	"strings"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/model"
)

// GameLinks is the link lists of one raw record, keyed by dimension name.
type GameLinks struct {
	SourceID int64
	Links    map[string][]model.Link
}

// AssignMemberKeys gives every distinct member name of one dimension a
// surrogate key 1..n in name order. Keys are scoped to the run.
func AssignMemberKeys(games []GameLinks, dimension string) map[string]int32 {
	names := make(map[string]bool)
	for _, g := range games {
		for _, l := range g.Links[dimension] {
			if n := strings.TrimSpace(l.Name); n != "" {
				names[n] = true
			}
		}
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	keys := make(map[string]int32, len(sorted))
	for i, n := range sorted {
		keys[n] = int32(i + 1)
	}
	return keys
}

// BuildBridge emits one row per distinct (game, member) pair for games
// present in gameSK. Games missing from the cleaned table are skipped.
func BuildBridge(games []GameLinks, dimension string, gameSK map[int64]string) []model.BridgeRow {
	keys := AssignMemberKeys(games, dimension)

	type pair struct {
		game   string
		member int32
	}
	seen := make(map[pair]bool)
	var rows []model.BridgeRow
	for _, g := range games {
		sk, ok := gameSK[g.SourceID]
		if !ok {
			continue
		}
		for _, l := range g.Links[dimension] {
			name := strings.TrimSpace(l.Name)
			if name == "" {
				continue
			}
			p := pair{game: sk, member: keys[name]}
			if seen[p] {
				continue
			}
			seen[p] = true

			row := model.BridgeRow{GameIDSK: sk, MemberSK: p.member, MemberName: name}
			if l.ID != 0 {
				id := l.ID
				row.MemberID = &id
			}
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return lessBridge(rows[i], rows[j]) })
	return rows
}

func lessBridge(a, b model.BridgeRow) bool {
	if a.GameIDSK != b.GameIDSK {
		return a.GameIDSK < b.GameIDSK
	}
	return a.MemberName < b.MemberName
}
