package clean

import "strings"

// IsCooperative flags a game as cooperative when any mechanic name contains
// "cooperative". Best-effort: semi-cooperative games match too, and the
// catalog has no authoritative flag.
func IsCooperative(mechanics []string) bool {
	for _, m := range mechanics {
		if strings.Contains(strings.ToLower(m), "cooperative") {
			return true
		}
	}
	return false
}

// NormalizePlayers maps a reported player count below 1 to 1. The catalog
// reports 0 for "no minimum". nil stays nil.
func NormalizePlayers(n *int32) *int32 {
	if n == nil || *n >= 1 {
		return n
	}
	one := int32(1)
	return &one
}
