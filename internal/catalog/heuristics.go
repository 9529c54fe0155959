package catalog

import "strings"

const themeFamilyPrefix = "Theme:"

// ThemeFromFamily derives a theme name from a family link name. Families
// tagged "Theme:" are themes; everything else is not. Best-effort only: the
// catalog has no authoritative theme list.
func ThemeFromFamily(family string) (string, bool) {
	if !strings.HasPrefix(family, themeFamilyPrefix) {
		return "", false
	}
	theme := strings.TrimSpace(strings.Replace(family, themeFamilyPrefix, "", 1))
	return theme, theme != ""
}
