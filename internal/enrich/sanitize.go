package enrich

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// conditionLabels is the allowed condition enum, checked longest-first so
// "Very good" wins over "Good" in contains-matching.
var conditionLabels = []string{
	"Like new",
	"Very good",
	"Excellent",
	"Good",
	"Fair",
	"New",
}

// conditionPattern matches "<enum> (<detail>)" with the detail captured.
var conditionPattern = regexp.MustCompile(`^(.+?)\s*\((.+)\)$`)

// SanitizeCondition splits composite condition text into a normalized
// condition label and a flaws detail. "Very good (minor bobbling)" yields
// ("Very good", "minor bobbling"). Without a parenthetical suffix a loose
// case-insensitive contains-match against the enum labels is tried. An
// unrecognized value returns ok=false and the item's condition is left
// untouched.
func SanitizeCondition(raw string) (condition, flaws string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", false
	}

	if m := conditionPattern.FindStringSubmatch(raw); m != nil {
		if label, found := matchConditionLabel(m[1]); found {
			return label, strings.TrimSpace(m[2]), true
		}
	}
	if label, found := matchConditionLabel(raw); found {
		return label, "", true
	}
	return "", "", false
}

func matchConditionLabel(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, label := range conditionLabels {
		if strings.Contains(s, strings.ToLower(label)) {
			return label, true
		}
	}
	return "", false
}

// allowedEras is the fixed era enum after normalization.
var allowedEras = map[string]string{
	"1950s":   "1950s",
	"1960s":   "1960s",
	"1970s":   "1970s",
	"1980s":   "1980s",
	"1990s":   "1990s",
	"2000s":   "2000s",
	"2010s":   "2010s",
	"2020s":   "2020s",
	"y2k":     "Y2K",
	"vintage": "Vintage",
	"modern":  "Modern",
}

// NormalizeEra case-folds and checks the value against the allowed era
// set. Decade shorthand like "90s" is widened to "1990s". Unrecognized
// values return ok=false.
func NormalizeEra(raw string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return "", false
	}
	if era, ok := allowedEras[key]; ok {
		return era, true
	}
	// "90s" and "'90s" style shorthand.
	trimmed := strings.TrimPrefix(key, "'")
	if len(trimmed) == 3 && strings.HasSuffix(trimmed, "0s") {
		if era, ok := allowedEras["19"+trimmed]; ok {
			return era, true
		}
	}
	return "", false
}

// allowedDepartments is the fixed department enum.
var allowedDepartments = map[string]string{
	"men":    "Men",
	"women":  "Women",
	"unisex": "Unisex",
	"kids":   "Kids",
}

// NormalizeDepartment normalizes a department value against the allowed
// set {Men, Women, Unisex, Kids}. Exact matches (after case folding and
// title casing) win; otherwise a substring heuristic is tried, so
// "mens jacket" maps to "Men" and "womenswear" to "Women". Unrecognized
// values return ok=false.
func NormalizeDepartment(raw string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return "", false
	}
	if dept, ok := allowedDepartments[strings.TrimSuffix(key, "s")]; ok {
		return dept, true
	}
	if dept, ok := allowedDepartments[key]; ok {
		return dept, true
	}

	// Heuristic fallback. "women" must be checked before "men" since the
	// latter is a substring of the former.
	switch {
	case strings.Contains(key, "women") || strings.Contains(key, "ladies") || strings.Contains(key, "female"):
		return "Women", true
	case strings.Contains(key, "men") || strings.Contains(key, "male"):
		return "Men", true
	case strings.Contains(key, "unisex"):
		return "Unisex", true
	case strings.Contains(key, "kid") || strings.Contains(key, "child") || strings.Contains(key, "youth"):
		return "Kids", true
	}
	return "", false
}

// TitleCase exposes the shared caser for display normalization.
func TitleCase(s string) string {
	return titleCaser.String(strings.ToLower(strings.TrimSpace(s)))
}
