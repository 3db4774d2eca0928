package compare

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Ratio returns the SequenceMatcher similarity of a and b in [0, 1], compared rune by rune.
// Two empty strings are identical.
func Ratio(a, b string) float64 {
	return difflib.NewMatcher(runes(a), runes(b)).Ratio()
}

// LooseRatio compares case-insensitively and scores 0 when either side is empty.
func LooseRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	return Ratio(strings.ToLower(a), strings.ToLower(b))
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
