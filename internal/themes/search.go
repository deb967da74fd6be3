package themes

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/conorfennell/ergoquiz/internal/domain"
)

// fold lowercases s and strips its combining marks, so "Écoute" and
// "ecoute" compare equal.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// MatchesSearch reports whether query occurs in the theme's title or in
// one of its tags, ignoring case and accents. A blank query matches every
// theme.
func MatchesSearch(t domain.Theme, query string) bool {
	q := strings.TrimSpace(query)
	if q == "" {
		return true
	}
	q = fold(q)
	if strings.Contains(fold(t.Title), q) {
		return true
	}
	for _, tag := range t.Tags {
		if strings.Contains(fold(tag), q) {
			return true
		}
	}
	return false
}

// Filter returns the themes matching query, in order.
func Filter(list []domain.Theme, query string) []domain.Theme {
	out := make([]domain.Theme, 0, len(list))
	for _, t := range list {
		if MatchesSearch(t, query) {
			out = append(out, t)
		}
	}
	return out
}
