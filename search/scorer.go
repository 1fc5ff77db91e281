package search

import (
	"slices"
	"strings"
	"unicode/utf8"
)

const (
	substringBase    = 10000
	maxOffsetPenalty = 5000
	subsequenceCap   = 5000
)

// Score rates how well haystack matches query. The second return value is
// false when the query cannot be matched at all.
//
// An empty query matches everything with a score of 0. Substring hits always
// outrank subsequence hits.
func Score(haystack, query string) (int, bool) {
	if query == "" {
		return 0, true
	}
	if haystack == "" {
		return 0, false
	}

	h := strings.ToLower(haystack)
	q := strings.ToLower(query)

	if idx := strings.Index(h, q); idx >= 0 {
		offset := utf8.RuneCountInString(h[:idx])
		return substringBase + 10*utf8.RuneCountInString(q) - min(offset, maxOffsetPenalty), true
	}

	return subsequence([]rune(h), []rune(q))
}

func subsequence(h, q []rune) (int, bool) {
	score := 0
	streak := 0
	pos := 0
	last := -2

	for _, c := range q {
		found := slices.Index(h[pos:], c)
		if found < 0 {
			return 0, false
		}

		at := pos + found
		if at == last+1 {
			streak++
		} else {
			streak = 1
		}

		score += streak
		last = at
		pos = at + 1
	}

	return min(score, subsequenceCap), true
}
