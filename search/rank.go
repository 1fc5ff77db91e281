// Package search ranks guide content against short fuzzy queries and serves
// those queries from a single-goroutine worker.
package search

import "sort"

const (
	DefaultLimit = 6
	MaxLimit     = 50
)

type Entry struct {
	ID   string `json:"id"`
	Blob string `json:"blob"`
}

// Pool is the searchable content split by category. A pool is never mutated
// after it has been handed to a Worker.
type Pool struct {
	Games  []Entry `json:"games"`
	Guides []Entry `json:"guides"`
	Topics []Entry `json:"topics"`
}

func (p Pool) Size() int {
	return len(p.Games) + len(p.Guides) + len(p.Topics)
}

type Limits struct {
	Games  int `json:"games"`
	Guides int `json:"guides"`
	Topics int `json:"topics"`
}

func DefaultLimits() Limits {
	return Limits{Games: DefaultLimit, Guides: DefaultLimit, Topics: DefaultLimit}
}

func ClampLimit(n int) int {
	return max(0, min(n, MaxLimit))
}

type scored struct {
	id    string
	score int
}

// Rank returns the ids of the matching entries ordered by descending score.
// Entries with equal scores keep their pool order.
func Rank(entries []Entry, query string, limit int) []string {
	limit = ClampLimit(limit)
	if limit == 0 {
		return []string{}
	}

	hits := make([]scored, 0, len(entries))
	for _, e := range entries {
		s, ok := Score(e.Blob, query)
		if !ok {
			continue
		}

		hits = append(hits, scored{id: e.ID, score: s})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].score > hits[j].score
	})

	res := make([]string, 0, min(limit, len(hits)))
	for _, h := range hits[:min(limit, len(hits))] {
		res = append(res, h.id)
	}

	return res
}

type Matches struct {
	Games  []string
	Guides []string
	Topics []string
}

func (p Pool) Search(query string, limits Limits) Matches {
	return Matches{
		Games:  Rank(p.Games, query, limits.Games),
		Guides: Rank(p.Guides, query, limits.Guides),
		Topics: Rank(p.Topics, query, limits.Topics),
	}
}
