package mapping

import (
	"maps"
	"slices"
)

// DefaultSuggestionLimit caps the number of suggestions per record.
const DefaultSuggestionLimit = 10

// Resolver ranks mapped records as suggestions for an unmapped one.
type Resolver struct {
	scorer *Scorer
	limit  int
}

func NewResolver(scorer *Scorer, limit int) *Resolver {
	if scorer == nil {
		scorer = NewScorer(DefaultCosts)
	}
	if limit <= 0 {
		limit = DefaultSuggestionLimit
	}
	return &Resolver{scorer: scorer, limit: limit}
}

func (r *Resolver) Limit() int {
	return r.limit
}

// Suggest scans pool in order and returns at most Limit records of the
// target's type, best score first. Equal scores keep pool order and the
// cap may cut a score bucket in half.
func (r *Resolver) Suggest(target *Record, pool []*Record) []*Record {
	buckets := make(map[int][]*Record)
	for _, candidate := range pool {
		if candidate == target || candidate.Type != target.Type {
			continue
		}
		if target.Key != "" && candidate.Key == target.Key {
			continue
		}
		score := r.scorer.Score(target, candidate)
		buckets[score] = append(buckets[score], candidate)
	}

	out := make([]*Record, 0, min(r.limit, len(pool)))
	for _, score := range slices.Sorted(maps.Keys(buckets)) {
		for _, candidate := range buckets[score] {
			out = append(out, candidate)
			if len(out) == r.limit {
				return out
			}
		}
	}
	return out
}
