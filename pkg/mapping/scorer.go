package mapping

// MismatchScore is returned when records of different types are compared.
const MismatchScore = 10000

// Scorer computes a weighted dissimilarity between two records of the same
// type. Lower is more similar.
type Scorer struct {
	costs EditCosts
}

func NewScorer(costs EditCosts) *Scorer {
	return &Scorer{costs: costs}
}

// Score edits target's values into candidate's, label by label, and sums the
// per attribute contributions of the type's rule table.
func (s *Scorer) Score(target, candidate *Record) int {
	if target.Type != candidate.Type {
		return MismatchScore
	}
	schema, ok := schemas[target.Type]
	if !ok {
		return MismatchScore
	}

	total := 0
	for _, label := range schema.Labels {
		d := s.costs.Distance(target.Values[label], candidate.Values[label])
		total += schema.rule(label).contribution(d)
	}
	return total
}
