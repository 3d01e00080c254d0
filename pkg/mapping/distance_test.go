package mapping

import "testing"

func TestDistance(t *testing.T) {
	cases := []struct {
		source, target string
		want           int
	}{
		{"", "", 0},
		{"abc", "", 6},
		{"", "abc", 3},
		{"jax", "jax", 0},
		{"Blood", "blood", 0},
		{"kitten", "sitting", 3},
		{"sitting", "kitten", 4},
		{"ab", "ba", 2},
		{"abc", "acb", 2},
		{"ca", "abc", 3},
		{"brest", "breast", 1},
		{"breast", "brest", 2},
		{"blood", "bone marrow", 9},
		{"bone marrow", "blood", 15},
		{"acute myeloid leukemia", "acute myeloid leukaemia", 1},
	}

	for _, tc := range cases {
		if got := Distance(tc.source, tc.target); got != tc.want {
			t.Fatalf("Distance(%q, %q): expected %d, got %d", tc.source, tc.target, tc.want, got)
		}
	}
}

func TestDistanceIsAsymmetric(t *testing.T) {
	if Distance("lungs", "lung") == Distance("lung", "lungs") {
		t.Fatal("expected deletion to cost more than insertion")
	}
}

func TestScoreOriginTissuePenalty(t *testing.T) {
	scorer := NewScorer(DefaultCosts)
	target := mustRecord(t, "diagnosis", "jax", "acute myeloid leukemia", "blood", "primary")
	candidate := mustRecord(t, "diagnosis", "jax", "acute myeloid leukemia", "bone marrow", "primary")

	if target.Key != mustRecord(t, "diagnosis", "jax", "acute myeloid leukemia", "blood", "primary").Key {
		t.Fatal("expected stable key across constructions")
	}
	if got := scorer.Score(target, candidate); got != 50 {
		t.Fatalf("expected origin tissue penalty of 50, got %d", got)
	}
	if got := scorer.Score(target, target); got != 0 {
		t.Fatalf("expected identical records to score 0, got %d", got)
	}
}

func TestScoreWeightsAndCaps(t *testing.T) {
	scorer := NewScorer(DefaultCosts)
	target := mustRecord(t, "diagnosis", "jax", "breast", "breast", "primary")

	// primary attribute weighted by 5, and asymmetric
	brest := mustRecord(t, "diagnosis", "jax", "brest", "breast", "primary")
	if got := scorer.Score(target, brest); got != 10 {
		t.Fatalf("expected 10, got %d", got)
	}
	if got := scorer.Score(brest, target); got != 5 {
		t.Fatalf("expected 5 in reverse, got %d", got)
	}

	// secondary attribute beyond the threshold is capped to 1
	metastatic := mustRecord(t, "diagnosis", "jax", "breast", "breast", "metastatic")
	if got := scorer.Score(target, metastatic); got != 1 {
		t.Fatalf("expected capped secondary contribution, got %d", got)
	}

	treatment := &Record{Type: TypeTreatment, Values: map[string]string{}}
	if got := scorer.Score(target, treatment); got != MismatchScore {
		t.Fatalf("expected mismatch score, got %d", got)
	}
}

func mustRecord(t *testing.T, recordType string, values ...string) *Record {
	t.Helper()
	rt, err := ParseRecordType(recordType)
	if err != nil {
		t.Fatalf("bad type: %v", err)
	}
	labels := LabelsFor(rt)
	raw := map[string]string{}
	for i, v := range values {
		raw[labels[i]] = v
	}
	rec, err := NewRecord(recordType, raw)
	if err != nil {
		t.Fatalf("failed to build record: %v", err)
	}
	return rec
}
