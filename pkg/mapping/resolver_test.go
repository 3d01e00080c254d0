package mapping

import (
	"fmt"
	"testing"
)

func TestSuggestCapsAndOrders(t *testing.T) {
	scorer := NewScorer(DefaultCosts)
	resolver := NewResolver(scorer, 0)
	target := mustRecord(t, "diagnosis", "jax", "acute myeloid leukemia", "blood", "primary")

	tissues := []string{"blood", "bone marrow", "bloody", "lung", "liver", "blod", "skin", "brain", "colon", "bone", "breast", "kidney", "blood cells", "plasma", "lymph node"}
	pool := []*Record{target}
	for i, tissue := range tissues {
		diagnosis := "acute myeloid leukemia"
		if i%3 == 0 {
			diagnosis = fmt.Sprintf("acute myeloid leukemia %d", i)
		}
		pool = append(pool, mustRecord(t, "diagnosis", "jax", diagnosis, tissue, "primary"))
	}
	pool = append(pool, mustRecord(t, "treatment", "jax", "cytarabine"))

	got := resolver.Suggest(target, pool)
	if len(got) != 10 {
		t.Fatalf("expected 10 suggestions, got %d", len(got))
	}

	prev := -1
	for _, rec := range got {
		if rec == target {
			t.Fatal("target must not suggest itself")
		}
		if rec.Type != TypeDiagnosis {
			t.Fatalf("unexpected %s suggestion", rec.Type)
		}
		score := scorer.Score(target, rec)
		if score < prev {
			t.Fatalf("scores not ascending: %d after %d", score, prev)
		}
		prev = score
	}
}

func TestSuggestBreaksTiesByPoolOrder(t *testing.T) {
	resolver := NewResolver(nil, 10)
	target := mustRecord(t, "diagnosis", "jax", "melanoma", "skin", "primary")

	var pool []*Record
	for i := 0; i < 11; i++ {
		pool = append(pool, mustRecord(t, "diagnosis", "other-source", "melanoma", "skin", fmt.Sprintf("metastatic-%02d", i)))
	}
	best := mustRecord(t, "diagnosis", "jax", "melanoma", "skin", "metastatic")
	pool = append(pool, best)

	got := resolver.Suggest(target, pool)
	if len(got) != 10 {
		t.Fatalf("expected 10 suggestions, got %d", len(got))
	}
	if got[0] != best {
		t.Fatal("expected best scoring candidate first")
	}
	for i := 1; i < len(got); i++ {
		if got[i] != pool[i-1] {
			t.Fatalf("position %d: expected pool order within a tie", i)
		}
	}

	again := resolver.Suggest(target, pool)
	for i := range got {
		if again[i] != got[i] {
			t.Fatal("expected reproducible ranking")
		}
	}
}

func TestSuggestWithoutCandidates(t *testing.T) {
	resolver := NewResolver(nil, 0)
	target := mustRecord(t, "treatment", "jax", "cisplatin")

	if got := resolver.Suggest(target, nil); len(got) != 0 {
		t.Fatalf("expected no suggestions, got %d", len(got))
	}
	if got := resolver.Suggest(target, []*Record{target}); len(got) != 0 {
		t.Fatalf("expected target to be excluded, got %d", len(got))
	}
}
