package match

import (
	"context"
	"errors"
	"testing"

	"github.com/capmatch/capmatch/internal/store"
)

type fakeSearcher struct {
	matches []store.ChunkMatch
	err     error
}

func (f *fakeSearcher) QueryNearest(ctx context.Context, vector []float32, threshold float64, limit int) ([]store.ChunkMatch, error) {
	return f.matches, f.err
}

type fakeInvestors struct {
	byID map[int64]store.Investor
}

func (f *fakeInvestors) GetInvestorsByIDs(ctx context.Context, ids []int64) ([]store.Investor, error) {
	var out []store.Investor
	for _, id := range ids {
		if inv, ok := f.byID[id]; ok {
			out = append(out, inv)
		}
	}
	return out, nil
}

func activeInvestor(id int64, name string) store.Investor {
	return store.Investor{ID: id, Name: name, Status: store.InvestorStatusActive}
}

func TestFindLeadsKeepsSimilarityOrder(t *testing.T) {
	r := NewRanker(
		&fakeSearcher{matches: []store.ChunkMatch{
			{InvestorID: 2, Similarity: 0.93},
			{InvestorID: 1, Similarity: 0.81},
		}},
		&fakeInvestors{byID: map[int64]store.Investor{
			1: activeInvestor(1, "Alpha Capital"),
			2: activeInvestor(2, "Beta Ventures"),
		}},
	)

	leads, err := r.FindLeads(context.Background(), []float32{0.1}, 0.7, 10)
	if err != nil {
		t.Fatalf("find leads: %v", err)
	}
	if len(leads) != 2 {
		t.Fatalf("got %d leads, want 2", len(leads))
	}
	if leads[0].Investor.ID != 2 || leads[1].Investor.ID != 1 {
		t.Fatalf("order = [%d, %d], want [2, 1]", leads[0].Investor.ID, leads[1].Investor.ID)
	}
}

func TestFindLeadsFiltersInactiveInvestors(t *testing.T) {
	r := NewRanker(
		&fakeSearcher{matches: []store.ChunkMatch{
			{InvestorID: 1, Similarity: 0.95},
			{InvestorID: 2, Similarity: 0.90},
		}},
		&fakeInvestors{byID: map[int64]store.Investor{
			1: {ID: 1, Name: "Gone Fund", Status: store.InvestorStatusDomainInactive},
			2: activeInvestor(2, "Live Fund"),
		}},
	)

	leads, err := r.FindLeads(context.Background(), []float32{0.1}, 0.7, 10)
	if err != nil {
		t.Fatalf("find leads: %v", err)
	}
	if len(leads) != 1 || leads[0].Investor.ID != 2 {
		t.Fatalf("got %+v, want only investor 2", leads)
	}
}

func TestFindLeadsNoDuplicateInvestors(t *testing.T) {
	// The dedup query already returns one row per investor; the ranker must
	// not reintroduce duplicates through the join.
	r := NewRanker(
		&fakeSearcher{matches: []store.ChunkMatch{
			{InvestorID: 5, Similarity: 0.88},
		}},
		&fakeInvestors{byID: map[int64]store.Investor{
			5: activeInvestor(5, "Solo Fund"),
		}},
	)
	leads, err := r.FindLeads(context.Background(), []float32{0.1}, 0.5, 10)
	if err != nil {
		t.Fatalf("find leads: %v", err)
	}
	seen := map[int64]bool{}
	for _, l := range leads {
		if seen[l.Investor.ID] {
			t.Fatalf("investor %d appears twice", l.Investor.ID)
		}
		seen[l.Investor.ID] = true
	}
}

func TestFindLeadsEmptyResultIsNotError(t *testing.T) {
	r := NewRanker(&fakeSearcher{}, &fakeInvestors{})
	leads, err := r.FindLeads(context.Background(), []float32{0.1}, 0.99, 10)
	if err != nil {
		t.Fatalf("find leads: %v", err)
	}
	if leads != nil {
		t.Fatalf("got %+v, want nil", leads)
	}
}

func TestFindLeadsRejectsNonPositiveLimit(t *testing.T) {
	r := NewRanker(&fakeSearcher{}, &fakeInvestors{})
	if _, err := r.FindLeads(context.Background(), []float32{0.1}, 0.5, 0); err == nil {
		t.Fatal("expected error for limit 0")
	}
}

func TestFindLeadsWrapsSearchError(t *testing.T) {
	want := errors.New("pgvector down")
	r := NewRanker(&fakeSearcher{err: want}, &fakeInvestors{})
	_, err := r.FindLeads(context.Background(), []float32{0.1}, 0.5, 10)
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want wrapped %v", err, want)
	}
}
