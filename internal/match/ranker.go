// Package match assembles investor leads from the embedding store and
// orchestrates the credit-gated match pipeline.
package match

import (
	"context"
	"fmt"

	"github.com/capmatch/capmatch/internal/store"
)

// Searcher is the deduplicated nearest-neighbour lookup of the embedding
// store: one best chunk per investor, similarity strictly above threshold.
type Searcher interface {
	QueryNearest(ctx context.Context, vector []float32, threshold float64, limit int) ([]store.ChunkMatch, error)
}

// InvestorReader resolves investor ids to their records.
type InvestorReader interface {
	GetInvestorsByIDs(ctx context.Context, ids []int64) ([]store.Investor, error)
}

// Lead is an investor surfaced by a match query together with its best-chunk
// similarity.
type Lead struct {
	Investor   store.Investor
	Similarity float64
}

// Ranker turns similarity hits into investor-level leads.
type Ranker struct {
	Searcher  Searcher
	Investors InvestorReader
}

func NewRanker(searcher Searcher, investors InvestorReader) *Ranker {
	return &Ranker{Searcher: searcher, Investors: investors}
}

// FindLeads runs the deduplicated similarity query and joins the surviving
// investors. Non-active investors are filtered after deduplication, so an
// inactive investor never displaces an active one from the candidate pool but
// may shrink the final result below limit. An empty result is not an error.
func (r *Ranker) FindLeads(ctx context.Context, vector []float32, threshold float64, limit int) ([]Lead, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	matches, err := r.Searcher.QueryNearest(ctx, vector, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.InvestorID)
	}
	investors, err := r.Investors.GetInvestorsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load investors: %w", err)
	}
	byID := make(map[int64]store.Investor, len(investors))
	for _, inv := range investors {
		byID[inv.ID] = inv
	}

	leads := make([]Lead, 0, len(matches))
	for _, m := range matches {
		inv, ok := byID[m.InvestorID]
		if !ok || inv.Status != store.InvestorStatusActive {
			continue
		}
		leads = append(leads, Lead{Investor: inv, Similarity: m.Similarity})
		if len(leads) == limit {
			break
		}
	}
	return leads, nil
}
