// Package ingest embeds crawled investor records into searchable chunks.
package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/capmatch/capmatch/internal/store"
)

// Chunk types written by the ingestion path.
const (
	ChunkTypeDescription = "description"
	ChunkTypeThesis      = "thesis"
	ChunkTypeProfile     = "profile"
)

// Embedder generates one embedding vector per input text.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the slice of the datastore the ingestor writes through.
type Store interface {
	ListInvestorsWithoutChunks(ctx context.Context, limit int) ([]store.Investor, error)
	UpsertChunk(ctx context.Context, rec store.ChunkRecord) (int64, error)
}

// ChunkDraft is a chunk text awaiting its embedding.
type ChunkDraft struct {
	Type string
	Text string
}

// BuildChunks derives the embeddable text segments for an investor. Investors
// without any usable text yield no chunks.
func BuildChunks(inv store.Investor) []ChunkDraft {
	var drafts []ChunkDraft
	if desc := strings.TrimSpace(inv.Description); desc != "" {
		drafts = append(drafts, ChunkDraft{Type: ChunkTypeDescription, Text: inv.Name + ": " + desc})
	}
	if thesis := strings.TrimSpace(inv.InvestmentThesis); thesis != "" {
		drafts = append(drafts, ChunkDraft{Type: ChunkTypeThesis, Text: inv.Name + " investment thesis: " + thesis})
	}
	if profile := profileText(inv); profile != "" {
		drafts = append(drafts, ChunkDraft{Type: ChunkTypeProfile, Text: profile})
	}
	return drafts
}

func profileText(inv store.Investor) string {
	var parts []string
	if len(inv.InvestmentStages) > 0 {
		parts = append(parts, "Stages: "+strings.Join(inv.InvestmentStages, ", "))
	}
	if len(inv.Industries) > 0 {
		parts = append(parts, "Industries: "+strings.Join(inv.Industries, ", "))
	}
	if len(inv.Geographies) > 0 {
		parts = append(parts, "Geographies: "+strings.Join(inv.Geographies, ", "))
	}
	if display, ok := inv.CheckSize["display"].(string); ok && display != "" {
		parts = append(parts, "Check size: "+display)
	}
	if len(parts) == 0 {
		return ""
	}
	return inv.Name + " profile. " + strings.Join(parts, ". ")
}

// Ingestor embeds investors that have no chunks yet.
type Ingestor struct {
	Store    Store
	Embedder Embedder
	Logger   *log.Logger
}

func NewIngestor(st Store, embedder Embedder, logger *log.Logger) *Ingestor {
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &Ingestor{Store: st, Embedder: embedder, Logger: logger}
}

// Run embeds up to batchSize investors and reports how many chunks were
// written. Chunk upserts are idempotent, so a crashed run can simply be
// re-run.
func (ing *Ingestor) Run(ctx context.Context, batchSize int) (int, error) {
	investors, err := ing.Store.ListInvestorsWithoutChunks(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("list investors: %w", err)
	}
	written := 0
	for _, inv := range investors {
		drafts := BuildChunks(inv)
		if len(drafts) == 0 {
			ing.Logger.Printf("investor %d (%s) has no embeddable text, skipping", inv.ID, inv.Name)
			continue
		}
		texts := make([]string, len(drafts))
		for i, d := range drafts {
			texts[i] = d.Text
		}
		vectors, err := ing.Embedder.CreateEmbedding(ctx, texts)
		if err != nil {
			return written, fmt.Errorf("embed investor %d: %w", inv.ID, err)
		}
		for i, d := range drafts {
			if _, err := ing.Store.UpsertChunk(ctx, store.ChunkRecord{
				InvestorID: inv.ID,
				ChunkType:  d.Type,
				ChunkText:  d.Text,
				Vector:     vectors[i],
				Metadata:   map[string]interface{}{"source": "ingest"},
			}); err != nil {
				return written, fmt.Errorf("upsert chunk for investor %d: %w", inv.ID, err)
			}
			written++
		}
	}
	return written, nil
}
