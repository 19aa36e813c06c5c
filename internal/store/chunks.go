package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ChunkRecord is one bounded segment of an investor's descriptive text with
// its embedding vector.
type ChunkRecord struct {
	ID         int64
	InvestorID int64
	ChunkType  string
	ChunkText  string
	Vector     []float32
	Metadata   map[string]interface{}
	ChunkHash  string
}

// ChunkMatch is a deduplicated nearest-neighbour hit: the best chunk for one
// investor.
type ChunkMatch struct {
	InvestorID int64
	Similarity float64
}

// ChunkHash returns the dedup hash for a chunk text.
func ChunkHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// UpsertChunk stores an investor text chunk with its embedding. Re-ingesting
// identical text for the same investor updates the existing row instead of
// creating a duplicate (unique on investor_id + chunk_hash).
func (s *Store) UpsertChunk(ctx context.Context, rec ChunkRecord) (int64, error) {
	if rec.InvestorID == 0 {
		return 0, fmt.Errorf("investor_id required")
	}
	if rec.ChunkText == "" {
		return 0, fmt.Errorf("chunk_text required")
	}
	if len(rec.Vector) != EmbeddingDimensions {
		return 0, fmt.Errorf("embedding must have %d dimensions, got %d", EmbeddingDimensions, len(rec.Vector))
	}
	vectorLiteral, err := encodeVectorLiteral(rec.Vector)
	if err != nil {
		return 0, err
	}
	meta := rec.Metadata
	if meta == nil {
		meta = map[string]interface{}{}
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("marshal chunk metadata: %w", err)
	}
	hash := rec.ChunkHash
	if hash == "" {
		hash = ChunkHash(rec.ChunkText)
	}
	var id int64
	err = s.DB.QueryRowContext(ctx, `
INSERT INTO investor_chunks (investor_id, chunk_type, chunk_text, embedding, chunk_metadata, chunk_hash, created_at, updated_at)
VALUES ($1,$2,$3,$4::vector,$5,$6,NOW(),NOW())
ON CONFLICT (investor_id, chunk_hash) DO UPDATE SET
  chunk_type = EXCLUDED.chunk_type,
  embedding = EXCLUDED.embedding,
  chunk_metadata = EXCLUDED.chunk_metadata,
  updated_at = NOW()
RETURNING id;
`, rec.InvestorID, rec.ChunkType, rec.ChunkText, vectorLiteral, metaBytes, hash).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// QueryNearest returns at most limit investors ranked by cosine similarity to
// the query vector, keeping only each investor's single best chunk. Only rows
// with similarity strictly greater than threshold qualify. The tie-break among
// equal-similarity chunks of one investor is row order and deliberately
// unspecified.
func (s *Store) QueryNearest(ctx context.Context, vector []float32, threshold float64, limit int) ([]ChunkMatch, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if limit <= 0 {
		limit = 10
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT investor_id, similarity FROM (
  SELECT DISTINCT ON (investor_id) investor_id, 1 - (embedding <=> $1::vector) AS similarity
  FROM investor_chunks
  ORDER BY investor_id, embedding <=> $1::vector
) best
WHERE similarity > $2
ORDER BY similarity DESC
LIMIT $3
`, vecLiteral, threshold, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var matches []ChunkMatch
	for rows.Next() {
		var m ChunkMatch
		if err := rows.Scan(&m.InvestorID, &m.Similarity); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
