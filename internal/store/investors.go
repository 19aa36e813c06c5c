package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// Investor is the read-only view of a crawled investor record. The core never
// mutates investors; the ingestion collaborator owns their lifecycle.
type Investor struct {
	ID               int64
	Name             string
	Website          string
	Description      string
	Location         string
	ContactEmail     string
	ContactPhone     string
	ContactName      string
	ContactFormURL   string
	InvestmentStages []string
	CheckSize        map[string]interface{}
	Industries       []string
	Geographies      []string
	InvestmentThesis string
	Status           string
	ContentHash      string
	CrawlDate        *time.Time
}

const investorColumns = `id, name, COALESCE(website,''), COALESCE(description,''), COALESCE(location,''),
 COALESCE(contact_email,''), COALESCE(contact_phone,''), COALESCE(contact_name,''), COALESCE(contact_form_url,''),
 investment_stages, check_size, industries, geographies, COALESCE(investment_thesis,''), status, COALESCE(content_hash,''), crawl_date`

func scanInvestor(rows *sql.Rows) (Investor, error) {
	var (
		inv       Investor
		checkSize []byte
	)
	if err := rows.Scan(&inv.ID, &inv.Name, &inv.Website, &inv.Description, &inv.Location,
		&inv.ContactEmail, &inv.ContactPhone, &inv.ContactName, &inv.ContactFormURL,
		pq.Array(&inv.InvestmentStages), &checkSize, pq.Array(&inv.Industries), pq.Array(&inv.Geographies),
		&inv.InvestmentThesis, &inv.Status, &inv.ContentHash, &inv.CrawlDate); err != nil {
		return Investor{}, err
	}
	if len(checkSize) > 0 {
		_ = json.Unmarshal(checkSize, &inv.CheckSize)
	}
	return inv, nil
}

// GetInvestorsByIDs returns the investors for the given ids, in arbitrary
// order. Missing ids are silently skipped.
func (s *Store) GetInvestorsByIDs(ctx context.Context, ids []int64) ([]Investor, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+investorColumns+`
FROM investors
WHERE id = ANY($1)
`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Investor
	for rows.Next() {
		inv, err := scanInvestor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// ListInvestorsWithoutChunks returns investors that have no embedded chunks
// yet, oldest first. Used by the ingestion path.
func (s *Store) ListInvestorsWithoutChunks(ctx context.Context, limit int) ([]Investor, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+investorColumns+`
FROM investors i
WHERE NOT EXISTS (SELECT 1 FROM investor_chunks c WHERE c.investor_id = i.id)
ORDER BY i.id
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Investor
	for rows.Next() {
		inv, err := scanInvestor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}
