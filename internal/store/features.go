package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// FeatureCost maps a meterable feature key to its credit cost. Costs are
// admin-managed and may change between requests, so callers read the current
// row per request and never cache it.
type FeatureCost struct {
	ID                string
	FeatureKey        string
	Name              string
	CreditsCost       int64
	Description       string
	InternalCostCents int64
	IsActive          bool
}

// CreditPackage is a purchasable credit bundle.
type CreditPackage struct {
	ID                string
	Name              string
	Credits           int64
	PriceCents        int64
	Currency          string
	Tier              string
	SavingsPercentage *int64
	IsActive          bool
}

// GetFeatureCost returns the current cost row for a feature key. The boolean
// reports whether the feature exists.
func (s *Store) GetFeatureCost(ctx context.Context, featureKey string) (FeatureCost, bool, error) {
	if featureKey == "" {
		return FeatureCost{}, false, fmt.Errorf("feature_key required")
	}
	var fc FeatureCost
	err := s.DB.QueryRowContext(ctx, `
SELECT id, feature_key, name, credits_cost, COALESCE(description,''), COALESCE(internal_cost_cents,0), COALESCE(is_active, FALSE)
FROM feature_costs WHERE feature_key=$1
`, featureKey).Scan(&fc.ID, &fc.FeatureKey, &fc.Name, &fc.CreditsCost, &fc.Description, &fc.InternalCostCents, &fc.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return FeatureCost{}, false, nil
	}
	if err != nil {
		return FeatureCost{}, false, err
	}
	return fc, true, nil
}

// UpsertFeatureCost creates or updates a feature cost row (admin surface).
func (s *Store) UpsertFeatureCost(ctx context.Context, fc FeatureCost) error {
	if fc.FeatureKey == "" {
		return fmt.Errorf("feature_key required")
	}
	if fc.CreditsCost < 0 {
		return fmt.Errorf("credits_cost must be non-negative")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO feature_costs (feature_key, name, credits_cost, description, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW())
ON CONFLICT (feature_key) DO UPDATE SET
  name = EXCLUDED.name,
  credits_cost = EXCLUDED.credits_cost,
  description = EXCLUDED.description,
  is_active = EXCLUDED.is_active,
  updated_at = NOW();
`, fc.FeatureKey, fc.Name, fc.CreditsCost, fc.Description, fc.IsActive)
	return err
}

// ListActivePackages returns active credit packages ordered by credits,
// optionally filtered by currency code.
func (s *Store) ListActivePackages(ctx context.Context, currency string) ([]CreditPackage, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, name, credits, price_cents, currency, tier, savings_percentage, COALESCE(is_active, FALSE)
FROM credit_packages
WHERE COALESCE(is_active, FALSE) AND ($1 = '' OR currency = LOWER($1))
ORDER BY credits
`, currency)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CreditPackage
	for rows.Next() {
		var p CreditPackage
		if err := rows.Scan(&p.ID, &p.Name, &p.Credits, &p.PriceCents, &p.Currency, &p.Tier, &p.SavingsPercentage, &p.IsActive); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPackage returns a credit package by id.
func (s *Store) GetPackage(ctx context.Context, id string) (CreditPackage, bool, error) {
	var p CreditPackage
	err := s.DB.QueryRowContext(ctx, `
SELECT id, name, credits, price_cents, currency, tier, savings_percentage, COALESCE(is_active, FALSE)
FROM credit_packages WHERE id=$1
`, id).Scan(&p.ID, &p.Name, &p.Credits, &p.PriceCents, &p.Currency, &p.Tier, &p.SavingsPercentage, &p.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return CreditPackage{}, false, nil
	}
	if err != nil {
		return CreditPackage{}, false, err
	}
	return p, true, nil
}
