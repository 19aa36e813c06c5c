package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestGetFeatureCostFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM feature_costs WHERE feature_key=\$1`).
		WithArgs("investor_match").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "feature_key", "name", "credits_cost", "description", "internal_cost_cents", "is_active",
		}).AddRow("fc-1", "investor_match", "Investor Match", int64(3), "", int64(0), true))

	fc, found, err := s.GetFeatureCost(context.Background(), "investor_match")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found || fc.CreditsCost != 3 || !fc.IsActive {
		t.Fatalf("got %+v found=%v", fc, found)
	}
}

func TestGetFeatureCostMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM feature_costs`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "feature_key", "name", "credits_cost", "description", "internal_cost_cents", "is_active",
		}))

	_, found, err := s.GetFeatureCost(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("found = true for a missing feature")
	}
}

func TestUpsertFeatureCostValidates(t *testing.T) {
	s, _ := newMockStore(t)
	if err := s.UpsertFeatureCost(context.Background(), FeatureCost{CreditsCost: 1}); err == nil {
		t.Fatal("expected error for missing feature_key")
	}
	if err := s.UpsertFeatureCost(context.Background(), FeatureCost{FeatureKey: "x", CreditsCost: -1}); err == nil {
		t.Fatal("expected error for negative cost")
	}
}

func TestListActivePackagesOrdersByCredits(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM credit_packages`)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "credits", "price_cents", "currency", "tier", "savings_percentage", "is_active",
		}).
			AddRow("p1", "Starter", int64(50), int64(4900), "usd", "basic", nil, true).
			AddRow("p2", "Growth", int64(200), int64(14900), "usd", "pro", int64(24), true))

	pkgs, err := s.ListActivePackages(context.Background(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pkgs) != 2 {
		t.Fatalf("got %d packages", len(pkgs))
	}
	if pkgs[0].SavingsPercentage != nil {
		t.Fatal("starter package should have no savings percentage")
	}
	if pkgs[1].SavingsPercentage == nil || *pkgs[1].SavingsPercentage != 24 {
		t.Fatalf("growth savings = %v", pkgs[1].SavingsPercentage)
	}
}
