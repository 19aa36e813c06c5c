// Package credits gates metered features against the credit ledger. Every
// authorization is a committed debit; compensation is an explicit refund.
package credits

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/capmatch/capmatch/internal/store"
)

// FeatureInvestorMatch is the feature key charged per match query.
const FeatureInvestorMatch = "investor_match"

var (
	// ErrUnknownFeature is returned when no feature cost row exists.
	ErrUnknownFeature = errors.New("unknown feature")

	// ErrFeatureDisabled is returned when the feature cost row is inactive.
	ErrFeatureDisabled = errors.New("feature disabled")
)

// InsufficientCreditsError carries the caller-facing context for a rejected
// debit: the current balance and the cost that could not be covered.
type InsufficientCreditsError struct {
	Balance  int64
	Required int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: balance %d, required %d", e.Balance, e.Required)
}

func (e *InsufficientCreditsError) Unwrap() error { return store.ErrInsufficientCredits }

// Ledger is the slice of the store the authorizer appends against.
type Ledger interface {
	AppendTransaction(ctx context.Context, req store.AppendRequest) (store.TransactionRecord, error)
	GetBalance(ctx context.Context, userID string) (store.Balance, error)
}

// Catalog resolves feature keys to their current cost. Costs are read per
// request; the authorizer never caches them.
type Catalog interface {
	GetFeatureCost(ctx context.Context, featureKey string) (store.FeatureCost, bool, error)
}

// Reservation is the outcome of a successful authorization: a committed usage
// debit plus the resulting balance.
type Reservation struct {
	Transaction store.TransactionRecord
	Balance     int64
	Cost        int64
}

// Authorizer validates and applies feature debits against the ledger.
type Authorizer struct {
	Ledger  Ledger
	Catalog Catalog
	Logger  *log.Logger
}

func NewAuthorizer(ledger Ledger, catalog Catalog, logger *log.Logger) *Authorizer {
	if logger == nil {
		logger = log.New(log.Writer(), "[CREDITS] ", log.LstdFlags)
	}
	return &Authorizer{Ledger: ledger, Catalog: catalog, Logger: logger}
}

// Authorize reserves the feature's current cost against the user's balance.
// reservationID makes a retried authorize idempotent: the same id never debits
// twice. On ErrInsufficientCredits nothing was committed and the error carries
// the current balance and required cost.
func (a *Authorizer) Authorize(ctx context.Context, userID, featureKey, reservationID string) (Reservation, error) {
	fc, found, err := a.Catalog.GetFeatureCost(ctx, featureKey)
	if err != nil {
		return Reservation{}, fmt.Errorf("lookup feature %q: %w", featureKey, err)
	}
	if !found {
		return Reservation{}, fmt.Errorf("feature %q: %w", featureKey, ErrUnknownFeature)
	}
	if !fc.IsActive {
		return Reservation{}, fmt.Errorf("feature %q: %w", featureKey, ErrFeatureDisabled)
	}

	rec, err := a.Ledger.AppendTransaction(ctx, store.AppendRequest{
		UserID:        userID,
		Amount:        -fc.CreditsCost,
		Type:          store.TransactionTypeUsage,
		FeatureKey:    featureKey,
		Description:   fmt.Sprintf("Usage: %s", fc.Name),
		ReservationID: reservationID,
	})
	if errors.Is(err, store.ErrInsufficientCredits) {
		bal, balErr := a.Ledger.GetBalance(ctx, userID)
		if balErr != nil {
			a.Logger.Printf("balance read after rejected debit for user %s: %v", userID, balErr)
		}
		return Reservation{}, &InsufficientCreditsError{Balance: bal.Balance, Required: fc.CreditsCost}
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("debit %d credits for %q: %w", fc.CreditsCost, featureKey, err)
	}
	return Reservation{Transaction: rec, Balance: rec.BalanceAfter, Cost: fc.CreditsCost}, nil
}

// Refund appends a positive refund transaction compensating a reserved debit
// whose downstream work failed. amount is the reserved cost, not the current
// feature cost, so an admin price change between reserve and refund cannot
// skew the ledger.
func (a *Authorizer) Refund(ctx context.Context, userID, featureKey string, amount int64, reason string) (store.TransactionRecord, error) {
	if amount <= 0 {
		return store.TransactionRecord{}, fmt.Errorf("refund amount must be positive, got %d", amount)
	}
	return a.Ledger.AppendTransaction(ctx, store.AppendRequest{
		UserID:      userID,
		Amount:      amount,
		Type:        store.TransactionTypeRefund,
		FeatureKey:  featureKey,
		Description: reason,
	})
}
