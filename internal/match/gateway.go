package match

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/capmatch/capmatch/internal/credits"
	"github.com/capmatch/capmatch/internal/store"
)

// SearchError reports a search-stage failure after the ledger debit was
// committed. RefundErr is non-nil when the compensating refund also failed;
// the refund failure never reverses the failed outcome.
type SearchError struct {
	Err       error
	RefundErr error
}

func (e *SearchError) Error() string {
	if e.RefundErr != nil {
		return fmt.Sprintf("search failed: %v (refund also failed: %v)", e.Err, e.RefundErr)
	}
	return fmt.Sprintf("search failed: %v", e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// Authorizer reserves and refunds feature costs.
type Authorizer interface {
	Authorize(ctx context.Context, userID, featureKey, reservationID string) (credits.Reservation, error)
	Refund(ctx context.Context, userID, featureKey string, amount int64, reason string) (store.TransactionRecord, error)
}

// LeadFinder produces ranked leads for a query vector.
type LeadFinder interface {
	FindLeads(ctx context.Context, vector []float32, threshold float64, limit int) ([]Lead, error)
}

// Request is one credit-gated match query.
type Request struct {
	UserID        string
	Vector        []float32
	Threshold     float64
	Limit         int
	ReservationID string
}

// Result is a successful match response.
type Result struct {
	Leads        []Lead
	CreditsSpent int64
	BalanceAfter int64
}

// Gateway runs the per-request pipeline: authorize the debit, search, respond.
// A search failure after the debit triggers a compensating refund before the
// error propagates.
type Gateway struct {
	Auth   Authorizer
	Finder LeadFinder
	Logger *log.Logger
}

func NewGateway(auth Authorizer, finder LeadFinder, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.New(log.Writer(), "[GATEWAY] ", log.LstdFlags)
	}
	return &Gateway{Auth: auth, Finder: finder, Logger: logger}
}

// Match executes one request. The search never starts before the debit
// commits. If the search fails, the refund runs on a non-cancellable context
// so caller cancellation cannot strand a charged-but-unserved request.
func (g *Gateway) Match(ctx context.Context, req Request) (Result, error) {
	res, err := g.Auth.Authorize(ctx, req.UserID, credits.FeatureInvestorMatch, req.ReservationID)
	if err != nil {
		matchRequestsTotal.WithLabelValues("rejected").Inc()
		return Result{}, err
	}
	creditsSpentTotal.Add(float64(res.Cost))

	leads, err := g.Finder.FindLeads(ctx, req.Vector, req.Threshold, req.Limit)
	if err != nil {
		refundCtx := context.WithoutCancel(ctx)
		_, refundErr := g.Auth.Refund(refundCtx, req.UserID, credits.FeatureInvestorMatch, res.Cost,
			"Refund: investor match failed")
		if refundErr != nil {
			g.Logger.Printf("refund of %d credits failed for user %s: %v", res.Cost, req.UserID, refundErr)
			matchRequestsTotal.WithLabelValues("refund_failed").Inc()
		} else {
			creditsRefundedTotal.Add(float64(res.Cost))
			matchRequestsTotal.WithLabelValues("refunded").Inc()
		}
		return Result{}, &SearchError{Err: err, RefundErr: refundErr}
	}

	matchRequestsTotal.WithLabelValues("ok").Inc()
	return Result{Leads: leads, CreditsSpent: res.Cost, BalanceAfter: res.Balance}, nil
}

// IsSearchFailure reports whether err is a post-debit search failure.
func IsSearchFailure(err error) bool {
	var se *SearchError
	return errors.As(err, &se)
}
