package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/capmatch/capmatch/internal/credits"
	"github.com/capmatch/capmatch/internal/match"
	"github.com/capmatch/capmatch/internal/runtime"
	"github.com/capmatch/capmatch/internal/store"
)

// matchEmbedder turns a free-text prompt into a query vector. Nil when no
// embedding provider is configured; callers must then send a raw vector.
type matchEmbedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// MatchGateway is the credit-gated pipeline the handler drives.
type MatchGateway interface {
	Match(ctx context.Context, req match.Request) (match.Result, error)
}

// MatchHandler serves credit-gated investor match queries.
type MatchHandler struct {
	Gateway  MatchGateway
	Embedder matchEmbedder
}

func (h *MatchHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("/match", h.match)
}

func (h *MatchHandler) match(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	var req matchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Threshold <= 0 || req.Threshold >= 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "threshold must be in (0, 1)")
	}
	if req.Limit <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "limit must be positive")
	}

	ctx := c.Request().Context()
	vector, err := h.queryVector(ctx, req)
	if err != nil {
		return err
	}

	res, err := h.Gateway.Match(ctx, match.Request{
		UserID:        userID,
		Vector:        vector,
		Threshold:     req.Threshold,
		Limit:         req.Limit,
		ReservationID: uuid.NewString(),
	})
	if err != nil {
		return matchError(err)
	}

	leads := make([]matchLead, 0, len(res.Leads))
	for _, l := range res.Leads {
		leads = append(leads, matchLead{Investor: toInvestorView(l.Investor), Similarity: l.Similarity})
	}
	return c.JSON(http.StatusOK, matchResponse{Leads: leads, CreditsSpent: res.CreditsSpent, BalanceAfter: res.BalanceAfter})
}

func (h *MatchHandler) queryVector(ctx context.Context, req matchRequest) ([]float32, error) {
	if len(req.Embedding) > 0 {
		if len(req.Embedding) != store.EmbeddingDimensions {
			return nil, echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("embedding must have %d dimensions, got %d", store.EmbeddingDimensions, len(req.Embedding)))
		}
		return req.Embedding, nil
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "prompt or embedding required")
	}
	if h.Embedder == nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "no embedding provider configured; send an embedding")
	}
	vecs, err := h.Embedder.CreateEmbedding(ctx, []string{req.Prompt})
	if err != nil || len(vecs) == 0 {
		return nil, echo.NewHTTPError(http.StatusBadGateway, "embed prompt failed")
	}
	return vecs[0], nil
}

// matchError maps pipeline failures to HTTP statuses. A rejected debit left
// nothing committed; a search failure ran its compensating refund already.
func matchError(err error) error {
	var insufficient *credits.InsufficientCreditsError
	switch {
	case errors.Is(err, credits.ErrUnknownFeature):
		return echo.NewHTTPError(http.StatusNotFound, "feature not found")
	case errors.Is(err, credits.ErrFeatureDisabled):
		return echo.NewHTTPError(http.StatusForbidden, "feature disabled")
	case errors.As(err, &insufficient):
		return echo.NewHTTPError(http.StatusPaymentRequired, map[string]interface{}{
			"error":    "insufficient credits",
			"balance":  insufficient.Balance,
			"required": insufficient.Required,
		})
	case match.IsSearchFailure(err):
		return echo.NewHTTPError(http.StatusBadGateway, "match search failed; credits refunded")
	default:
		return err
	}
}
