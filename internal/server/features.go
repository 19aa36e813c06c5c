package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/capmatch/capmatch/internal/runtime"
	"github.com/capmatch/capmatch/internal/store"
)

// FeatureCatalog is the admin surface over feature costs.
type FeatureCatalog interface {
	GetFeatureCost(ctx context.Context, featureKey string) (store.FeatureCost, bool, error)
	UpsertFeatureCost(ctx context.Context, fc store.FeatureCost) error
}

// FeaturesHandler manages feature pricing. Price changes take effect on the
// next authorization; in-flight reservations keep the cost they were debited.
type FeaturesHandler struct {
	Store FeatureCatalog
}

func (h *FeaturesHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret), runtime.RequireScopes("admin"))
	g.GET("/:key", h.get)
	g.PUT("/:key", h.put)
}

func (h *FeaturesHandler) get(c echo.Context) error {
	fc, found, err := h.Store.GetFeatureCost(c.Request().Context(), c.Param("key"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "load feature")
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "feature not found")
	}
	return c.JSON(http.StatusOK, toFeatureCostView(fc))
}

func (h *FeaturesHandler) put(c echo.Context) error {
	key := c.Param("key")
	var req featureCostRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.CreditsCost < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "credits_cost must be non-negative")
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	fc := store.FeatureCost{
		FeatureKey:  key,
		Name:        key,
		CreditsCost: req.CreditsCost,
		Description: req.Description,
		IsActive:    active,
	}
	if err := h.Store.UpsertFeatureCost(c.Request().Context(), fc); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "save feature")
	}
	out, _, err := h.Store.GetFeatureCost(c.Request().Context(), key)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "load feature")
	}
	return c.JSON(http.StatusOK, toFeatureCostView(out))
}
