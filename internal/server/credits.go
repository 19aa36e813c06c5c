package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/capmatch/capmatch/internal/runtime"
	"github.com/capmatch/capmatch/internal/store"
)

// CreditStore is the ledger surface the credits handler reads and writes.
type CreditStore interface {
	GetBalance(ctx context.Context, userID string) (store.Balance, error)
	ListTransactions(ctx context.Context, userID string, page, limit int) ([]store.TransactionRecord, int, error)
	ListActivePackages(ctx context.Context, currency string) ([]store.CreditPackage, error)
	GetPackage(ctx context.Context, id string) (store.CreditPackage, bool, error)
	AppendTransaction(ctx context.Context, req store.AppendRequest) (store.TransactionRecord, error)
}

// CreditsHandler serves the user-facing credit surface: balance, transaction
// history, package listing and purchases.
type CreditsHandler struct {
	Store CreditStore
}

func (h *CreditsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.GET("/balance", h.balance)
	g.GET("/transactions", h.transactions)
	g.GET("/packages", h.packages)
	g.POST("/purchase", h.purchase, runtime.RequireScopes("payments"))
}

func (h *CreditsHandler) balance(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	b, err := h.Store.GetBalance(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "load balance")
	}
	return c.JSON(http.StatusOK, balanceResponse{
		UserID:          b.UserID,
		Balance:         b.Balance,
		LifetimeCredits: b.LifetimeCredits,
		Tier:            b.Tier,
	})
}

func (h *CreditsHandler) transactions(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 || limit > 100 {
		limit = 10
	}
	recs, total, err := h.Store.ListTransactions(c.Request().Context(), userID, page, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "load transactions")
	}
	views := make([]transactionView, 0, len(recs))
	for _, r := range recs {
		views = append(views, toTransactionView(r))
	}
	return c.JSON(http.StatusOK, transactionsResponse{
		Transactions: views,
		Total:        total,
		Page:         page,
		Limit:        limit,
	})
}

func (h *CreditsHandler) packages(c echo.Context) error {
	pkgs, err := h.Store.ListActivePackages(c.Request().Context(), c.QueryParam("currency"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "load packages")
	}
	views := make([]packageView, 0, len(pkgs))
	for _, p := range pkgs {
		views = append(views, packageView{
			ID:                p.ID,
			Name:              p.Name,
			Credits:           p.Credits,
			PriceCents:        p.PriceCents,
			Currency:          p.Currency,
			Tier:              p.Tier,
			SavingsPercentage: p.SavingsPercentage,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"packages": views})
}

// purchase credits a package's amount after payment. The payment id doubles
// as the reservation id so a retried webhook cannot credit twice.
func (h *CreditsHandler) purchase(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	var req purchaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.PackageID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "package_id required")
	}
	ctx := c.Request().Context()
	pkg, found, err := h.Store.GetPackage(ctx, req.PackageID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "load package")
	}
	if !found || !pkg.IsActive {
		return echo.NewHTTPError(http.StatusNotFound, "package not found")
	}

	rec, err := h.Store.AppendTransaction(ctx, store.AppendRequest{
		UserID:      userID,
		Amount:      pkg.Credits,
		Type:        store.TransactionTypePurchase,
		Description: "Purchase: " + pkg.Name,
		Metadata: map[string]interface{}{
			"package_id": pkg.ID,
			"payment_id": req.PaymentID,
		},
		ReservationID: req.PaymentID,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "apply purchase")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"transaction": toTransactionView(rec),
		"balance":     rec.BalanceAfter,
	})
}
