package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/capmatch/capmatch/internal/runtime"
	"github.com/capmatch/capmatch/internal/store"
)

type fakeCreditStore struct {
	balance  store.Balance
	txns     []store.TransactionRecord
	total    int
	packages map[string]store.CreditPackage
	appended []store.AppendRequest
}

func (f *fakeCreditStore) GetBalance(ctx context.Context, userID string) (store.Balance, error) {
	return f.balance, nil
}

func (f *fakeCreditStore) ListTransactions(ctx context.Context, userID string, page, limit int) ([]store.TransactionRecord, int, error) {
	return f.txns, f.total, nil
}

func (f *fakeCreditStore) ListActivePackages(ctx context.Context, currency string) ([]store.CreditPackage, error) {
	var out []store.CreditPackage
	for _, p := range f.packages {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeCreditStore) GetPackage(ctx context.Context, id string) (store.CreditPackage, bool, error) {
	p, ok := f.packages[id]
	return p, ok, nil
}

func (f *fakeCreditStore) AppendTransaction(ctx context.Context, req store.AppendRequest) (store.TransactionRecord, error) {
	f.appended = append(f.appended, req)
	return store.TransactionRecord{
		ID:           "txn-1",
		UserID:       req.UserID,
		Amount:       req.Amount,
		BalanceAfter: req.Amount,
		Type:         req.Type,
		CreatedAt:    time.Now(),
	}, nil
}

func creditsServer(t *testing.T, st CreditStore) *echo.Echo {
	t.Helper()
	e := echo.New()
	h := &CreditsHandler{Store: st}
	h.Register(e.Group("/api/credits"), testSecret)
	return e
}

func doCredits(t *testing.T, e *echo.Echo, method, path, body string, scopes ...string) *httptest.ResponseRecorder {
	t.Helper()
	token, err := runtime.SignJWT("user-1", testSecret, time.Minute, scopes...)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestBalanceEndpoint(t *testing.T) {
	st := &fakeCreditStore{balance: store.Balance{UserID: "user-1", Balance: 12, LifetimeCredits: 60, Tier: "basic"}}
	e := creditsServer(t, st)

	rec := doCredits(t, e, http.MethodGet, "/api/credits/balance", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp balanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Balance != 12 || resp.LifetimeCredits != 60 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestTransactionsEndpointPaginates(t *testing.T) {
	st := &fakeCreditStore{
		txns: []store.TransactionRecord{
			{ID: "t2", Amount: -3, BalanceAfter: 7, Type: store.TransactionTypeUsage, CreatedAt: time.Now()},
			{ID: "t1", Amount: 10, BalanceAfter: 10, Type: store.TransactionTypeBonus, CreatedAt: time.Now().Add(-time.Hour)},
		},
		total: 12,
	}
	e := creditsServer(t, st)

	rec := doCredits(t, e, http.MethodGet, "/api/credits/transactions?page=2&limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp transactionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 12 || resp.Page != 2 || resp.Limit != 2 || len(resp.Transactions) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestPurchaseRequiresPaymentsScope(t *testing.T) {
	st := &fakeCreditStore{packages: map[string]store.CreditPackage{}}
	e := creditsServer(t, st)

	rec := doCredits(t, e, http.MethodPost, "/api/credits/purchase", `{"package_id":"p1"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 without payments scope", rec.Code)
	}
}

func TestPurchaseCreditsPackageAmount(t *testing.T) {
	st := &fakeCreditStore{packages: map[string]store.CreditPackage{
		"p1": {ID: "p1", Name: "Starter", Credits: 50, IsActive: true},
	}}
	e := creditsServer(t, st)

	rec := doCredits(t, e, http.MethodPost, "/api/credits/purchase",
		`{"package_id":"p1","payment_id":"pay-9"}`, "payments")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(st.appended) != 1 {
		t.Fatalf("appended %d transactions, want 1", len(st.appended))
	}
	got := st.appended[0]
	if got.Amount != 50 || got.Type != store.TransactionTypePurchase || got.ReservationID != "pay-9" {
		t.Fatalf("append = %+v", got)
	}
}

func TestPurchaseUnknownPackage(t *testing.T) {
	st := &fakeCreditStore{packages: map[string]store.CreditPackage{}}
	e := creditsServer(t, st)

	rec := doCredits(t, e, http.MethodPost, "/api/credits/purchase",
		`{"package_id":"nope"}`, "payments")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
