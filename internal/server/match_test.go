package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/capmatch/capmatch/internal/credits"
	"github.com/capmatch/capmatch/internal/match"
	"github.com/capmatch/capmatch/internal/runtime"
	"github.com/capmatch/capmatch/internal/store"
)

var testSecret = []byte("test-secret")

type fakeGateway struct {
	result match.Result
	err    error
	got    match.Request
}

func (f *fakeGateway) Match(ctx context.Context, req match.Request) (match.Result, error) {
	f.got = req
	return f.result, f.err
}

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return [][]float32{f.vector}, nil
}

func matchServer(t *testing.T, gw MatchGateway, emb matchEmbedder) *echo.Echo {
	t.Helper()
	e := echo.New()
	h := &MatchHandler{Gateway: gw, Embedder: emb}
	h.Register(e.Group("/api/investors"), testSecret)
	return e
}

func doMatch(t *testing.T, e *echo.Echo, body string) *httptest.ResponseRecorder {
	t.Helper()
	token, err := runtime.SignJWT("user-1", testSecret, time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/investors/match", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func fullVectorJSON() string {
	parts := make([]string, store.EmbeddingDimensions)
	for i := range parts {
		parts[i] = "0.1"
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func TestMatchHandlerSuccess(t *testing.T) {
	gw := &fakeGateway{result: match.Result{
		Leads:        []match.Lead{{Investor: store.Investor{ID: 1, Name: "Alpha"}, Similarity: 0.9}},
		CreditsSpent: 3,
		BalanceAfter: 7,
	}}
	e := matchServer(t, gw, nil)

	rec := doMatch(t, e, `{"query_embedding":`+fullVectorJSON()+`,"threshold":0.7,"limit":5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp matchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Leads) != 1 || resp.CreditsSpent != 3 || resp.BalanceAfter != 7 {
		t.Fatalf("resp = %+v", resp)
	}
	if gw.got.UserID != "user-1" {
		t.Fatalf("gateway saw user %q", gw.got.UserID)
	}
	if gw.got.ReservationID == "" {
		t.Fatal("handler must assign a reservation id")
	}
}

func TestMatchHandlerRequiresAuth(t *testing.T) {
	e := matchServer(t, &fakeGateway{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/investors/match", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestMatchHandlerValidatesThreshold(t *testing.T) {
	e := matchServer(t, &fakeGateway{}, nil)
	for _, threshold := range []string{"0", "1", "1.5", "-0.2"} {
		rec := doMatch(t, e, `{"query_embedding":`+fullVectorJSON()+`,"threshold":`+threshold+`,"limit":5}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("threshold %s: status = %d, want 400", threshold, rec.Code)
		}
	}
}

func TestMatchHandlerValidatesEmbeddingDimensions(t *testing.T) {
	e := matchServer(t, &fakeGateway{}, nil)
	rec := doMatch(t, e, `{"query_embedding":[0.1,0.2],"threshold":0.7,"limit":5}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMatchHandlerEmbedsPrompt(t *testing.T) {
	vec := make([]float32, store.EmbeddingDimensions)
	gw := &fakeGateway{result: match.Result{CreditsSpent: 3, BalanceAfter: 4}}
	e := matchServer(t, gw, &fakeEmbedder{vector: vec})

	rec := doMatch(t, e, `{"prompt":"seed stage fintech in Europe","threshold":0.75,"limit":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(gw.got.Vector) != store.EmbeddingDimensions {
		t.Fatalf("gateway saw %d-dim vector", len(gw.got.Vector))
	}
}

func TestMatchHandlerInsufficientCredits(t *testing.T) {
	gw := &fakeGateway{err: &credits.InsufficientCreditsError{Balance: 1, Required: 3}}
	e := matchServer(t, gw, nil)

	rec := doMatch(t, e, `{"query_embedding":`+fullVectorJSON()+`,"threshold":0.7,"limit":5}`)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	var body struct {
		Balance  int64 `json:"balance"`
		Required int64 `json:"required"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Balance != 1 || body.Required != 3 {
		t.Fatalf("body = %s, want balance 1 required 3", rec.Body.String())
	}
}

func TestMatchHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"unknown feature", errors.New("wrapped: " + credits.ErrUnknownFeature.Error()), http.StatusInternalServerError},
		{"unknown feature sentinel", credits.ErrUnknownFeature, http.StatusNotFound},
		{"disabled feature", credits.ErrFeatureDisabled, http.StatusForbidden},
		{"search failure", &match.SearchError{Err: errors.New("index offline")}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		e := matchServer(t, &fakeGateway{err: tc.err}, nil)
		rec := doMatch(t, e, `{"query_embedding":`+fullVectorJSON()+`,"threshold":0.7,"limit":5}`)
		if rec.Code != tc.code {
			t.Fatalf("%s: status = %d, want %d", tc.name, rec.Code, tc.code)
		}
	}
}
