package server

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/capmatch/capmatch/internal/runtime"
	"github.com/capmatch/capmatch/internal/store"
)

const tokenTTL = 24 * time.Hour

// UserStore is the slice of the store the auth handler needs.
type UserStore interface {
	CreateUser(ctx context.Context, email, hash string) (string, error)
	GetUserByEmail(ctx context.Context, email string) (string, string, error)
}

// BonusLedger grants the signup bonus.
type BonusLedger interface {
	AppendTransaction(ctx context.Context, req store.AppendRequest) (store.TransactionRecord, error)
}

// AuthHandler serves signup, login and logout. A new account is seeded with a
// configurable bonus transaction so first queries work without a purchase.
type AuthHandler struct {
	Store       UserStore
	Ledger      BonusLedger
	Secret      []byte
	SignupBonus int64
}

func (h *AuthHandler) Register(g *echo.Group) {
	g.POST("/signup", h.signup)
	g.POST("/login", h.login)
	g.POST("/logout", h.logout)
}

func (h *AuthHandler) signup(c echo.Context) error {
	var req signupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || len(req.Password) < 8 {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password (min 8 chars) required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "hash password")
	}
	ctx := c.Request().Context()
	id, err := h.Store.CreateUser(ctx, req.Email, string(hash))
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, "email already registered")
	}

	if h.SignupBonus > 0 {
		if _, err := h.Ledger.AppendTransaction(ctx, store.AppendRequest{
			UserID:      id,
			Amount:      h.SignupBonus,
			Type:        store.TransactionTypeBonus,
			Description: "Signup bonus",
		}); err != nil {
			log.Printf("[AUTH] signup bonus for %s: %v", id, err)
		}
	}

	token, err := runtime.SignJWT(id, h.Secret, tokenTTL, "payments")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "sign token")
	}
	h.setAuthCookie(c, token)
	return c.JSON(http.StatusCreated, authResponse{Token: token, UserID: id})
}

func (h *AuthHandler) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	id, hash, err := h.Store.GetUserByEmail(c.Request().Context(), req.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "lookup user")
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	token, err := runtime.SignJWT(id, h.Secret, tokenTTL, "payments")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "sign token")
	}
	h.setAuthCookie(c, token)
	return c.JSON(http.StatusOK, authResponse{Token: token, UserID: id})
}

func (h *AuthHandler) logout(c echo.Context) error {
	c.SetCookie(&http.Cookie{
		Name:     "auth",
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHandler) setAuthCookie(c echo.Context, token string) {
	c.SetCookie(&http.Cookie{
		Name:     "auth",
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(tokenTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
