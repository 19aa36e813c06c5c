package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/capmatch/capmatch/config"
	"github.com/capmatch/capmatch/internal/credits"
	"github.com/capmatch/capmatch/internal/match"
	"github.com/capmatch/capmatch/internal/store"
	openai "github.com/capmatch/capmatch/provider/openai"
)

// Run wires the HTTP server: storage, gateway, handlers, reconciler.
func Run(cfg *appconfig.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		var payload interface{} = map[string]interface{}{"error": err.Error()}
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			switch m := he.Message.(type) {
			case string:
				payload = map[string]interface{}{"error": m}
			default:
				payload = m
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, payload)
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		baseLogger.Printf("migrate: %v", err)
	}

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	secret := cfg.Server.JWTSecret
	if secret == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}

	authorizer := credits.NewAuthorizer(st, st, nil)
	ranker := match.NewRanker(st, st)
	gateway := match.NewGateway(authorizer, ranker, nil)

	var embedder matchEmbedder
	if cfg.Providers.OpenAI.APIKey != "" {
		embedder = openai.NewClient(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.EmbeddingModel, cfg.Providers.OpenAI.Timeout)
	}

	api := e.Group("/api")

	auth := &AuthHandler{Store: st, Ledger: st, Secret: []byte(secret), SignupBonus: cfg.Credits.SignupBonus}
	auth.Register(api.Group("/auth"))

	mh := &MatchHandler{Gateway: gateway, Embedder: embedder}
	mh.Register(api.Group("/investors"), []byte(secret))

	ch := &CreditsHandler{Store: st}
	ch.Register(api.Group("/credits"), []byte(secret))

	fh := &FeaturesHandler{Store: st}
	fh.Register(api.Group("/admin/features"), []byte(secret))

	if cfg.Reconciler.Enabled {
		var rdb *redis.Client
		if addr := cfg.Storage.Redis.Addr(); addr != "" {
			rdb = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Storage.Redis.Password, DB: cfg.Storage.Redis.DB})
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis connection failed (%s): %w", addr, err)
			}
		}
		recon := NewReconciler(st, rdb, cfg.Reconciler.Schedule)
		recon.Start()
	}

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
