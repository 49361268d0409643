package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zayaclinic/backoffice/internal/catalog"
	"github.com/zayaclinic/backoffice/internal/config"
	"github.com/zayaclinic/backoffice/internal/db"
	"github.com/zayaclinic/backoffice/internal/dimension"
	"github.com/zayaclinic/backoffice/internal/fixedcost"
	"github.com/zayaclinic/backoffice/internal/logger"
	"github.com/zayaclinic/backoffice/internal/migrations"
	"github.com/zayaclinic/backoffice/internal/pricing"
	"github.com/zayaclinic/backoffice/internal/product"
	"github.com/zayaclinic/backoffice/internal/seed"
)

type server struct {
	cfg      config.Config
	log      *zap.Logger
	db       *sql.DB
	auth     *authService
	engine   *pricing.Engine
	catalog  *catalog.Service
	costs    *fixedcost.Store
	products *product.Store
	dims     *dimension.Resolver
	now      func() time.Time
}

func newServer(cfg config.Config, zlog *zap.Logger, database *sql.DB) *server {
	engine := pricing.NewEngine(zlog)
	products := product.NewStore(database)
	return &server{
		cfg:      cfg,
		log:      zlog,
		db:       database,
		auth:     newAuthService(database, cfg.SessionSecret),
		engine:   engine,
		catalog:  catalog.NewService(catalog.NewStore(database, catalog.WithUnitCosts(products)), engine),
		costs:    fixedcost.NewStore(database),
		products: products,
		dims:     dimension.NewResolver(database),
		now:      time.Now,
	}
}

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	zlog, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		zlog.Fatal("failed to open database", zap.Error(err))
	}
	defer database.Close()

	if cfg.AutoMigrate {
		applied, err := migrations.Up(ctx, database)
		if err != nil {
			zlog.Fatal("failed to run database migrations", zap.Error(err))
		}
		zlog.Info("migrations applied", zap.Int64s("versions", applied))
	}

	stats, err := seed.Run(ctx, database, seed.Config{AdminEmail: cfg.AdminEmail, AdminPassword: cfg.AdminPassword})
	if err != nil {
		zlog.Fatal("failed to seed database", zap.Error(err))
	}
	zlog.Info("seed finished", zap.Int("inserts", stats.Inserts), zap.Int("updates", stats.Updates))

	srv := newServer(cfg, zlog, database)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			zlog.Error("graceful shutdown failed", zap.Error(err))
		}
	}()

	zlog.Info("listening", zap.String("addr", httpServer.Addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zlog.Fatal("server stopped", zap.Error(err))
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.authMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Post("/login", s.handleLoginSubmit)
	r.Post("/logout", s.handleLogout)

	r.Route("/api", func(r chi.Router) {
		r.Post("/pricing/evaluate", s.handleEvaluate)
		r.Post("/pricing/solve", s.handleSolve)
		r.Post("/pricing/bom", s.handleBOM)

		r.Post("/portfolio/simulate", s.handleSimulate)
		r.Post("/portfolio/import", s.handleImport)

		r.Get("/procedures", s.handleProceduresList)
		r.Post("/procedures", s.handleProceduresUpsert)
		r.Post("/procedures/batch", s.handleProceduresBatch)
		r.Post("/procedures/purge", s.handleProceduresPurge)
		r.Get("/procedures/{id}", s.handleProcedureGet)
		r.Delete("/procedures/{id}", s.handleProcedureDelete)
		r.Post("/procedures/{id}/preview", s.handleProcedurePreview)
		r.Post("/procedures/{id}/sales", s.handleSaleCreate)
		r.Get("/sales", s.handleSalesList)
		r.Get("/sales/report", s.handleSalesReport)

		r.Get("/commission/revenue-tiers", s.handleRevenueTiersGet)
		r.Put("/commission/revenue-tiers", s.handleRevenueTiersPut)

		r.Get("/fixed-costs", s.handleFixedCostsList)
		r.Post("/fixed-costs", s.handleFixedCostsCreate)
		r.Post("/fixed-costs/batch", s.handleFixedCostsBatch)
		r.Put("/fixed-costs/{id}", s.handleFixedCostUpdate)
		r.Delete("/fixed-costs/{id}", s.handleFixedCostDelete)

		r.Get("/products/purchases", s.handlePurchasesList)
		r.Post("/products/purchases", s.handlePurchaseRecord)
		r.Post("/products/purchases/batch", s.handlePurchasesBatch)
		r.Post("/products/purchases/delete", s.handlePurchasesDelete)
		r.Put("/products/purchases/{id}", s.handlePurchaseUpdate)
		r.Get("/products/average-cost", s.handleAverageCost)

		r.Get("/dimensions/{dimension}", s.handleDimensionList)
		r.Post("/dimensions/{dimension}", s.handleDimensionCreate)
	})

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	version, err := migrations.Version(r.Context(), s.db)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "schema_version": version})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid form"})
			return
		}
		req = loginRequest{Email: r.FormValue("email"), Password: r.FormValue("password")}
	}

	valid, err := s.auth.validateCredentials(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !valid {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
		return
	}

	s.auth.setSessionCookie(w, req.Email, !s.cfg.IsDev())
	writeJSON(w, http.StatusOK, map[string]string{"email": req.Email})
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
