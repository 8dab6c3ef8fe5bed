package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"trade-settlement-engine/internal/admin"
	"trade-settlement-engine/internal/ledger"
	"trade-settlement-engine/internal/settlement"
	"trade-settlement-engine/internal/trading"
)

// Server exposes placement, settlement, history and admin endpoints over HTTP.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config holds server dependencies.
type Config struct {
	Port          int
	EnableFunding bool
	Store         *ledger.Store
	Trading       *trading.Service
	Settler       *settlement.Settler
	Override      *admin.Override
	Now           func() time.Time
	Logger        *zap.Logger
}

// New creates a new HTTP server.
func New(cfg *Config) *Server {
	logger := cfg.Logger.Named("api-server")
	h := newHandler(cfg, logger)

	return &Server{
		server: &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.Port),
			Handler:           newRouter(h, cfg.EnableFunding),
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

func newRouter(h *handler, enableFunding bool) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(instrument)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/health", h.health)
	r.Get("/ready", h.ready)

	r.Route("/api", func(r chi.Router) {
		r.Post("/trades", h.placeTrade)
		r.Get("/trades/{id}", h.getTrade)
		r.Get("/trades/{id}/countdown", h.countdown)
		r.Post("/trades/{id}/settle", h.settleTrade)

		r.Get("/users/{user}/trades", h.listTrades)
		r.Get("/users/{user}/wallet", h.getWallet)
		r.Get("/users/{user}/transactions", h.listTransactions)
		r.Get("/users/{user}/notifications", h.listNotifications)
		r.Get("/users/{user}/statistics", h.statistics)

		if enableFunding {
			r.Post("/wallets/{user}", h.createWallet)
		}

		r.Route("/admin/trades/{id}", func(r chi.Router) {
			r.Post("/outcome", h.setOutcome)
			r.Post("/force-settle", h.forceSettle)
			r.Post("/cancel", h.cancelTrade)
			r.Get("/audit", h.auditHistory)
		})
	})

	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start runs the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("http-server-starting", zap.String("addr", s.server.Addr))

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http-server-shutting-down")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("http-server-shutdown-complete")
	return nil
}
