package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/relicx/match-engine/internal/api"
	"github.com/relicx/match-engine/internal/asset"
	"github.com/relicx/match-engine/internal/clock"
	"github.com/relicx/match-engine/internal/consignment"
	"github.com/relicx/match-engine/internal/ledger"
	"github.com/relicx/match-engine/internal/market"
	"github.com/relicx/match-engine/internal/match"
	"github.com/relicx/match-engine/internal/metrics"
	"github.com/relicx/match-engine/internal/settle"
	"github.com/relicx/match-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Services ---
	clk := clock.NewSystem()
	led := ledger.New(st, clk)
	registry := consignment.New(st, clk)
	markets := market.New(st, clk)
	appr := market.NewAppreciator(st, markets, clk)
	assets := asset.New(st, led, registry, markets, clk)
	settler := settle.New(st, led, clk)

	// --- WebSocket hub ---
	wsHub := match.NewWSHub()
	go wsHub.Run()

	// --- Match engine ---
	engine := match.NewEngine(match.Deps{
		Store:    st,
		Ledger:   led,
		Assets:   assets,
		Registry: registry,
		Settler:  settler,
		Markets:  markets,
		Appr:     appr,
		Hub:      wsHub,
		Clock:    clk,
	})

	srv := api.NewServer(st, engine, assets, markets, clk)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"match-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time trade events.
		r.Get("/ws", wsHub.HandleWS)

		// Session and catalog management.
		r.Post("/sessions", srv.CreateSession)
		r.Get("/sessions/{sessionID}", srv.GetSession)
		r.Post("/items", srv.CreateItem)
		r.Get("/items/{itemID}", srv.GetItem)

		// Matching pool.
		r.Post("/pool", srv.EnterPool)
		r.Delete("/pool/{buyOrderID}", srv.CancelBuyOrder)
		r.Post("/match", srv.RunMatch)

		// Consignments.
		r.Post("/consignments", srv.CreateConsignment)
		r.Get("/consignments/{consignmentID}", srv.GetConsignment)
		r.Delete("/consignments/{consignmentID}", srv.CancelConsignment)

		// Accounts.
		r.Get("/accounts/{userID}", srv.GetAccount)
		r.Get("/accounts/{userID}/ledger", srv.GetLedger)
	})

	// --- Server ---
	httpSrv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("match-engine listening", "port", port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down match-engine...")
	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("match-engine stopped")
}
