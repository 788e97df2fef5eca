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
	"github.com/shopspring/decimal"

	"github.com/optionleague/contest-engine/internal/config"
	"github.com/optionleague/contest-engine/internal/contest"
	"github.com/optionleague/contest-engine/internal/leaderboard"
	"github.com/optionleague/contest-engine/internal/metrics"
	"github.com/optionleague/contest-engine/internal/participation"
	"github.com/optionleague/contest-engine/internal/pricing"
	"github.com/optionleague/contest-engine/internal/scheduler"
	"github.com/optionleague/contest-engine/internal/store"
	"github.com/optionleague/contest-engine/internal/trading"
	"github.com/optionleague/contest-engine/internal/wallet"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		if err := store.Migrate(context.Background(), pool); err != nil {
			slog.Error("migration failed", "err", err)
			os.Exit(1)
		}
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
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

	// --- Price oracle ---
	var oracle pricing.Oracle
	if cfg.MockFeedEnabled {
		rw := pricing.NewRandomWalkOracle(cfg.MockFeedStepPct, cfg.MockFeedSeed)
		seedMockFeed(rw)
		oracle = rw
		slog.Info("mock price feed enabled", "step_pct", cfg.MockFeedStepPct)
	} else {
		oracle = pricing.NewStaticOracle()
	}

	// --- Market hours ---
	hours := trading.MarketHours{
		CutoffHour:   cfg.CutoffHour,
		CutoffMinute: cfg.CutoffMinute,
		Location:     cfg.Location(),
	}

	// --- WebSocket hub ---
	wsHub := trading.NewWSHub()
	go wsHub.Run()

	// --- Services ---
	walletLedger := wallet.NewLedger(st)
	registry := contest.NewRegistry(st, walletLedger, cfg.PlatformFeePct)
	joinMgr := participation.NewManager(st, registry, walletLedger)
	tradingSvc := trading.NewService(st, oracle, hours, wsHub)
	boards := leaderboard.NewEngine(st, walletLedger)

	// --- Scheduler ---
	sweeper := scheduler.New(st, registry, tradingSvc, boards, cfg.Location(), cfg.MarkInterval)
	if err := sweeper.Start(context.Background(), cfg.CutoffHour, cfg.CutoffMinute); err != nil {
		slog.Error("scheduler start failed", "err", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"contest-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time trade and price updates.
		r.Get("/ws", wsHub.HandleWS)

		// Real-money wallet.
		r.Post("/wallet/{userID}/deposit", walletLedger.HandleDeposit)
		r.Post("/wallet/{userID}/withdraw", walletLedger.HandleWithdraw)
		r.Get("/wallet/{userID}/balance", walletLedger.HandleBalance)
		r.Get("/wallet/{userID}/entries", walletLedger.HandleEntries)

		// Contest lifecycle.
		r.Post("/contests", registry.HandleCreate)
		r.Get("/contests", registry.HandleList)
		r.Get("/contests/{contestID}", registry.HandleGet)
		r.Post("/contests/{contestID}/publish", registry.HandlePublish)
		r.Post("/contests/{contestID}/cancel", registry.HandleCancel)
		r.Get("/contests/{contestID}/capacity", registry.HandleCapacity)

		// Participation.
		r.Post("/contests/{contestID}/join", joinMgr.HandleJoin)

		// Virtual trading.
		r.Post("/trades", tradingSvc.HandleOpenTrade)
		r.Post("/trades/{tradeID}/close", tradingSvc.HandleCloseTrade)
		r.Post("/trades/{tradeID}/mark", tradingSvc.HandleMark)
		r.Get("/contests/{contestID}/wallet/{userID}", tradingSvc.HandleWallet)
		r.Get("/contests/{contestID}/trades/{userID}", tradingSvc.HandleTrades)

		// Rankings.
		r.Get("/contests/{contestID}/leaderboard", boards.HandleLeaderboard)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("contest-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

	slog.Info("shutting down contest-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("contest-engine stopped")
}

// seedMockFeed primes the random-walk oracle with a starter set of NIFTY
// and BANKNIFTY option premiums so local contests work out of the box.
func seedMockFeed(o *pricing.RandomWalkOracle) {
	seeds := map[string]decimal.Decimal{
		"NIFTY22500CE":     decimal.NewFromInt(100),
		"NIFTY22500PE":     decimal.NewFromInt(85),
		"NIFTY23000CE":     decimal.NewFromInt(40),
		"NIFTY23000PE":     decimal.NewFromInt(220),
		"BANKNIFTY48000CE": decimal.NewFromInt(310),
		"BANKNIFTY48000PE": decimal.NewFromInt(280),
	}
	for sym, price := range seeds {
		o.Seed(sym, price)
	}
}
