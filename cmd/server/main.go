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
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/sproutfin/wallet-engine/internal/config"
	"github.com/sproutfin/wallet-engine/internal/invest"
	"github.com/sproutfin/wallet-engine/internal/market"
	"github.com/sproutfin/wallet-engine/internal/metrics"
	"github.com/sproutfin/wallet-engine/internal/store"
	"github.com/sproutfin/wallet-engine/internal/wallet"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

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

	// --- Trading windows ---
	state, err := market.ParseWindows(cfg.TradingWindows)
	if err != nil {
		slog.Error("invalid trading windows", "err", err)
		os.Exit(1)
	}

	// --- WebSocket hub ---
	hub := market.NewHub()
	go hub.Run()

	// --- Market engine ---
	engine := market.NewEngine(st, state, hub)
	if cfg.SeedCatalog {
		if err := engine.SeedDefaults(context.Background()); err != nil {
			slog.Error("catalog seeding failed", "err", err)
			os.Exit(1)
		}
	}

	// --- Daily simulation scheduler ---
	scheduler, err := market.NewScheduler(engine, cfg.SimulationRunAt)
	if err != nil {
		slog.Error("invalid simulation schedule", "err", err)
		os.Exit(1)
	}
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	if cfg.SchedulerEnabled {
		go scheduler.Run(schedulerCtx)
	} else {
		slog.Info("scheduler disabled, simulation runs only on manual trigger")
	}

	// --- Services ---
	walletSvc := wallet.NewService(st)
	investSvc := invest.NewService(st, walletSvc, state)
	investAPI := invest.NewHandlers(investSvc, st)
	marketAPI := market.NewHandlers(engine, scheduler, st)

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
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
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
		w.Write([]byte(`{"status":"ok","service":"wallet-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time price ticks.
		r.Get("/ws", hub.HandleWS)

		// Wallet ledger.
		r.Route("/wallet/{userID}", func(r chi.Router) {
			r.Get("/", walletSvc.GetWallet)
			r.Post("/transfer", walletSvc.PostTransfer)
			r.Get("/transactions", walletSvc.GetTransactions)
			r.Post("/credit", walletSvc.PostCredit)
			r.Post("/debit", walletSvc.PostDebit)
			r.Post("/penalty", walletSvc.PostPenalty)
		})

		// Investments.
		r.Route("/investments", func(r chi.Router) {
			r.Get("/plants", investAPI.GetPlants)
			r.Get("/stocks", investAPI.GetStocks)
			r.Get("/portfolio/{userID}", investAPI.GetPortfolio)
			r.Post("/buy", investAPI.PostBuy)
			r.Post("/sell", investAPI.PostSell)
		})

		// Stocks.
		r.Route("/stocks", func(r chi.Router) {
			r.Get("/list", investAPI.GetStocks)
			r.Get("/market-status", marketAPI.GetMarketStatus)
			r.Post("/buy", investAPI.PostBuy)
			r.Post("/sell", investAPI.PostStockSell)
			r.Get("/{assetID}", investAPI.GetStock)
		})

		// Admin: news events, simulation triggers, catalog management.
		r.Route("/admin", func(r chi.Router) {
			r.Route("/stock-news", func(r chi.Router) {
				r.Get("/", marketAPI.GetNews)
				r.Post("/", marketAPI.PostNews)
				r.Post("/{newsID}/apply", marketAPI.PostApplyNews)
			})
			r.Route("/investments", func(r chi.Router) {
				r.Get("/scheduler-status", marketAPI.GetSchedulerStatus)
				r.Post("/simulate-day", marketAPI.PostSimulateDay)
				r.Post("/simulate-fluctuation", marketAPI.PostSimulateFluctuation)
			})
			r.Post("/assets", marketAPI.PostAsset)
			r.Patch("/assets/{assetID}/price", marketAPI.PatchAssetPrice)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("wallet-engine listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopScheduler()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down wallet-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("wallet-engine stopped")
}
