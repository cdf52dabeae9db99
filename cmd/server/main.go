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

	"github.com/prizeshop/checkout-engine/internal/checkout"
	"github.com/prizeshop/checkout-engine/internal/config"
	"github.com/prizeshop/checkout-engine/internal/draw"
	"github.com/prizeshop/checkout-engine/internal/loyalty"
	"github.com/prizeshop/checkout-engine/internal/metrics"
	"github.com/prizeshop/checkout-engine/internal/notify"
	"github.com/prizeshop/checkout-engine/internal/payment"
	"github.com/prizeshop/checkout-engine/internal/store"
	"github.com/prizeshop/checkout-engine/internal/ticket"
	"github.com/prizeshop/checkout-engine/internal/wallet"
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
		if err := store.Migrate(cfg.DatabaseURL); err != nil {
			slog.Error("migration failed", "err", err)
			os.Exit(1)
		}
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

	// --- Payment gateway adapter ---
	var gw payment.GatewayClient
	if cfg.GatewayURL != "" {
		gw = payment.NewHTTPGateway(cfg.GatewayURL)
		slog.Info("payment gateway configured", "url", cfg.GatewayURL)
	} else {
		slog.Warn("GATEWAY_URL not set, card and gateway payment paths will fail")
		gw = payment.NewHTTPGateway("http://localhost:0")
	}

	// --- WebSocket hub ---
	hub := notify.NewHub()
	go hub.Run()

	// --- Services ---
	walletSvc := wallet.NewService(st)
	issuer := ticket.NewIssuer(st)
	loyaltySvc := loyalty.NewService(st, cfg.LoyaltyRate)
	conductor := draw.NewConductor(st, hub, nil)
	checkoutSvc := checkout.NewService(st, walletSvc, issuer, loyaltySvc, gw, hub)

	// --- Reconciliation sweeper ---
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	sweeper := checkout.NewSweeper(checkoutSvc, cfg.SweepInterval, cfg.PaymentTimeout, cfg.AbandonAfter)
	go sweeper.Run(sweepCtx)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for storefront cross-origin requests.
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
		w.Write([]byte(`{"status":"ok","service":"checkout-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for order and draw events.
		r.Get("/ws", hub.HandleWS)

		// Checkout.
		r.Post("/orders", checkoutSvc.HandleSubmit)
		r.Get("/orders/{orderID}", checkoutSvc.HandleGetOrder)
		r.Get("/users/{userID}/orders", checkoutSvc.HandleListOrders)
		r.Get("/users/{userID}/loyalty", loyaltySvc.HandleGet)

		// Payment gateway integration.
		r.Post("/payment-gateway/initialize", checkoutSvc.HandleGatewayInitialize)
		r.Post("/payment-gateway/callback", checkoutSvc.HandleGatewayCallback)

		// Wallet.
		r.Post("/wallet/{userID}/topup", walletSvc.HandleTopUp)
		r.Get("/wallet/{userID}", walletSvc.HandleGetAccount)

		// Lottery.
		r.Post("/lottery/tickets/generate", issuer.HandleGenerate)
		r.Get("/lottery/tickets", issuer.HandleList)
		r.Post("/lottery/draws", conductor.HandleCreate)
		r.Get("/lottery/draws", conductor.HandleList)
		r.Get("/lottery/draws/{drawID}", conductor.HandleGet)
		r.Put("/lottery/draws/{drawID}", conductor.HandleUpdate)
		r.Post("/lottery/draws/{drawID}/conduct", conductor.HandleConduct)
		r.Get("/lottery/draws/{drawID}/winner", conductor.HandleGetWinner)
		r.Get("/lottery/winners", conductor.HandleListWinners)
		r.Post("/lottery/winners/{winnerID}/claim", conductor.HandleClaim)
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
		slog.Info("checkout-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down checkout-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("checkout-engine stopped")
}
