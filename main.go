// Command taskblitz-backend runs the marketplace HTTP API: task lifecycle,
// escrow settlement, pay-per-call metering, webhooks, and the live event feed.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"taskblitz-backend/config"
	core "taskblitz-backend/core/marketplace"
	"taskblitz-backend/events"
	"taskblitz-backend/handlers"
	"taskblitz-backend/ledger"
	mw "taskblitz-backend/middleware"
	"taskblitz-backend/payments"
	"taskblitz-backend/paygate"
	"taskblitz-backend/ratelimit"
	"taskblitz-backend/services"
	auth "taskblitz-backend/storage/auth"
	store "taskblitz-backend/storage/marketplace"
	"taskblitz-backend/webhooks"
)

func main() {
	cfg, err := config.Load(os.Getenv("TASKBLITZ_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()

	var st store.Store
	var keys auth.APIKeyValidator
	var issuer auth.APIKeyIssuer
	var ceilings ratelimit.CeilingSource
	switch cfg.Database.Driver {
	case "postgres":
		pg, err := store.NewPGStore(ctx, cfg.Database.DSN)
		if err != nil {
			log.Fatalf("connect postgres: %v", err)
		}
		st = pg
		pgKeys, err := auth.NewPGAPIKeyStore(ctx, cfg.Database.DSN)
		if err != nil {
			log.Fatalf("connect postgres for api keys: %v", err)
		}
		keys, issuer, ceilings = pgKeys, pgKeys, pgKeys
		log.Println("using postgres store")
	default:
		st = store.NewMemoryStore()
		memKeys := auth.NewAPIKeyStore()
		memKeys.Seed(os.Getenv("TASKBLITZ_SEED_API_KEY"), "", "seed")
		keys, issuer, ceilings = memKeys, memKeys, memKeys
		log.Println("using in-memory store")
	}
	defer st.Close()

	feeRate, err := decimal.NewFromString(cfg.Escrow.FeeRate)
	if err != nil {
		log.Fatalf("parse fee rate %q: %v", cfg.Escrow.FeeRate, err)
	}

	ledgerClient := ledger.NewClient(cfg.Ledger.BaseURL)
	escrow := payments.NewEscrowEngine(ledgerClient, st, payments.EscrowConfig{
		FeeRate:        feeRate,
		EscrowWallet:   cfg.Escrow.EscrowWallet,
		PlatformWallet: cfg.Escrow.PlatformWallet,
		Currency:       cfg.Escrow.Currency,
		TokenDecimals:  int32(cfg.Escrow.TokenDecimals),
	})
	verifier := payments.NewVerifier(ledgerClient)

	hub := events.NewHub(log.Default())
	dispatcher := webhooks.NewDispatcher(st, log.Default())
	lifecycle := services.NewLifecycleService(st, escrow, events.Fanout{dispatcher, hub})
	importer := services.NewImportService(lifecycle)

	limiter := ratelimit.NewLimiter(st, core.APIRateLimit{
		PerMinute: cfg.RateLimit.PerMinute,
		PerHour:   cfg.RateLimit.PerHour,
		PerDay:    cfg.RateLimit.PerDay,
	})
	limiter.UseKeyCeilings(ceilings)

	prices := make(map[string]decimal.Decimal, len(cfg.Paygate.Prices))
	for endpoint, raw := range cfg.Paygate.Prices {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			log.Fatalf("parse paygate price for %s: %v", endpoint, err)
		}
		prices[endpoint] = price
	}
	gate := paygate.NewGate(verifier, paygate.Config{
		Recipient: cfg.Paygate.Recipient,
		Currency:  cfg.Paygate.Currency,
		Network:   cfg.Paygate.Network,
		Prices:    prices,
	})

	healthHandler := handlers.NewHealthHandler(hub)
	taskHandler := handlers.NewTaskHandler(lifecycle, st)
	submissionHandler := handlers.NewSubmissionHandler(lifecycle, st)
	webhookHandler := handlers.NewWebhookHandler(st, cfg.Webhooks.RetryCount, cfg.Webhooks.TimeoutSeconds)
	importHandler := handlers.NewImportHandler(importer)
	authHandler := handlers.NewAPIKeyHandler(issuer, keys, st)

	r := chi.NewRouter()
	r.Use(mw.Recovery)
	r.Use(mw.Logging)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.CORS)
	r.Use(mw.ValidateQuery)
	r.Use(mw.Timeout(time.Duration(cfg.Server.TimeoutSeconds) * time.Second))

	r.Get("/health", healthHandler.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/ws", hub)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", authHandler.HandleRegister)
		r.Post("/auth/login", authHandler.HandleLogin)

		r.Group(func(r chi.Router) {
			r.Use(mw.APIAuth(keys))
			r.Use(mw.RateLimit(limiter))
			r.Use(mw.ContentType)
			r.Use(gate.Middleware)

			r.Put("/auth/limits", authHandler.HandleSetLimits)

			r.Post("/tasks", taskHandler.HandleCreateTask)
			r.Get("/tasks", taskHandler.HandleListTasks)
			r.Post("/tasks/import", importHandler.HandleImportCSV)
			r.Get("/tasks/{id}", taskHandler.HandleGetTask)
			r.Delete("/tasks/{id}", taskHandler.HandleCancelTask)
			r.Get("/tasks/{id}/transactions", taskHandler.HandleListTransactions)
			r.Post("/tasks/{id}/applications", submissionHandler.HandleApply)
			r.Get("/tasks/{id}/applications", submissionHandler.HandleListApplications)
			r.Get("/tasks/{id}/submissions", submissionHandler.HandleListSubmissions)

			r.Post("/applications/{id}/review", submissionHandler.HandleReviewApplication)

			r.Post("/submissions", submissionHandler.HandleSubmitWork)
			r.Post("/submissions/{id}/review", submissionHandler.HandleReviewSubmission)
			r.Post("/submissions/{id}/disputes", submissionHandler.HandleOpenDispute)

			r.Get("/disputes", submissionHandler.HandleListDisputes)
			r.Post("/disputes/{id}/resolve", submissionHandler.HandleResolveDispute)

			r.Post("/webhooks", webhookHandler.HandleCreateWebhook)
			r.Get("/webhooks", webhookHandler.HandleListWebhooks)
			r.Get("/webhooks/{id}/deliveries", webhookHandler.HandleListDeliveries)

			r.Get("/premium/market-stats", taskHandler.HandleMarketStats)
		})

		r.Get("/paygate/qr", gate.QRHandler)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Printf("taskblitz backend listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
