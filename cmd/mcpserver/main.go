// Command mcpserver runs the TaskBlitz MCP server over stdio so agent
// tooling can drive the marketplace with the same guards as the HTTP API.
package main

import (
	"context"
	"log"
	"os"

	"github.com/shopspring/decimal"

	"taskblitz-backend/config"
	"taskblitz-backend/events"
	"taskblitz-backend/ledger"
	"taskblitz-backend/mcp"
	"taskblitz-backend/payments"
	"taskblitz-backend/services"
	store "taskblitz-backend/storage/marketplace"
	"taskblitz-backend/webhooks"
)

func main() {
	log.SetOutput(os.Stderr)

	cfg, err := config.Load(os.Getenv("TASKBLITZ_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	var st store.Store
	switch cfg.Database.Driver {
	case "postgres":
		pg, err := store.NewPGStore(ctx, cfg.Database.DSN)
		if err != nil {
			log.Fatalf("connect postgres: %v", err)
		}
		st = pg
	default:
		st = store.NewMemoryStore()
	}
	defer st.Close()

	feeRate, err := decimal.NewFromString(cfg.Escrow.FeeRate)
	if err != nil {
		log.Fatalf("parse fee rate: %v", err)
	}

	ledgerClient := ledger.NewClient(cfg.Ledger.BaseURL)
	escrow := payments.NewEscrowEngine(ledgerClient, st, payments.EscrowConfig{
		FeeRate:        feeRate,
		EscrowWallet:   cfg.Escrow.EscrowWallet,
		PlatformWallet: cfg.Escrow.PlatformWallet,
		Currency:       cfg.Escrow.Currency,
		TokenDecimals:  int32(cfg.Escrow.TokenDecimals),
	})

	dispatcher := webhooks.NewDispatcher(st, log.Default())
	lifecycle := services.NewLifecycleService(st, escrow, events.Fanout{dispatcher})

	srv := mcp.NewMCPServer(st, lifecycle)
	log.Println("taskblitz mcp server listening on stdio")
	if err := srv.ServeStdio(); err != nil {
		log.Fatalf("mcp server: %v", err)
	}
}
