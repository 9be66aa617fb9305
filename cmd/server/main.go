// Package main is the entry point for the fincore personal finance server.
// It wires the posting engine, obligation modules and reports behind an HTTP
// API, with background jobs keeping card invoices in sync.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbarbosa/fincore/internal/config"
	"github.com/mbarbosa/fincore/internal/database"
	"github.com/mbarbosa/fincore/internal/modules/accounts"
	"github.com/mbarbosa/fincore/internal/modules/cards"
	"github.com/mbarbosa/fincore/internal/modules/invoices"
	"github.com/mbarbosa/fincore/internal/modules/ledger"
	"github.com/mbarbosa/fincore/internal/modules/reports"
	"github.com/mbarbosa/fincore/internal/modules/transactiontypes"
	"github.com/mbarbosa/fincore/internal/scheduler"
	"github.com/mbarbosa/fincore/internal/server"
	"github.com/mbarbosa/fincore/pkg/logger"
)

func main() {
	// Load configuration first so the log level follows it
	cfg, err := config.Load()
	if err != nil {
		tmp := logger.New(logger.Config{Level: "info", Pretty: true})
		tmp.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting fincore")

	// Initialize database
	db, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: database.ProfileLedger,
		Name:    "finance",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Wire repositories and services
	conn := db.Conn()
	accountRepo := accounts.NewRepository(conn, log)
	registry := transactiontypes.NewRegistry(transactiontypes.NewRepository(conn, log), log)
	ledgerRepo := ledger.NewRepository(conn, log)
	engine := ledger.NewEngine(conn, ledgerRepo, accountRepo, registry, log)
	cardRepo := cards.NewRepository(conn, log)
	invoiceSvc := invoices.NewService(invoices.NewRepository(conn, log), cardRepo, log)
	reportSvc := reports.NewService(conn, accountRepo, log)

	// Initialize scheduler and background jobs
	sched := scheduler.New(log)
	invoiceSyncJob := scheduler.NewInvoiceSyncJob(invoiceSvc, log)
	invoiceOverdueJob := scheduler.NewInvoiceOverdueJob(invoiceSvc, log)

	if err := sched.AddJob("0 0 5 * * *", invoiceSyncJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register invoice sync job")
	}
	if err := sched.AddJob("0 30 5 * * *", invoiceOverdueJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register invoice overdue job")
	}

	sched.Start()
	defer sched.Stop()

	// Initialize HTTP server
	srv := server.New(server.Config{
		Port:              cfg.Port,
		Log:               log,
		DB:                db,
		Config:            cfg,
		DevMode:           cfg.DevMode,
		Engine:            engine,
		Invoices:          invoiceSvc,
		Reports:           reportSvc,
		Scheduler:         sched,
		InvoiceSyncJob:    invoiceSyncJob,
		InvoiceOverdueJob: invoiceOverdueJob,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
