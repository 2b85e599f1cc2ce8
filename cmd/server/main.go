package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payout-core/internal/api"
	"payout-core/internal/config"
	"payout-core/internal/database"
	"payout-core/internal/dispute"
	"payout-core/internal/jobs"
	"payout-core/internal/ledger"
	"payout-core/internal/orchestrator"
	"payout-core/internal/processor"
	"payout-core/internal/refund"
	"payout-core/internal/routing"
	"payout-core/internal/scoring"
	"payout-core/internal/services"
	"payout-core/internal/settlement"
	"payout-core/internal/workers"
	"payout-core/pkg/logging"

	"github.com/gin-gonic/gin"
)

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatal("Failed to initialize config:", err)
	}

	// Initialize logging
	logging.InitLogging()

	// Initialize database
	if err := database.InitDatabase(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	store := database.NewStore(database.GetDB())

	// Trust scoring engine
	scorer, err := scoring.NewEngine(scoring.PolicyFromConfig())
	if err != nil {
		log.Fatal("Invalid scoring policy:", err)
	}

	// Routing engine over the approved rule set
	router := routing.NewEngine(store)

	// Processor adapters
	registry := processor.NewRegistry()
	registry.Register(processor.NewSandbox())

	// Ledger collaborator, guarded for exactly-once postings
	var inner ledger.Ledger = ledger.LogLedger{}
	if config.AppConfig.LedgerURL != "" {
		inner = ledger.NewHTTPLedger(config.AppConfig.LedgerURL, config.AppConfig.LedgerSecret)
	}
	guard := services.NewRedisGuard(database.GetRedis(), 7*24*time.Hour)
	led := ledger.WithIdempotency(inner, guard)

	// Kafka lifecycle events and creator notifications
	publisher, err := services.NewEventPublisher(config.AppConfig.KafkaBrokers, config.AppConfig.KafkaTopic)
	if err != nil {
		log.Fatal("Failed to create event publisher:", err)
	}
	notifier := services.NewNotifier()

	// Core engines
	charges := orchestrator.New(store, router, scorer, registry, led, publisher, orchestrator.BudgetFromConfig())
	refunds := refund.New(store, scorer, registry, led, publisher, notifier, refund.PolicyFromConfig())
	disputes := dispute.NewMachine(store, led, publisher, notifier)
	settlements := settlement.NewReconciler(store, led, disputes, publisher, config.AppConfig.SettlementToleranceCents)

	// Inbound event pipeline: dedup plus per-transaction workers
	dedup := services.NewEventDedup(database.GetRedis(), 48*time.Hour)
	pool := workers.NewPool(config.AppConfig.WorkerCount, 64)
	pipeline := workers.NewPipeline(pool, dedup, charges, disputes)

	// Background jobs
	runner := jobs.NewRunner(disputes, settlements, refunds,
		time.Duration(config.AppConfig.DisputeSweepMinutes)*time.Minute,
		time.Duration(config.AppConfig.SettlementRetryMinutes)*time.Minute,
		time.Duration(config.AppConfig.RefundRetryMinutes)*time.Minute)
	runner.Start()

	// Set Gin mode
	gin.SetMode(config.AppConfig.Mode)

	// Create Gin engine
	r := gin.Default()

	// Setup routes
	server := api.NewServer(store, charges, refunds, disputes, settlements, pipeline)
	server.SetupRoutes(r)

	// Start server
	port := config.AppConfig.Port
	httpServer := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	go func() {
		logging.Infof("Starting server on port %s", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	// Wait for shutdown signal, then drain: stop accepting HTTP first,
	// then the event workers, then the background jobs.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Infof("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logging.Errorf("HTTP shutdown failed: %v", err)
	}

	pool.Stop()
	runner.Stop()
	if err := publisher.Close(); err != nil {
		logging.Errorf("Failed to close event publisher: %v", err)
	}
	if err := database.CloseDatabase(); err != nil {
		logging.Errorf("Failed to close database: %v", err)
	}
	logging.Infof("Shutdown complete")
}
