package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/dungeon-ledger/internal/app"
	"github.com/jwebster45206/dungeon-ledger/internal/config"
	"github.com/jwebster45206/dungeon-ledger/internal/handlers"
	"github.com/jwebster45206/dungeon-ledger/internal/logger"
	"github.com/jwebster45206/dungeon-ledger/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting Dungeon Ledger API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"llm_provider", cfg.LLMProvider,
		"model_name", cfg.ModelName,
		"ledger_backend", cfg.LedgerBackend,
		"metadata_backend", cfg.MetadataBackend)

	// Model pulls can be slow on first start
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	engine, err := app.New(ctx, cfg, log)
	cancel()
	if err != nil {
		log.Error("Failed to start engine", "error", err)
		os.Exit(1)
	}

	deps := handlers.Deps{
		Roster:         engine.Roster,
		Sessions:       engine.Sessions,
		Ledger:         engine.Ledger,
		Metrics:        engine.Metrics.Handler(),
		DefaultOwner:   engine.Owner,
		TurnsPerMinute: cfg.TurnRatePerMinute,
	}
	var cache services.Cache
	if engine.Redis != nil {
		cache = engine.Redis
	}
	deps.Cache = cache

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     handlers.NewRouter(deps, log),
		ReadTimeout: 15 * time.Second,
		// Turns wait on the narrator and the chain; the engine bounds those itself
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	if err := engine.Close(); err != nil {
		log.Error("Error closing backends", "error", err)
	}

	log.Info("Server exited")
}
