package main

import (
	"context"

	"contribledger/internal/app"
	"contribledger/internal/config"
	"contribledger/internal/logging"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if cfg.TemporalAddress == "" {
		log.Fatal().Msg("CONTRIB_TEMPORAL_ADDRESS is required for the worker")
	}

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		log.Fatal().Err(err).Msg("dial temporal")
	}
	defer c.Close()

	a, err := app.Open(context.Background(), cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open contribution ledger")
	}
	defer a.Close()

	// Headless deployments only: the ledger has one writer per data
	// directory, and cmd/api already runs an in-process worker.
	w := a.NewWorker(c)

	log.Info().
		Str("address", cfg.TemporalAddress).
		Str("queue", cfg.TemporalTaskQueue).
		Str("store", cfg.StoreBackend).
		Str("llm_providers", cfg.LLMProviders).
		Msg("contribledger worker listening")
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatal().Err(err).Msg("worker stopped")
	}
}
