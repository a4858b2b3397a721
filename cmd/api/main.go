package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"contribledger/internal/api"
	"contribledger/internal/app"
	"contribledger/internal/config"
	"contribledger/internal/logging"

	"github.com/joho/godotenv"
	tclient "go.temporal.io/sdk/client"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open contribution ledger")
	}
	defer a.Close()

	var tc tclient.Client
	if cfg.TemporalAddress != "" {
		tc, err = tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress})
		if err != nil {
			log.Fatal().Err(err).Str("address", cfg.TemporalAddress).Msg("dial temporal")
		}
		defer tc.Close()
		w := a.NewWorker(tc)
		if err := w.Start(); err != nil {
			log.Fatal().Err(err).Msg("start temporal worker")
		}
		defer w.Stop()
	}

	h := api.NewServer(api.Deps{
		Orchestrator: a.Orchestrator,
		Metrics:      a.Metrics,
		Temporal:     tc,
		TaskQueue:    cfg.TemporalTaskQueue,
		GraphPath:    a.GraphPath(),
		Log:          log,
	})
	srv := &http.Server{Addr: cfg.APIAddr, Handler: h.Routes(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Info().
		Str("addr", cfg.APIAddr).
		Str("store", cfg.StoreBackend).
		Bool("workflows", tc != nil).
		Str("llm_providers", cfg.LLMProviders).
		Str("embed_providers", cfg.EmbedProviders).
		Msg("contribledger api listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("serve")
	}
}
