// Package app wires configuration into a running orchestrator. The api,
// worker and ledgerctl binaries all start from here.
package app

import (
	"context"
	"fmt"
	"time"

	"contribledger/internal/activities"
	"contribledger/internal/archive"
	"contribledger/internal/config"
	"contribledger/internal/evaluation"
	"contribledger/internal/ledger"
	"contribledger/internal/metrics"
	"contribledger/internal/overlap"
	"contribledger/internal/providers"
	"contribledger/internal/registration"
	"contribledger/internal/scoring"
	"contribledger/internal/storage/filestore"
	"contribledger/internal/storage/leveldb"
	"contribledger/internal/storage/postgres"
	"contribledger/internal/workflows"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// Stores is one durable backend opened for both the archive and the ledger.
type Stores struct {
	Archive archive.Store
	Ledger  ledger.Store
	// Audit is set only when the backend can record scoring calls.
	Audit scoring.Auditor
	close func()
}

func (s *Stores) Close() {
	if s != nil && s.close != nil {
		s.close()
	}
}

// OpenStores opens the backend named by cfg.StoreBackend.
func OpenStores(ctx context.Context, cfg config.Config) (*Stores, error) {
	switch cfg.StoreBackend {
	case "", "file":
		as, err := filestore.NewArchiveStore(cfg.ArchiveDir())
		if err != nil {
			return nil, err
		}
		ls, err := filestore.NewLedgerStore(cfg.LedgerDir())
		if err != nil {
			return nil, err
		}
		return &Stores{Archive: as, Ledger: ls}, nil
	case "leveldb":
		db, err := leveldb.Open(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return &Stores{Archive: db.ArchiveStore(), Ledger: db.LedgerStore(), close: func() { _ = db.Close() }}, nil
	case "postgres":
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		db, err := postgres.NewDB(pctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return &Stores{
			Archive: postgres.NewArchiveRepo(db),
			Ledger:  postgres.NewLedgerRepo(db),
			Audit:   postgres.NewScoringAuditRepo(db),
			close:   db.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// LedgerConfig returns the tokenomics tables: compiled defaults, optionally
// replaced by the tokenomics file, with the configured history retention.
func LedgerConfig(cfg config.Config) (ledger.Config, error) {
	lcfg := ledger.DefaultConfig()
	if cfg.TokenomicsFile != "" {
		var err error
		if lcfg, err = ledger.LoadConfigFile(cfg.TokenomicsFile); err != nil {
			return ledger.Config{}, err
		}
	}
	if cfg.AllocationHistory >= 0 {
		lcfg.HistoryLimit = cfg.AllocationHistory
	}
	return lcfg, lcfg.Validate()
}

func EvaluationConfig(cfg config.Config) evaluation.Config {
	ec := evaluation.DefaultConfig()
	ec.MinCoherence = cfg.MinCoherence
	ec.MinDensity = cfg.MinDensity
	ec.MaxRedundancy = cfg.MaxRedundancy
	if cfg.ContextEntries > 0 {
		ec.ContextEntries = cfg.ContextEntries
	}
	return ec
}

type App struct {
	Config       config.Config
	Log          zerolog.Logger
	Metrics      *metrics.Metrics
	Providers    *providers.Manager
	Archive      *archive.Archive
	Ledger       *ledger.Ledger
	Orchestrator *evaluation.Orchestrator

	stores  *Stores
	closers []func()
}

// Open builds the full stack. Close releases stores and clients.
func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	lcfg, err := LedgerConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.stores, err = OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.stores.Close)

	if a.Archive, err = archive.Open(ctx, a.stores.Archive, log); err != nil {
		return nil, err
	}
	if a.Ledger, err = ledger.Open(ctx, a.stores.Ledger, lcfg, log); err != nil {
		return nil, err
	}
	if a.Providers, err = providers.NewManager(cfg); err != nil {
		return nil, err
	}

	sim, err := a.similarity()
	if err != nil {
		return nil, err
	}
	analyzer, err := overlap.NewAnalyzer(sim, overlap.DefaultBands())
	if err != nil {
		return nil, err
	}
	registrar, err := a.registrar()
	if err != nil {
		return nil, err
	}

	a.Orchestrator = evaluation.New(evaluation.Deps{
		Archive:   a.Archive,
		Analyzer:  analyzer,
		Scorer:    scoring.NewLLMScorer(a.Providers, a.stores.Audit, log, cfg.MaxContentRunes),
		Ledger:    a.Ledger,
		Registrar: registrar,
		Metrics:   a.Metrics,
		Log:       log,
	}, EvaluationConfig(cfg))
	for _, e := range a.Ledger.Epochs() {
		if f, err := sdkmath.LegacyNewDecFromInt(e.Balance).Float64(); err == nil {
			a.Metrics.EpochBalance.WithLabelValues(e.Name).Set(f)
		}
	}
	log.Info().
		Str("store", cfg.StoreBackend).
		Str("similarity", sim.Name()).
		Str("llm_providers", cfg.LLMProviders).
		Int("contributions", a.Archive.Count()).
		Msg("contribution ledger ready")
	ok = true
	return a, nil
}

func (a *App) similarity() (overlap.Similarity, error) {
	switch a.Config.SimilarityMetric {
	case "", "terms":
		return overlap.TermCosine{}, nil
	case "embedding":
		return overlap.NewEmbeddingCosine(a.Providers.FirstEmbedProvider(), a.Config.EmbedDim), nil
	default:
		return nil, fmt.Errorf("unknown similarity metric %q", a.Config.SimilarityMetric)
	}
}

func (a *App) registrar() (registration.Registrar, error) {
	if a.Config.RedisURL == "" {
		return registration.Noop{}, nil
	}
	client, err := registration.ConnectRedis(a.Config.RedisURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	return registration.NewRedisStream(client, a.Config.RegistrationStream), nil
}

func (a *App) GraphPath() string {
	return a.Config.GraphPath()
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// NewWorker registers the workflows and activities on a Temporal worker
// bound to this process's orchestrator.
func (a *App) NewWorker(c client.Client) worker.Worker {
	w := worker.New(c, a.Config.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	activities.Register(w, activities.New(a.Orchestrator, a.GraphPath(), a.Log))
	return w
}
