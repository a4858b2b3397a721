package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"contribledger/internal/archive"
	"contribledger/internal/config"
	"contribledger/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, backend string) config.Config {
	t.Helper()
	t.Setenv("CONTRIB_DATA_DIR", t.TempDir())
	t.Setenv("CONTRIB_STORE", backend)
	t.Setenv("CONTRIB_LLM_PROVIDERS", "mock")
	t.Setenv("CONTRIB_EMBED_PROVIDERS", "mock")
	t.Setenv("CONTRIB_EMBED_DIM", "32")
	return config.Load()
}

func TestOpenFileBackendEvaluatesWithMockScorer(t *testing.T) {
	cfg := testConfig(t, "file")
	ctx := context.Background()
	a, err := Open(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Orchestrator.Submit(ctx, archive.NewContribution{SubmissionID: "s1", Contributor: "alice", Text: "a fresh idea about archive replay"})
	require.NoError(t, err)
	res, err := a.Orchestrator.Evaluate(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, models.StatusQualified, res.Status)
	// 8500 x 9000 x 10000 / 1e8; density 9000 clears the founder threshold.
	require.Equal(t, "7650.000000000000000000", res.Scores.Composite.String())
	require.Len(t, res.Allocations, 1)
	require.Equal(t, "founder", res.Allocations[0].Epoch)

	_, err = os.Stat(filepath.Join(cfg.LedgerDir(), "ledger.json"))
	require.NoError(t, err)
}

func TestOpenLevelDBBackendReopens(t *testing.T) {
	cfg := testConfig(t, "leveldb")
	ctx := context.Background()
	a, err := Open(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	_, err = a.Orchestrator.Submit(ctx, archive.NewContribution{SubmissionID: "s1", Contributor: "alice", Text: "persisted through leveldb"})
	require.NoError(t, err)
	a.Close()

	b, err := Open(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer b.Close()
	c, err := b.Archive.Get("s1")
	require.NoError(t, err)
	require.Equal(t, models.StatusSubmitted, c.Status)
}

func TestOpenRejectsUnknownSettings(t *testing.T) {
	cfg := testConfig(t, "tape")
	_, err := Open(context.Background(), cfg, zerolog.Nop())
	require.ErrorContains(t, err, "unknown store backend")

	cfg = testConfig(t, "file")
	cfg.SimilarityMetric = "jaccard"
	_, err = Open(context.Background(), cfg, zerolog.Nop())
	require.ErrorContains(t, err, "unknown similarity metric")
}

func TestLedgerConfigOverrides(t *testing.T) {
	cfg := testConfig(t, "file")
	cfg.AllocationHistory = 50
	lcfg, err := LedgerConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, 50, lcfg.HistoryLimit)
	require.Len(t, lcfg.Epochs, 4)

	path := filepath.Join(t.TempDir(), "tokenomics.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"epochs":[{"name":"solo","initial_balance":"1000","threshold":0,"eligible":["copper"],"halving_interval":10}]}`), 0o644))
	cfg.TokenomicsFile = path
	lcfg, err = LedgerConfig(cfg)
	require.NoError(t, err)
	require.Len(t, lcfg.Epochs, 1)
	require.Equal(t, "solo", lcfg.Epochs[0].Name)

	ec := EvaluationConfig(cfg)
	require.Equal(t, cfg.MinCoherence, ec.MinCoherence)
	require.Equal(t, cfg.ContextEntries, ec.ContextEntries)
}
