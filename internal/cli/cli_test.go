package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CONTRIB_DATA_DIR", dir)
	t.Setenv("CONTRIB_STORE", "file")
	t.Setenv("CONTRIB_LLM_PROVIDERS", "mock")
	t.Setenv("CONTRIB_EMBED_PROVIDERS", "mock")
	t.Setenv("CONTRIB_REDIS_URL", "")
	t.Setenv("CONTRIB_TEMPORAL_ADDRESS", "")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestSubmitEvaluateAndInspect(t *testing.T) {
	dir := setupEnv(t)

	out, err := run(t, "submit", "--id", "s1", "--contributor", "alice", "--text", "Replayable ledgers\nA note on deterministic replay.")
	require.NoError(t, err)
	var c map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &c))
	require.Equal(t, "SUBMITTED", c["status"])
	require.Equal(t, "Replayable ledgers", c["title"])

	out, err = run(t, "evaluate", "s1")
	require.NoError(t, err)
	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, "QUALIFIED", res["status"])
	_, err = os.Stat(filepath.Join(dir, "graph.json"))
	require.NoError(t, err)

	_, err = run(t, "evaluate", "s1")
	require.Error(t, err)

	out, err = run(t, "list", "--status", "qualified")
	require.NoError(t, err)
	require.Contains(t, out, "s1\tQUALIFIED\talice")

	out, err = run(t, "inspect")
	require.NoError(t, err)
	var stats map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Equal(t, float64(1), stats["allocation_count"])

	export := filepath.Join(t.TempDir(), "allocs.jsonl")
	out, err = run(t, "export-allocations", "--out", export)
	require.NoError(t, err)
	require.Contains(t, out, "exported 1 allocations")
	f, err := os.Open(export)
	require.NoError(t, err)
	defer f.Close()
	sc := bufio.NewScanner(f)
	require.True(t, sc.Scan())
	var rec map[string]any
	require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
	require.Equal(t, "s1", rec["submission_id"])
	require.Equal(t, "founder", rec["epoch"])
	require.False(t, sc.Scan())
}

func TestSubmitFromFileAndValidation(t *testing.T) {
	setupEnv(t)
	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("From a file\nbody"), 0o644))

	out, err := run(t, "submit", "--id", "f1", "--contributor", "bob", "--file", path, "--category", "notes")
	require.NoError(t, err)
	require.Contains(t, out, `"title": "From a file"`)

	_, err = run(t, "submit", "--contributor", "bob", "--text", "x", "--file", path)
	require.Error(t, err)

	_, err = run(t, "submit", "--text", "no contributor")
	require.Error(t, err)

	_, err = run(t, "get", "missing")
	require.Error(t, err)

	_, err = run(t, "register")
	require.ErrorContains(t, err, "--pending")
}

func TestInspectWithoutStateFails(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "inspect")
	require.ErrorContains(t, err, "no ledger state persisted")
}

func TestEpochsStatsAndReindex(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "epochs")
	require.NoError(t, err)
	require.Contains(t, out, "founder\tthreshold=")
	require.Contains(t, out, "pioneer\t")

	out, err = run(t, "epochs", "founder")
	require.NoError(t, err)
	require.Contains(t, out, `"balance": "45000000000000"`)

	_, err = run(t, "epochs", "nowhere")
	require.Error(t, err)

	out, err = run(t, "stats")
	require.NoError(t, err)
	require.Contains(t, out, `"allocation_count": 0`)

	out, err = run(t, "reindex")
	require.NoError(t, err)
	require.Equal(t, "reindexed 0 contributions\n", out)

	out, err = run(t, "list")
	require.NoError(t, err)
	require.Equal(t, "(none)\n", out)
}
