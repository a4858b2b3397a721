package overlap

import (
	"context"
	"errors"
	"strings"
	"testing"

	"contribledger/internal/fingerprint"
	"contribledger/internal/models"
	"contribledger/internal/providers"

	"github.com/stretchr/testify/require"
)

func contrib(id, text string) models.Contribution {
	return models.Contribution{SubmissionID: id, Text: text, Fingerprint: fingerprint.Of(text), Status: models.StatusSubmitted}
}

func TestBandsClassify(t *testing.T) {
	b := DefaultBands()
	require.Equal(t, BandExactDuplicate, b.Classify(0.95))
	require.Equal(t, BandHighOverlap, b.Classify(0.8))
	require.Equal(t, BandModerate, b.Classify(0.79))
	require.Equal(t, BandRelated, b.Classify(0.2))
	require.Equal(t, BandUnrelated, b.Classify(0.19))
	require.Error(t, Bands{Exact: 0.5, High: 0.8, Moderate: 0.4, Related: 0.1}.Validate())
}

func TestRedundancyReportCoversWholeSnapshot(t *testing.T) {
	a, err := NewAnalyzer(TermCosine{}, DefaultBands())
	require.NoError(t, err)

	cand := contrib("c", "the quick brown fox jumps over the lazy dog")
	snapshot := []models.Contribution{
		cand,
		contrib("same", "The quick brown FOX jumps over the lazy dog."),
		contrib("near", "the quick brown fox jumps over the sleepy cat"),
		contrib("far", "ledger epochs halve their balance"),
	}
	snapshot[3].Status = models.StatusUnqualified

	rep, err := a.RedundancyReport(context.Background(), cand, snapshot)
	require.NoError(t, err)
	require.Equal(t, 3, rep.Compared)
	require.Equal(t, "terms", rep.Metric)
	require.Equal(t, "same", rep.Entries[0].SubmissionID)
	require.Equal(t, BandExactDuplicate, rep.Entries[0].Band)
	require.InDelta(t, 1.0, rep.MaxSimilarity, 1e-9)
	require.Equal(t, "far", rep.Entries[2].SubmissionID)
	require.Equal(t, BandUnrelated, rep.Entries[2].Band)
	require.Equal(t, 1, rep.Counts[BandUnrelated])
	require.Len(t, rep.Top(5), 2)
	require.Contains(t, rep.Summary(), "compared=3")
}

func TestRedundancyReportEmptyArchive(t *testing.T) {
	a, err := NewAnalyzer(nil, DefaultBands())
	require.NoError(t, err)
	cand := contrib("c", "alone")
	rep, err := a.RedundancyReport(context.Background(), cand, []models.Contribution{cand})
	require.NoError(t, err)
	require.Zero(t, rep.Compared)
	require.Zero(t, rep.Counts[BandExactDuplicate])
}

func TestGraphEdgesAboveRelated(t *testing.T) {
	a, err := NewAnalyzer(TermCosine{}, DefaultBands())
	require.NoError(t, err)
	snapshot := []models.Contribution{
		contrib("a", "alpha beta gamma delta"),
		contrib("b", "alpha beta gamma epsilon"),
		contrib("c", "unrelated words entirely"),
	}
	g, err := a.Graph(context.Background(), snapshot)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 3)
	require.Len(t, g.Edges, 1)
	require.Equal(t, "a", g.Edges[0].Source)
	require.Equal(t, "b", g.Edges[0].Target)
	require.InDelta(t, 0.75, g.Edges[0].Weight, 1e-9)
}

type countingEmbedder struct {
	inner  providers.EmbeddingProvider
	calls  int
	inputs int
	err    error
}

func (c *countingEmbedder) Embed(ctx context.Context, req providers.EmbedRequest) ([][]float32, providers.ProviderInfo, error) {
	c.calls++
	c.inputs += len(req.Inputs)
	if c.err != nil {
		return nil, providers.ProviderInfo{}, c.err
	}
	return c.inner.Embed(ctx, req)
}

func TestEmbeddingCosineCachesByFingerprint(t *testing.T) {
	emb := &countingEmbedder{inner: providers.NewMockProvider(32)}
	sim := NewEmbeddingCosine(emb, 32)
	a, err := NewAnalyzer(sim, DefaultBands())
	require.NoError(t, err)

	cand := contrib("c", "same text")
	snapshot := []models.Contribution{contrib("x", "same text"), contrib("y", "other text")}
	rep, err := a.RedundancyReport(context.Background(), cand, snapshot)
	require.NoError(t, err)
	require.Equal(t, "x", rep.Entries[0].SubmissionID)
	require.InDelta(t, 1.0, rep.Entries[0].Similarity, 1e-6)
	require.Equal(t, 2, emb.inputs)

	_, err = a.RedundancyReport(context.Background(), cand, snapshot)
	require.NoError(t, err)
	require.Equal(t, 1, emb.calls)

	emb.err = errors.New("down")
	_, err = a.RedundancyReport(context.Background(), contrib("n", "new text"), snapshot)
	require.Error(t, err)
}

func TestEmbeddingCosineChunksLongText(t *testing.T) {
	emb := &countingEmbedder{inner: providers.NewMockProvider(32)}
	sim := NewEmbeddingCosine(emb, 32)

	long := strings.Repeat("ledger epochs halve on density milestones. ", 80)
	scores, err := sim.Scores(context.Background(), contrib("c", long), []models.Contribution{contrib("x", long)})
	require.NoError(t, err)
	require.InDelta(t, 1.0, scores[0], 1e-6)
	// Both sides share a fingerprint, so one text is chunked and embedded.
	require.Equal(t, 1, emb.calls)
	require.Greater(t, emb.inputs, 1)
}
