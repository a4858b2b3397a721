package overlap

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"contribledger/internal/fingerprint"
	"contribledger/internal/models"
	"contribledger/internal/providers"
	"contribledger/internal/util"
)

// Similarity scores a candidate against a batch of other contributions.
// Scores are in [0,1] and returned in the order of others.
type Similarity interface {
	Name() string
	Scores(ctx context.Context, candidate models.Contribution, others []models.Contribution) ([]float64, error)
}

// TermCosine compares normalized term-frequency vectors. It is pure and
// needs no collaborator.
type TermCosine struct{}

func (TermCosine) Name() string { return "terms" }

func (TermCosine) Scores(_ context.Context, candidate models.Contribution, others []models.Contribution) ([]float64, error) {
	cv := termVector(candidate.Text)
	out := make([]float64, len(others))
	for i, o := range others {
		out[i] = cosineTerms(cv, termVector(o.Text))
	}
	return out, nil
}

func termVector(text string) map[string]float64 {
	v := map[string]float64{}
	for _, tok := range strings.Fields(fingerprint.Normalize(text)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]{}")
		if tok == "" {
			continue
		}
		v[tok]++
	}
	return v
}

func cosineTerms(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot, na, nb float64
	for k, x := range a {
		dot += x * b[k]
		na += x * x
	}
	for _, y := range b {
		nb += y * y
	}
	return clamp01(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// EmbeddingCosine compares embedding vectors from an embedding provider.
// Long texts are split into overlapping chunks and the chunk vectors are
// mean-pooled. Vectors are cached by fingerprint, so each distinct text is
// embedded once per process.
type EmbeddingCosine struct {
	provider     providers.EmbeddingProvider
	dim          int
	chunkRunes   int
	chunkOverlap int

	mu    sync.Mutex
	cache map[string][]float32
}

func NewEmbeddingCosine(p providers.EmbeddingProvider, dim int) *EmbeddingCosine {
	return &EmbeddingCosine{
		provider:     p,
		dim:          dim,
		chunkRunes:   1200,
		chunkOverlap: 200,
		cache:        map[string][]float32{},
	}
}

func (e *EmbeddingCosine) Name() string { return "embedding" }

func (e *EmbeddingCosine) Scores(ctx context.Context, candidate models.Contribution, others []models.Contribution) ([]float64, error) {
	all := append([]models.Contribution{candidate}, others...)
	vecs, err := e.vectors(ctx, all)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(others))
	for i := range others {
		out[i] = cosineVec(vecs[0], vecs[i+1])
	}
	return out, nil
}

func (e *EmbeddingCosine) vectors(ctx context.Context, items []models.Contribution) ([][]float32, error) {
	keys := make([]string, len(items))
	out := make([][]float32, len(items))
	var (
		missing []string
		missIdx = map[string][]int{}
	)
	e.mu.Lock()
	for i, c := range items {
		k := c.Fingerprint
		if k == "" {
			k = fingerprint.Of(c.Text)
		}
		keys[i] = k
		if v, ok := e.cache[k]; ok {
			out[i] = v
			continue
		}
		if _, queued := missIdx[k]; !queued {
			missing = append(missing, c.Text)
		}
		missIdx[k] = append(missIdx[k], i)
	}
	e.mu.Unlock()

	if len(missing) == 0 {
		return out, nil
	}
	vecs, err := e.embedChunked(ctx, missing)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	seen := map[string]bool{}
	for i, k := range keys {
		if out[i] != nil || seen[k] {
			continue
		}
		seen[k] = true
		e.cache[k] = vecs[n]
		for _, j := range missIdx[k] {
			out[j] = vecs[n]
		}
		n++
	}
	return out, nil
}

// embedChunked embeds every chunk of every text in one provider call and
// returns one pooled vector per text.
func (e *EmbeddingCosine) embedChunked(ctx context.Context, texts []string) ([][]float32, error) {
	var inputs []string
	spans := make([][2]int, len(texts))
	for i, text := range texts {
		chunks := util.ChunkText(text, e.chunkRunes, e.chunkOverlap)
		if len(chunks) == 0 {
			chunks = []string{text}
		}
		spans[i] = [2]int{len(inputs), len(inputs) + len(chunks)}
		inputs = append(inputs, chunks...)
	}
	vecs, _, err := e.provider.Embed(ctx, providers.EmbedRequest{Operation: "overlap_embed", Inputs: inputs, Dimension: e.dim})
	if err != nil {
		return nil, fmt.Errorf("embed for overlap: %w", err)
	}
	if len(vecs) != len(inputs) {
		return nil, fmt.Errorf("embed for overlap: got %d vectors for %d inputs", len(vecs), len(inputs))
	}
	out := make([][]float32, len(texts))
	for i, sp := range spans {
		out[i] = meanPool(vecs[sp[0]:sp[1]])
	}
	return out, nil
}

func meanPool(vs [][]float32) []float32 {
	if len(vs) == 1 {
		return vs[0]
	}
	out := make([]float32, len(vs[0]))
	for _, v := range vs {
		for i := range out {
			if i < len(v) {
				out[i] += v[i]
			}
		}
	}
	for i := range out {
		out[i] /= float32(len(vs))
	}
	return out
}

func cosineVec(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return clamp01(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x) || x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
