package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MockProvider embeds by hashing and answers scoring prompts with a fixed
// approval, so tests and local runs need no network.
type MockProvider struct {
	dim int
}

func NewMockProvider(dim int) *MockProvider {
	if dim <= 0 {
		dim = 1536
	}
	return &MockProvider{dim: dim}
}

func (m *MockProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	dim := req.Dimension
	if dim <= 0 {
		dim = m.dim
	}
	vectors := make([][]float32, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		vectors = append(vectors, deterministicVector(input, dim))
	}
	return vectors, ProviderInfo{Name: "mock", Model: fmt.Sprintf("mock-embed-%d", dim), Key: "mock"}, nil
}

func (m *MockProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	text := "Mock response."
	if strings.Contains(strings.ToLower(req.Operation), "score") {
		text = mockScoreReply(req.Prompt)
	}
	return GenerateResponse{Text: text}, ProviderInfo{Name: "mock", Model: "mock-llm-v1", Key: "mock"}, nil
}

// mockScoreReply returns a stable approval whose redundancy tracks the
// max_similarity reported in the prompt.
func mockScoreReply(prompt string) string {
	redundancy := 0
	if i := strings.Index(prompt, "max_similarity="); i >= 0 {
		rest := prompt[i+len("max_similarity="):]
		if j := strings.IndexAny(rest, " \n"); j >= 0 {
			rest = rest[:j]
		}
		if f, err := strconv.ParseFloat(rest, 64); err == nil {
			redundancy = int(math.Round(f * 10000))
		}
	}
	return fmt.Sprintf(`{"coherence":8500,"density":9000,"redundancy":%d,"metals":["gold"],"approved":true,"justification":"Deterministic mock review."}`, redundancy)
}

func deterministicVector(input string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := []byte(input)
	if len(seed) == 0 {
		seed = []byte("empty")
	}
	for i := 0; i < dim; i++ {
		h := sha256.Sum256(append(seed, byte(i%251)))
		u := binary.BigEndian.Uint32(h[:4])
		v := float32(u%2000)/1000.0 - 1.0
		vec[i] = v
	}
	return normalize(vec)
}

func normalize(v []float32) []float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return v
	}
	inv := float32(1.0 / (math.Sqrt(float64(sum)) + 1e-9))
	for i := range v {
		v[i] *= inv
	}
	return v
}
