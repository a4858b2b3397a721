// Package providers talks to the LLM and embedding backends used for
// contribution scoring and overlap analysis. Backends are listed in
// CONTRIB_LLM_PROVIDERS and CONTRIB_EMBED_PROVIDERS as name[:alias]
// entries; mock is always available and fully deterministic.
package providers

import "context"

type ProviderInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Key   string `json:"key"`
}

type GenerateRequest struct {
	Operation string `json:"operation"`
	// SubmissionID tags the request upstream where the API supports it.
	SubmissionID string   `json:"submission_id,omitempty"`
	System       string   `json:"system,omitempty"`
	Prompt       string   `json:"prompt"`
	Context      []string `json:"context"`
	// JSON constrains the reply to a single JSON object.
	JSON bool `json:"json,omitempty"`
}

type GenerateResponse struct {
	Text string `json:"text"`
}

type EmbedRequest struct {
	Operation string   `json:"operation"`
	Inputs    []string `json:"inputs"`
	Dimension int      `json:"dimension"`
}

type LLMProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error)
}

type EmbeddingProvider interface {
	Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error)
}
