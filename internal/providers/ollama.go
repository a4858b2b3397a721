package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OllamaProvider runs scoring and embeddings against a local Ollama
// server. The alias picks the embedding model, e.g. ollama:nomic.
type OllamaProvider struct {
	alias      string
	baseURL    string
	embedModel string
	chatModel  string
	client     *http.Client
}

func NewOllamaProvider(alias string) *OllamaProvider {
	return &OllamaProvider{
		alias:      alias,
		baseURL:    strings.TrimRight(envOr("CONTRIB_OLLAMA_BASE_URL", "http://localhost:11434"), "/"),
		embedModel: resolveOllamaEmbedModel(alias),
		chatModel:  envOr("CONTRIB_OLLAMA_MODEL", "llama3.1"),
		client:     &http.Client{Timeout: 120 * time.Second},
	}
}

func (o *OllamaProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := ProviderInfo{Name: "ollama", Model: o.embedModel, Key: o.alias}
	if len(req.Inputs) == 0 {
		return nil, info, fmt.Errorf("no embedding inputs")
	}
	var parsed struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	payload := map[string]any{"model": o.embedModel, "input": req.Inputs}
	if err := postJSON(ctx, o.client, "ollama", o.baseURL+"/api/embed", "", payload, &parsed); err != nil {
		return nil, info, err
	}
	if len(parsed.Embeddings) != len(req.Inputs) {
		return nil, info, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(parsed.Embeddings), len(req.Inputs))
	}
	out := make([][]float32, len(parsed.Embeddings))
	for i, v := range parsed.Embeddings {
		if len(v) == 0 {
			return nil, info, fmt.Errorf("ollama returned empty embedding")
		}
		out[i] = matchDimension(v, req.Dimension)
	}
	return out, info, nil
}

func (o *OllamaProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "ollama", Model: o.chatModel, Key: o.alias}
	system := req.System
	if system == "" {
		system = defaultSystemPrompt
	}
	payload := map[string]any{
		"model":  o.chatModel,
		"stream": false,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": withContext(req.Prompt, req.Context)},
		},
		"options": map[string]any{"temperature": 0},
	}
	if req.JSON {
		payload["format"] = "json"
	}
	var parsed struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := postJSON(ctx, o.client, "ollama", o.baseURL+"/api/chat", "", payload, &parsed); err != nil {
		return GenerateResponse{}, info, err
	}
	if strings.TrimSpace(parsed.Message.Content) == "" {
		return GenerateResponse{}, info, fmt.Errorf("ollama returned an empty message")
	}
	return GenerateResponse{Text: parsed.Message.Content}, info, nil
}

func resolveOllamaEmbedModel(alias string) string {
	alias = strings.TrimSpace(alias)
	if alias != "" {
		if v := strings.TrimSpace(getenvToken("CONTRIB_OLLAMA_EMBED_MODEL_", alias)); v != "" {
			return v
		}
		switch strings.ToLower(alias) {
		case "nomic":
			return "nomic-embed-text"
		case "bge":
			return "bge-small-en-v1.5"
		}
		// ollama:nomic-embed-text names the model directly.
		if strings.ContainsAny(alias, "-/.") {
			return alias
		}
	}
	return envOr("CONTRIB_OLLAMA_EMBED_MODEL", "nomic-embed-text")
}

func getenvToken(prefix, alias string) string {
	return envOr(prefix+sanitizeEnvToken(alias), "")
}

// matchDimension truncates or zero-pads v to target; target <= 0 keeps v.
func matchDimension(v []float32, target int) []float32 {
	if target <= 0 || len(v) == target {
		return v
	}
	if len(v) > target {
		return v[:target]
	}
	out := make([]float32, target)
	copy(out, v)
	return out
}
