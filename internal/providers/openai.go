package providers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// OpenAIProvider scores through chat completions and embeds with the
// text-embedding-3 family, which accepts a target dimension.
type OpenAIProvider struct {
	chat       chatClient
	baseURL    string
	embedModel string
}

func NewOpenAIProvider(keyAlias string) *OpenAIProvider {
	base := strings.TrimRight(envOr("CONTRIB_OPENAI_BASE_URL", "https://api.openai.com/v1"), "/")
	return &OpenAIProvider{
		chat: chatClient{
			name:     "openai",
			endpoint: base + "/chat/completions",
			keyAlias: keyAlias,
			apiKey:   resolveKey("OPENAI", keyAlias),
			model:    envOr("CONTRIB_OPENAI_MODEL", "gpt-4o-mini"),
			http:     &http.Client{Timeout: 60 * time.Second},
		},
		baseURL:    base,
		embedModel: envOr("CONTRIB_OPENAI_EMBED_MODEL", "text-embedding-3-small"),
	}
}

func (o *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	return o.chat.generate(ctx, req)
}

func (o *OpenAIProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := ProviderInfo{Name: "openai", Model: o.embedModel, Key: o.chat.keyAlias}
	if o.chat.apiKey == "" {
		return nil, info, fmt.Errorf("openai key missing for alias %q", o.chat.keyAlias)
	}
	payload := map[string]any{"model": o.embedModel, "input": req.Inputs}
	if req.Dimension > 0 {
		payload["dimensions"] = req.Dimension
	}
	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := postJSON(ctx, o.chat.http, "openai", o.baseURL+"/embeddings", o.chat.apiKey, payload, &parsed); err != nil {
		return nil, info, err
	}
	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	out := make([][]float32, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		out = append(out, matchDimension(d.Embedding, req.Dimension))
	}
	return out, info, nil
}
