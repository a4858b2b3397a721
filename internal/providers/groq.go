package providers

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// GroqProvider generates through Groq's OpenAI-compatible endpoint. Groq
// has no embedding API.
type GroqProvider struct {
	chat chatClient
}

func NewGroqProvider(keyAlias string) *GroqProvider {
	base := strings.TrimRight(envOr("CONTRIB_GROQ_BASE_URL", "https://api.groq.com/openai/v1"), "/")
	return &GroqProvider{chat: chatClient{
		name:     "groq",
		endpoint: base + "/chat/completions",
		keyAlias: keyAlias,
		apiKey:   resolveKey("GROQ", keyAlias),
		model:    envOr("CONTRIB_GROQ_MODEL", "llama-3.1-8b-instant"),
		http:     &http.Client{Timeout: 60 * time.Second},
	}}
}

func (g *GroqProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	return g.chat.generate(ctx, req)
}
