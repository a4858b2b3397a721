package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"unicode/utf8"
)

const (
	maxReplyBytes   = 4 << 20
	maxErrBodyRunes = 512
)

const defaultSystemPrompt = "You review contributions to a shared archive. Follow the output format in the prompt exactly."

// postJSON sends payload and decodes a 2xx reply into out. Replies of 400
// and above come back as *StatusError.
func postJSON(ctx context.Context, hc *http.Client, provider, url, bearer string, payload, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build %s request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", provider, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return fmt.Errorf("read %s reply: %w", provider, err)
	}
	if resp.StatusCode >= 400 {
		return &StatusError{Provider: provider, StatusCode: resp.StatusCode, Body: clip(string(body), maxErrBodyRunes)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s reply: %w", provider, err)
	}
	return nil
}

// chatClient speaks the chat-completions dialect shared by OpenAI and Groq.
type chatClient struct {
	name     string
	endpoint string
	keyAlias string
	apiKey   string
	model    string
	http     *http.Client
}

func (c *chatClient) info() ProviderInfo {
	return ProviderInfo{Name: c.name, Model: c.model, Key: c.keyAlias}
}

func (c *chatClient) generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	if c.apiKey == "" {
		return GenerateResponse{}, c.info(), fmt.Errorf("%s key missing for alias %q", c.name, c.keyAlias)
	}
	system := req.System
	if system == "" {
		system = defaultSystemPrompt
	}
	payload := map[string]any{
		"model":       c.model,
		"temperature": 0,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": withContext(req.Prompt, req.Context)},
		},
	}
	if req.JSON {
		payload["response_format"] = map[string]string{"type": "json_object"}
	}
	if req.SubmissionID != "" {
		payload["user"] = req.SubmissionID
	}
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := postJSON(ctx, c.http, c.name, c.endpoint, c.apiKey, payload, &parsed); err != nil {
		return GenerateResponse{}, c.info(), err
	}
	if len(parsed.Choices) == 0 {
		return GenerateResponse{}, c.info(), fmt.Errorf("%s returned empty choices", c.name)
	}
	return GenerateResponse{Text: parsed.Choices[0].Message.Content}, c.info(), nil
}

func withContext(prompt string, ctx []string) string {
	if len(ctx) == 0 {
		return prompt
	}
	return prompt + "\n\nContext:\n" + strings.Join(ctx, "\n\n")
}

// resolveKey prefers CONTRIB_<VENDOR>_KEY_<ALIAS> and falls back to the
// vendor's own <VENDOR>_API_KEY.
func resolveKey(vendor, alias string) string {
	if alias != "" {
		if v := os.Getenv("CONTRIB_" + vendor + "_KEY_" + sanitizeEnvToken(alias)); v != "" {
			return v
		}
	}
	return os.Getenv(vendor + "_API_KEY")
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func sanitizeEnvToken(s string) string {
	return strings.NewReplacer("-", "_", ".", "_", "/", "_", ":", "_").Replace(strings.ToUpper(s))
}

func clip(s string, maxRunes int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	return string([]rune(s)[:maxRunes]) + "..."
}
