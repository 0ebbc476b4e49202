package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider talks to any OpenAI-compatible chat completion endpoint.
// Used as the primary remote stage.
type OpenAIProvider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAIProvider creates a provider for an OpenAI-compatible endpoint.
// baseURL is the API root without the /chat/completions suffix.
func NewOpenAIProvider(name, baseURL, apiKey, model string, timeout time.Duration) *OpenAIProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIProvider{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

// Generate performs one chat completion call. The context bounds latency;
// expiry is reported as a network-kind provider error so the pipeline falls
// through.
func (p *OpenAIProvider) Generate(ctx context.Context, req Request, params Params) (*Result, error) {
	payload := map[string]any{
		"model":       p.model,
		"messages":    buildMessages(req),
		"temperature": params.Temperature,
	}
	if params.MaxTokens > 0 {
		payload["max_tokens"] = params.MaxTokens
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, providerErr(p.name, "malformed", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, providerErr(p.name, "network", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providerErr(p.name, "network", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, providerErr(p.name, kindForStatus(resp.StatusCode),
			fmt.Errorf("status=%d body=%s", resp.StatusCode, truncate(respBody)))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage *Usage `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, providerErr(p.name, "malformed", fmt.Errorf("unmarshal: %w body=%s", err, truncate(respBody)))
	}
	if len(parsed.Choices) == 0 {
		return nil, providerErr(p.name, "malformed", fmt.Errorf("empty choices"))
	}

	reply := cleanReply(parsed.Choices[0].Message.Content)
	if isGarbageResponse(reply) {
		return nil, providerErr(p.name, "malformed", fmt.Errorf("garbage response"))
	}
	return &Result{Text: reply, Usage: parsed.Usage}, nil
}
