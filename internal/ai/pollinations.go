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

// PollinationsProvider calls the free text.pollinations.ai endpoint. Used as
// the secondary remote stage; no auth, so quota and garbage detection matter
// more here.
type PollinationsProvider struct {
	baseURL string
	client  *http.Client
}

// NewPollinationsProvider creates the secondary provider.
func NewPollinationsProvider(timeout time.Duration) *PollinationsProvider {
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	return &PollinationsProvider{
		baseURL: "https://text.pollinations.ai/openai",
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *PollinationsProvider) Name() string { return "pollinations" }

func (p *PollinationsProvider) Generate(ctx context.Context, req Request, params Params) (*Result, error) {
	payload := map[string]any{
		"model":       "openai",
		"messages":    buildMessages(req),
		"temperature": params.Temperature,
		"private":     true,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, providerErr(p.Name(), "malformed", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(data))
	if err != nil {
		return nil, providerErr(p.Name(), "network", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providerErr(p.Name(), "network", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, providerErr(p.Name(), "network", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, providerErr(p.Name(), kindForStatus(resp.StatusCode),
			fmt.Errorf("status=%d body=%s", resp.StatusCode, truncate(body)))
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return nil, providerErr(p.Name(), "malformed", fmt.Errorf("returned html"))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage *Usage `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, providerErr(p.Name(), "malformed", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, providerErr(p.Name(), "malformed", fmt.Errorf("empty choices"))
	}

	reply := cleanReply(parsed.Choices[0].Message.Content)
	if isGarbageResponse(reply) {
		return nil, providerErr(p.Name(), "malformed", fmt.Errorf("garbage response"))
	}
	return &Result{Text: reply, Usage: parsed.Usage}, nil
}
