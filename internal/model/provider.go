// Package model owns the single model invocation a request may make:
// building the provider request from the output plan, calling the
// provider under deadlines, verifying the returned text, and falling
// back to deterministic templates when verification fails.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sahajpatel123/cognitivesystem-sub001/internal/config"
)

// Usage is the provider's token accounting for one call.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// OutputFormat is the wire shape requested from the provider.
type OutputFormat string

const (
	FormatText OutputFormat = "TEXT"
	FormatJSON OutputFormat = "JSON"
)

// Request is the provider-agnostic invocation payload.
type Request struct {
	Model           string
	System          string
	Prompt          string
	OutputFormat    OutputFormat
	MaxOutputTokens int
}

// Provider is the upstream model API. Implementations must honor the
// context deadline.
type Provider interface {
	Name() string
	Call(ctx context.Context, req Request) (text string, usage Usage, err error)
}

// HTTPProvider posts a small JSON contract to a configured base URL.
type HTTPProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider builds the provider client with connect and total
// timeouts from settings.
func NewHTTPProvider(cfg config.ModelSettings) *HTTPProvider {
	dialer := &net.Dialer{Timeout: time.Duration(cfg.ConnectTimeoutSecs) * time.Second}
	return &HTTPProvider{
		name:    cfg.Provider,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				MaxIdleConns:        10,
				IdleConnTimeout:     60 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
	}
}

// Name returns the configured provider name.
func (p *HTTPProvider) Name() string { return p.name }

type wireRequest struct {
	Model        string `json:"model"`
	System       string `json:"system,omitempty"`
	Prompt       string `json:"prompt"`
	OutputFormat string `json:"output_format"`
	MaxTokens    int    `json:"max_tokens"`
}

type wireResponse struct {
	Text  string `json:"text"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

// Call posts the request and decodes the reply. The context deadline
// bounds the whole round trip.
func (p *HTTPProvider) Call(ctx context.Context, req Request) (string, Usage, error) {
	body, err := json.Marshal(wireRequest{
		Model:        req.Model,
		System:       req.System,
		Prompt:       req.Prompt,
		OutputFormat: string(req.OutputFormat),
		MaxTokens:    req.MaxOutputTokens,
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("encode provider request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("build provider request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", Usage{}, fmt.Errorf("provider call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var wr wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return "", Usage{}, fmt.Errorf("decode provider response: %w", err)
	}
	u := Usage{
		PromptTokens:     wr.Usage.PromptTokens,
		CompletionTokens: wr.Usage.CompletionTokens,
		TotalTokens:      wr.Usage.TotalTokens,
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return wr.Text, u, nil
}

// StaticProvider returns a fixed reply; used when MODEL_CALLS_ENABLED
// is off and in tests.
type StaticProvider struct {
	Reply string
	Err   error
}

// Name identifies the stub.
func (s *StaticProvider) Name() string { return "static" }

// Call returns the canned reply or error.
func (s *StaticProvider) Call(ctx context.Context, req Request) (string, Usage, error) {
	if s.Err != nil {
		return "", Usage{}, s.Err
	}
	if err := ctx.Err(); err != nil {
		return "", Usage{}, err
	}
	est := int64(len(s.Reply) / 4)
	return s.Reply, Usage{PromptTokens: int64(len(req.Prompt) / 4), CompletionTokens: est, TotalTokens: int64(len(req.Prompt)/4) + est}, nil
}
