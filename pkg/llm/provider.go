package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redloop-ai/redloop/pkg/config"
)

// Client is a single provider back-end. The gateway holds one per
// configured provider.
type Client interface {
	// Complete performs one underlying provider call. No retries, no
	// breaker logic; that is the gateway's job.
	Complete(ctx context.Context, model string, messages []Message, opts Options) (*CompletionResult, error)
	Name() string
}

// HTTPClient speaks the OpenAI-compatible chat-completions protocol, which
// covers OpenAI, Azure OpenAI and Ollama endpoints alike.
type HTTPClient struct {
	cfg    *config.ProviderConfig
	client *http.Client
}

// NewHTTPClient creates a client for one provider.
func NewHTTPClient(cfg *config.ProviderConfig) *HTTPClient {
	return &HTTPClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: 0, // per-call deadline comes from the request context
		},
	}
}

// Name returns the provider id.
func (c *HTTPClient) Name() string { return c.cfg.Name }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
	Seed        *int      `json:"seed,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Complete posts to <api_base>/chat/completions and normalizes the reply.
func (c *HTTPClient) Complete(ctx context.Context, model string, messages []Message, opts Options) (*CompletionResult, error) {
	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stop:        opts.Stop,
		Seed:        opts.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	url := strings.TrimRight(c.cfg.APIBase, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ProviderError{
			Kind:     KindTransient,
			Provider: c.cfg.Name,
			Message:  err.Error(),
			Err:      err,
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &ProviderError{
			Kind:     KindTransient,
			Provider: c.cfg.Name,
			Message:  "failed to read response body",
			Err:      err,
		}
	}

	var parsed chatResponse
	if resp.StatusCode != http.StatusOK {
		kind := classifyStatus(resp.StatusCode)
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &parsed) == nil && parsed.Error != nil {
			msg = parsed.Error.Message
			if strings.Contains(parsed.Error.Code, "context_length") {
				kind = KindContextLength
			}
		}
		return nil, &ProviderError{
			Kind:       kind,
			Provider:   c.cfg.Name,
			StatusCode: resp.StatusCode,
			Message:    msg,
		}
	}

	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, &ProviderError{
			Kind:     KindTransient,
			Provider: c.cfg.Name,
			Message:  "malformed completion response",
			Err:      err,
		}
	}
	if len(parsed.Choices) == 0 {
		return nil, &ProviderError{
			Kind:     KindTransient,
			Provider: c.cfg.Name,
			Message:  "completion response has no choices",
		}
	}

	return &CompletionResult{
		Content:      parsed.Choices[0].Message.Content,
		Model:        parsed.Model,
		Provider:     c.cfg.Name,
		Usage:        parsed.Usage,
		LatencyMS:    time.Since(start).Milliseconds(),
		FinishReason: parsed.Choices[0].FinishReason,
	}, nil
}
