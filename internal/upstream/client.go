// Package upstream talks to the hosted OpenAI-compatible completion API.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gaspardpetit/uigen/internal/config"
)

// Params are the fixed sampling parameters sent with every request.
type Params struct {
	Model               string
	Temperature         float64
	TopP                float64
	MaxCompletionTokens int
	ReasoningEffort     string
}

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /chat/completions.
type ChatRequest struct {
	Model               string    `json:"model"`
	Messages            []Message `json:"messages"`
	Stream              bool      `json:"stream"`
	MaxCompletionTokens int       `json:"max_completion_tokens,omitempty"`
	Temperature         float64   `json:"temperature"`
	TopP                float64   `json:"top_p"`
	ReasoningEffort     string    `json:"reasoning_effort,omitempty"`
}

// NewChatRequest builds the streamed request for prompt.
func NewChatRequest(p Params, prompt string) ChatRequest {
	return ChatRequest{
		Model: p.Model,
		Messages: []Message{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: UserMessage(prompt)},
		},
		Stream:              true,
		MaxCompletionTokens: p.MaxCompletionTokens,
		Temperature:         p.Temperature,
		TopP:                p.TopP,
		ReasoningEffort:     p.ReasoningEffort,
	}
}

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 4 << 10

// StatusError is returned when the provider answers with a non-2xx status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream API error: %d - %s", e.Status, e.Body)
}

// Client opens streamed chat completions.
type Client struct {
	BaseURL string
	APIKey  string
	Params  Params
	HTTP    *http.Client
}

// NewClient returns a Client configured from cfg.
func NewClient(cfg *config.ServerConfig) *Client {
	return &Client{
		BaseURL: cfg.UpstreamURL,
		APIKey:  cfg.UpstreamAPIKey,
		Params: Params{
			Model:               cfg.Model,
			Temperature:         cfg.Temperature,
			TopP:                cfg.TopP,
			MaxCompletionTokens: cfg.MaxCompletionTokens,
			ReasoningEffort:     cfg.ReasoningEffort,
		},
		HTTP: NewHTTPClient(),
	}
}

// NewHTTPClient returns an http.Client tuned for long-lived streaming
// responses. There is no overall Timeout: the caller's context bounds the
// request so a slow but healthy stream is not cut mid-body.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &http.Client{Transport: transport}
}

// Stream issues one streamed completion for prompt and returns the response
// body once the provider has answered with a 2xx status. The request is bound
// to ctx: cancelling ctx aborts the connection. The caller must close the body.
func (c *Client) Stream(ctx context.Context, prompt string) (io.ReadCloser, error) {
	body, err := json.Marshal(NewChatRequest(c.Params, prompt))
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp.Body, nil
}
