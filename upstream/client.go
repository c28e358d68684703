package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type RequestBody struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// NewRequestBody creates a streaming completion request with the configured
// system prompt followed by message as the only user turn.
func NewRequestBody(config Config, message string) RequestBody {
	return RequestBody{
		Model: config.Model,
		Messages: []Message{
			{Role: "system", Content: config.SystemPrompt},
			{Role: "user", Content: message},
		},
		Stream:      true,
		Temperature: config.Temperature,
		MaxTokens:   config.MaxTokens,
	}
}

func New(config Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		config:     config,
		httpClient: httpClient,
	}
}

type Client struct {
	config     Config
	httpClient *http.Client
}

func (c *Client) Config() Config {
	return c.config
}

// Open sends message to the completions API and returns the response with
// the body unread. The caller must close the body. Cancelling ctx tears
// down the connection.
func (c *Client) Open(ctx context.Context, message string) (resp *http.Response, err error) {
	buf, err := json.Marshal(NewRequestBody(c.config, message))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.config.Referer != "" {
		req.Header.Set("HTTP-Referer", c.config.Referer)
	}
	if c.config.Title != "" {
		req.Header.Set("X-Title", c.config.Title)
	}
	return c.httpClient.Do(req)
}
