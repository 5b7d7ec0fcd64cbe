package claude

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"finrep/internal/config"
	"finrep/internal/domain"
	"finrep/internal/llm"
	"finrep/internal/port"
)

const (
	apiURL       = "https://api.anthropic.com/v1/messages"
	apiVersion   = "2023-06-01"
	defaultModel = "claude-sonnet-4-20250514"
	providerName = "claude"
)

// Client implements port.ModelClient using the Anthropic Messages API.
type Client struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// Factory adapts NewClient to llm.ProviderFactory.
func Factory(cfg *config.BackendConfig) (port.ModelClient, error) {
	return NewClient(cfg), nil
}

// NewClient creates a Claude client from a backend config. BaseURL overrides the API endpoint.
func NewClient(cfg *config.BackendConfig) *Client {
	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = apiURL
	}
	return NewClientWithEndpoint(cfg, endpoint)
}

// NewClientWithEndpoint creates a client pointing at a custom API endpoint (for testing).
func NewClientWithEndpoint(cfg *config.BackendConfig, endpoint string) *Client {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		apiKey:   cfg.APIKey,
		model:    model,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *Client) Complete(ctx context.Context, in port.ModelRequest) (*port.ModelResponse, error) {
	maxTokens := in.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}
	reqBody := map[string]interface{}{
		"model":      c.model,
		"max_tokens": maxTokens,
		"messages": []map[string]interface{}{
			{
				"role":    "user",
				"content": buildContentBlocks(in),
			},
		},
	}
	if in.System != "" {
		reqBody["system"] = in.System
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling anthropic API: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		baseErr := &llm.StatusError{Provider: providerName, Status: resp.StatusCode, Body: string(respBody)}
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := llm.ParseRetryAfterHeader(resp.Header.Get("Retry-After"))
			return nil, llm.NewRateLimitError(providerName, baseErr, retryAfter)
		}
		return nil, baseErr
	}

	text, err := parseResponse(respBody)
	if err != nil {
		return nil, err
	}
	return &port.ModelResponse{
		Text:       text,
		Provider:   providerName,
		Model:      c.model,
		Transport:  domain.TransportHTTP,
		HTTPStatus: resp.StatusCode,
	}, nil
}

func buildContentBlocks(in port.ModelRequest) []map[string]interface{} {
	blocks := make([]map[string]interface{}, 0, len(in.Images)+1)
	for _, img := range in.Images {
		blocks = append(blocks, map[string]interface{}{
			"type": "image",
			"source": map[string]interface{}{
				"type":       "base64",
				"media_type": "image/png",
				"data":       base64.StdEncoding.EncodeToString(img),
			},
		})
	}
	blocks = append(blocks, map[string]interface{}{
		"type": "text",
		"text": in.Prompt,
	})
	return blocks
}

// apiResponse models the Anthropic Messages API response.
type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func parseResponse(body []byte) (string, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshaling response: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("empty response from API")
	}
	if resp.StopReason == "max_tokens" {
		return "", fmt.Errorf("output truncated (stop_reason: max_tokens): response exceeded output token limit")
	}
	return resp.Content[0].Text, nil
}
