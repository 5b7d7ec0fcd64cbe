package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"finrep/internal/config"
	"finrep/internal/domain"
	"finrep/internal/llm"
	"finrep/internal/port"
)

const (
	apiURL       = "https://api.openai.com/v1/chat/completions"
	defaultModel = "gpt-4o"
)

// Client implements port.ModelClient using the OpenAI Chat Completions API. It also
// serves OpenAI-compatible local inference servers reached through BaseURL.
type Client struct {
	apiKey    string
	model     string
	endpoint  string
	provider  string
	transport domain.Transport
	client    *http.Client
}

// Factory adapts NewClient to llm.ProviderFactory.
func Factory(cfg *config.BackendConfig) (port.ModelClient, error) {
	if cfg.Local && cfg.BaseURL == "" {
		return nil, fmt.Errorf("local backend %s requires a base_url", cfg.Provider)
	}
	return NewClient(cfg), nil
}

// NewClient creates a client from a backend config.
func NewClient(cfg *config.BackendConfig) *Client {
	endpoint := apiURL
	if cfg.BaseURL != "" {
		endpoint = strings.TrimRight(cfg.BaseURL, "/")
		if !strings.HasSuffix(endpoint, "/chat/completions") {
			endpoint += "/chat/completions"
		}
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
	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}
	transport := domain.TransportHTTP
	if cfg.Local {
		transport = domain.TransportLocal
	}
	return &Client{
		apiKey:    cfg.APIKey,
		model:     model,
		endpoint:  endpoint,
		provider:  provider,
		transport: transport,
		client:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Complete(ctx context.Context, in port.ModelRequest) (*port.ModelResponse, error) {
	maxTokens := in.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	messages := make([]map[string]interface{}, 0, 2)
	if in.System != "" {
		messages = append(messages, map[string]interface{}{"role": "system", "content": in.System})
	}
	messages = append(messages, map[string]interface{}{
		"role":    "user",
		"content": buildContentBlocks(in),
	})

	reqBody := map[string]interface{}{
		"model":                 c.model,
		"max_completion_tokens": maxTokens,
		"messages":              messages,
	}
	if in.JSONMode {
		reqBody["response_format"] = map[string]interface{}{"type": "json_object"}
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
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s API: %w", c.provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		baseErr := &llm.StatusError{Provider: c.provider, Status: resp.StatusCode, Body: string(respBody)}
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := llm.ParseRetryAfterHeader(resp.Header.Get("Retry-After"))
			return nil, llm.NewRateLimitError(c.provider, baseErr, retryAfter)
		}
		return nil, baseErr
	}

	text, err := parseResponse(respBody)
	if err != nil {
		return nil, err
	}
	return &port.ModelResponse{
		Text:       text,
		Provider:   c.provider,
		Model:      c.model,
		Transport:  c.transport,
		HTTPStatus: resp.StatusCode,
	}, nil
}

func buildContentBlocks(in port.ModelRequest) []map[string]interface{} {
	blocks := make([]map[string]interface{}, 0, len(in.Images)+1)
	for _, img := range in.Images {
		blocks = append(blocks, map[string]interface{}{
			"type": "image_url",
			"image_url": map[string]interface{}{
				"url": "data:image/png;base64," + base64.StdEncoding.EncodeToString(img),
			},
		})
	}
	blocks = append(blocks, map[string]interface{}{
		"type": "text",
		"text": in.Prompt,
	})
	return blocks
}

// apiResponse models the OpenAI Chat Completions API response.
type apiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func parseResponse(body []byte) (string, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshaling response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from API: no choices")
	}
	if resp.Choices[0].FinishReason == "length" {
		return "", fmt.Errorf("output truncated (finish_reason: length): response exceeded output token limit")
	}
	return resp.Choices[0].Message.Content, nil
}
