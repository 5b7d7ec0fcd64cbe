package gemini

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
	apiBaseURL   = "https://generativelanguage.googleapis.com/v1beta/models"
	defaultModel = "gemini-2.0-flash"
	providerName = "gemini"
)

// Client implements port.ModelClient using the Gemini generateContent API.
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

// NewClient creates a Gemini client from a backend config.
func NewClient(cfg *config.BackendConfig) *Client {
	return NewClientWithEndpoint(cfg, cfg.BaseURL)
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
	if endpoint == "" {
		endpoint = fmt.Sprintf("%s/%s:generateContent", apiBaseURL, model)
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

	parts := make([]map[string]interface{}, 0, len(in.Images)+1)
	for _, img := range in.Images {
		parts = append(parts, map[string]interface{}{
			"inline_data": map[string]interface{}{
				"mime_type": "image/png",
				"data":      base64.StdEncoding.EncodeToString(img),
			},
		})
	}
	parts = append(parts, map[string]interface{}{"text": in.Prompt})

	generation := map[string]interface{}{"maxOutputTokens": maxTokens}
	if in.JSONMode {
		generation["responseMimeType"] = "application/json"
	}
	reqBody := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"role": "user", "parts": parts},
		},
		"generationConfig": generation,
	}
	if in.System != "" {
		reqBody["systemInstruction"] = map[string]interface{}{
			"parts": []map[string]interface{}{{"text": in.System}},
		}
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
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling gemini API: %w", err)
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

// geminiResponse models the Gemini API response.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

func parseResponse(body []byte) (string, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshaling response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("empty response from API: no candidates")
	}
	if resp.Candidates[0].FinishReason == "MAX_TOKENS" {
		return "", fmt.Errorf("output truncated (finishReason: MAX_TOKENS): response exceeded output token limit")
	}
	if len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from API: no parts")
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}
