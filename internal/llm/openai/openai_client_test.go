package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finrep/internal/config"
	"finrep/internal/domain"
	"finrep/internal/llm"
	"finrep/internal/llm/openai"
	"finrep/internal/port"
)

func TestClient_Complete_JSONMode(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"ok\":true}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := openai.NewClientWithEndpoint(&config.BackendConfig{Provider: "openai", APIKey: "sk-test"}, srv.URL)
	resp, err := c.Complete(context.Background(), port.ModelRequest{
		Prompt:   "extract",
		System:   "strict",
		Images:   [][]byte{[]byte("png")},
		JSONMode: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Text)
	assert.Equal(t, "openai", resp.Provider)

	assert.Equal(t, "json_object", captured["response_format"].(map[string]interface{})["type"])
	msgs := captured["messages"].([]interface{})
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]interface{})["role"])
	content := msgs[1].(map[string]interface{})["content"].([]interface{})
	url := content[0].(map[string]interface{})["image_url"].(map[string]interface{})["url"].(string)
	assert.Contains(t, url, "data:image/png;base64,")
}

func TestClient_LocalServer(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	client, err := openai.Factory(&config.BackendConfig{Provider: "local", BaseURL: srv.URL + "/v1/", Local: true, Model: "qwen2.5-vl"})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), port.ModelRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "/v1/chat/completions", path)
	assert.Equal(t, domain.TransportLocal, resp.Transport)
	assert.Equal(t, "local", resp.Provider)
}

func TestFactory_LocalRequiresBaseURL(t *testing.T) {
	_, err := openai.Factory(&config.BackendConfig{Provider: "local", Local: true})
	assert.Error(t, err)
}

func TestClient_TruncatedOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{"},"finish_reason":"length"}]}`))
	}))
	defer srv.Close()

	c := openai.NewClientWithEndpoint(&config.BackendConfig{APIKey: "k"}, srv.URL)
	_, err := c.Complete(context.Background(), port.ModelRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, 0, llm.HTTPStatus(err))
}
