package generate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicClient_Generate(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"content":[{"type":"text","text":"\"qa\":[]}"}]}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("key", "claude-test", srv.URL, 5*time.Second)
	out, err := c.Generate(context.Background(), Request{System: "sys", User: "usr"})
	require.NoError(t, err)
	assert.Equal(t, `{"qa":[]}`, out)

	assert.Equal(t, "claude-test", got.Model)
	assert.Equal(t, "sys", got.System)
	assert.Equal(t, 4096, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "assistant", got.Messages[1].Role)
	assert.Equal(t, "{", got.Messages[1].Content)
}

func TestAnthropicClient_Overloaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		w.Write([]byte(`{"error":{"type":"overloaded_error","message":"busy"}}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("key", "m", srv.URL, time.Second)
	_, err := c.Generate(context.Background(), Request{User: "x"})
	var re *RetryableError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 529, re.StatusCode)
}

func TestAnthropicClient_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"nope"}}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("key", "m", srv.URL, time.Second)
	_, err := c.Generate(context.Background(), Request{User: "x"})
	assert.ErrorContains(t, err, "invalid_request_error")
}

func TestNew_Providers(t *testing.T) {
	ctx := context.Background()

	g, err := New(ctx, Options{Provider: "openai", APIKey: "k", Model: "gpt"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, g)
	assert.Equal(t, "gpt", g.Model())

	g, err = New(ctx, Options{Provider: "Anthropic", APIKey: "k", Model: "claude"})
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, g)

	g, err = New(ctx, Options{Provider: "ollama", Model: "llama3", BaseURL: "http://localhost:11434"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaClient{}, g)

	_, err = New(ctx, Options{Provider: "bogus", Model: "m"})
	assert.ErrorContains(t, err, "unsupported")

	_, err = New(ctx, Options{Provider: "openai"})
	assert.ErrorContains(t, err, "model is required")
}
