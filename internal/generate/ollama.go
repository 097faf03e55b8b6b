package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// OllamaClient generates JSON replies with a local Ollama server.
type OllamaClient struct {
	client *api.Client
	model  string
}

// NewOllamaClient connects to host, or to OLLAMA_HOST when host is empty.
func NewOllamaClient(host, model string, httpClient *http.Client) (*OllamaClient, error) {
	var client *api.Client
	if strings.TrimSpace(host) == "" {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama client: %w", err)
		}
		client = c
	} else {
		u, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("parse ollama host: %w", err)
		}
		if httpClient == nil {
			httpClient = http.DefaultClient
		}
		client = api.NewClient(u, httpClient)
	}
	return &OllamaClient{client: client, model: model}, nil
}

func (c *OllamaClient) Model() string { return c.model }

func (c *OllamaClient) Generate(ctx context.Context, req Request) (string, error) {
	stream := false
	chatReq := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Stream: &stream,
		Format: json.RawMessage(`"json"`),
	}
	if req.MaxTokens > 0 {
		chatReq.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	var out strings.Builder
	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) && retryableStatus(statusErr.StatusCode) {
			return "", &RetryableError{StatusCode: statusErr.StatusCode, Message: statusErr.ErrorMessage}
		}
		return "", fmt.Errorf("ollama chat: %w", err)
	}

	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", fmt.Errorf("empty response from ollama")
	}
	return text, nil
}
