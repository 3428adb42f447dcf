// Package llm provides the chat-completions client used to drive the
// model.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ankleBowl/LucyServer/internal/config"
	"github.com/ankleBowl/LucyServer/internal/message"
)

// DefaultBaseURL is the OpenAI-compatible endpoint used when the
// config does not name one.
const DefaultBaseURL = "https://api.groq.com/openai/v1"

// DefaultModel is the model used when the config does not name one.
const DefaultModel = "moonshotai/kimi-k2-instruct"

// Chatter is the interface the orchestrator and capability modules use
// to request a completion.
type Chatter interface {
	// Chat sends the messages and returns the raw assistant text.
	Chat(ctx context.Context, msgs []message.Wire) (string, error)
}

// Client talks to an OpenAI-compatible chat completions API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a chat client. Empty baseURL and model fall back to
// the Groq defaults.
func NewClient(baseURL, apiKey, model string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
		logger: logger,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// chatRequest is the chat completions request body.
type chatRequest struct {
	Model    string         `json:"model"`
	Messages []message.Wire `json:"messages"`
}

// chatResponse is the subset of the completions response we read.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Chat sends a chat completion request and returns the assistant text.
func (c *Client) Chat(ctx context.Context, msgs []message.Wire) (string, error) {
	body, err := json.Marshal(chatRequest{Model: c.model, Messages: msgs})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, config.LevelTrace, "chat request", "model", c.model, "payload", string(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, string(b))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}

	content := cr.Choices[0].Message.Content
	c.logger.Log(ctx, config.LevelTrace, "chat response", "payload", content)
	return content, nil
}
