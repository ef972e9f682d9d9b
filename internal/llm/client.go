// Package llm provides the chat-completion client used by the turn
// processor and the summarizer. It speaks the OpenAI-compatible
// /chat/completions API and supports structured JSON output via a
// response-format schema.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 20 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// Message is a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema describes the expected JSON output structure for structured
// chat responses.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single field within a Schema.
type SchemaProperty struct {
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	Enum        []string        `json:"enum,omitempty"`
	Items       *SchemaProperty `json:"items,omitempty"`
}

// Client communicates with an OpenAI-compatible completion API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New creates a Client with the given API key.
func New(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// NewWithBaseURL creates a client pointing at a custom base URL
// (alternate providers, tests).
func NewWithBaseURL(apiKey, baseURL string) *Client {
	c := New(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type chatRequest struct {
	Model          string    `json:"model"`
	Messages       []Message `json:"messages"`
	Temperature    float64   `json:"temperature"`
	ResponseFormat any       `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string         `json:"type"`
	JSONSchema rfmtJSONSchema `json:"json_schema"`
}

type rfmtJSONSchema struct {
	Name   string  `json:"name"`
	Strict bool    `json:"strict"`
	Schema *Schema `json:"schema"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Chat sends messages to the given model and returns the assistant's reply
// content. When jsonSchema is non-nil, the request asks for structured JSON
// output conforming to it. Rate-limit responses are retried with bounded
// exponential backoff; everything else fails fast, since there is a live
// phone caller waiting.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	cr := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: 0.2,
	}
	if jsonSchema != nil {
		cr.ResponseFormat = responseFormat{
			Type: "json_schema",
			JSONSchema: rfmtJSONSchema{
				Name:   "turn",
				Strict: true,
				Schema: jsonSchema,
			},
		}
	}

	body, err := json.Marshal(cr)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := range maxRetries {
		content, err := c.doChat(ctx, body)
		if err == nil {
			return content, nil
		}

		if !isRateLimit(err) {
			return "", err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return "", fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	_, ok := err.(*rateLimitError)
	return ok
}

func (c *Client) doChat(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &rateLimitError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat: unexpected status %d", resp.StatusCode)
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("chat: empty choices")
	}
	return result.Choices[0].Message.Content, nil
}
