// Package speech pre-generates text-to-speech audio so the provider's
// next fetch hits a warm cache instead of paying synthesis latency while
// the caller waits. Generation is fire-and-forget: the webhook response
// never blocks on it, and a cache miss falls back to the provider's
// built-in synthesizer.
package speech

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Client talks to the speech-synthesis provider.
type Client struct {
	apiKey     string
	baseURL    string
	voice      string
	httpClient *http.Client
	logger     *slog.Logger

	mu     sync.Mutex
	warmed map[string]struct{}
}

// New creates a Client for the given API key and voice id.
func New(apiKey, voice string) *Client {
	return NewWithBaseURL(apiKey, voice, "https://api.elevenlabs.io")
}

// NewWithBaseURL creates a Client against a custom API base URL (tests).
func NewWithBaseURL(apiKey, voice, baseURL string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		voice:   voice,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: slog.Default(),
		warmed: make(map[string]struct{}),
	}
}

// CacheKey derives the cache key for one utterance: call id, turn number,
// and a digest of the text.
func CacheKey(callID string, turn int, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s:%d:%s", callID, turn, hex.EncodeToString(sum[:8]))
}

type synthesizeRequest struct {
	Text     string `json:"text"`
	CacheKey string `json:"cache_key"`
	Voice    string `json:"voice,omitempty"`
}

// Warm requests synthesis of the utterance without waiting for the result.
// Safe to call from the webhook path: it spawns a goroutine and returns
// immediately. Duplicate keys are skipped.
func (c *Client) Warm(callID string, turn int, text string) {
	if c.apiKey == "" || text == "" {
		return
	}
	key := CacheKey(callID, turn, text)

	c.mu.Lock()
	if _, seen := c.warmed[key]; seen {
		c.mu.Unlock()
		return
	}
	c.warmed[key] = struct{}{}
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.synthesize(ctx, key, text); err != nil {
			// A warm miss only costs latency on the next fetch.
			c.logger.Debug("speech pre-generation failed", "key", key, "error", err)
		}
	}()
}

// Forget drops all warmed keys for a finished call so the set does not
// grow unbounded.
func (c *Client) Forget(callID string) {
	prefix := callID + ":"
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.warmed {
		if strings.HasPrefix(k, prefix) {
			delete(c.warmed, k)
		}
	}
}

func (c *Client) synthesize(ctx context.Context, key, text string) error {
	body, err := json.Marshal(synthesizeRequest{Text: text, CacheKey: key, Voice: c.voice})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/text-to-speech", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("synthesis request: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("synthesis: unexpected status %d", resp.StatusCode)
	}
	return nil
}
