// Package notify delivers the post-call intake email to a firm's
// recipients through a transactional email provider.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Client talks to the transactional email provider.
type Client struct {
	apiKey     string
	baseURL    string
	from       string
	httpClient *http.Client
}

// New creates a Client sending from the given address.
func New(apiKey, from string) *Client {
	return NewWithBaseURL(apiKey, from, "https://api.resend.com")
}

// NewWithBaseURL creates a Client against a custom API base URL (tests).
func NewWithBaseURL(apiKey, from, baseURL string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		from:    from,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Send delivers the message to every recipient, one provider call each so
// a single bad address does not sink the rest. Returns the first error
// encountered; the remaining sends still run.
func (c *Client) Send(ctx context.Context, recipients []string, subject, html string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients")
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, to := range recipients {
		g.Go(func() error {
			return c.sendOne(ctx, to, subject, html)
		})
	}
	return g.Wait()
}

func (c *Client) sendOne(ctx context.Context, to, subject, html string) error {
	body, err := json.Marshal(sendRequest{
		From:    c.from,
		To:      []string{to},
		Subject: subject,
		HTML:    html,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending to %s: %w", to, err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send to %s: unexpected status %d", to, resp.StatusCode)
	}
	return nil
}
