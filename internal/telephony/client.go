// Package telephony covers the boundary to the call provider: the REST
// client used to fetch recordings and hang up calls, inbound webhook
// parsing with signature validation, and rendering of the XML voice
// response the provider speaks back to the caller.
package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Recording describes one call recording as reported by the provider.
type Recording struct {
	SID      string
	MediaURL string
	Duration int // seconds
}

// Client talks to the call provider's REST API.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a provider client authenticated with the account SID
// and auth token.
func NewClient(accountSID, authToken string) *Client {
	return NewClientWithBaseURL(accountSID, authToken, "https://api.twilio.com")
}

// NewClientWithBaseURL creates a Client against a custom API base URL (tests).
func NewClientWithBaseURL(accountSID, authToken, baseURL string) *Client {
	return &Client{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// recordingsResponse mirrors the provider's recording list JSON.
type recordingsResponse struct {
	Recordings []recordingEntry `json:"recordings"`
}

type recordingEntry struct {
	SID      string `json:"sid"`
	URI      string `json:"uri"`
	Duration string `json:"duration"`
}

// ErrNoRecording is returned when the provider has no recording for a call.
// A freshly-ended call often reports none for a short while, so callers
// retry on it.
var ErrNoRecording = fmt.Errorf("no recording available")

// GetRecording returns the newest recording for the given provider call id.
func (c *Client) GetRecording(ctx context.Context, providerCallID string) (Recording, error) {
	url := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s/Recordings.json",
		c.baseURL, c.accountSID, providerCallID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Recording{}, fmt.Errorf("creating recordings request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Recording{}, fmt.Errorf("listing recordings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Recording{}, ErrNoRecording
	}
	if resp.StatusCode != http.StatusOK {
		return Recording{}, fmt.Errorf("recordings: unexpected status %d", resp.StatusCode)
	}

	var list recordingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return Recording{}, fmt.Errorf("decoding recordings response: %w", err)
	}
	if len(list.Recordings) == 0 {
		return Recording{}, ErrNoRecording
	}

	entry := list.Recordings[0]
	rec := Recording{
		SID:      entry.SID,
		MediaURL: c.baseURL + strings.TrimSuffix(entry.URI, ".json") + ".mp3",
	}
	fmt.Sscanf(entry.Duration, "%d", &rec.Duration)
	return rec, nil
}

// HangUp asks the provider to complete (end) an in-progress call.
func (c *Client) HangUp(ctx context.Context, providerCallID string) error {
	url := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s.json",
		c.baseURL, c.accountSID, providerCallID)

	form := strings.NewReader("Status=completed")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, form)
	if err != nil {
		return fmt.Errorf("creating hangup request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hanging up call %s: %w", providerCallID, err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hangup %s: unexpected status %d", providerCallID, resp.StatusCode)
	}
	return nil
}
