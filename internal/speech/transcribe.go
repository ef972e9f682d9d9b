package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type transcribeRequest struct {
	AudioURL string `json:"audio_url"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// Transcribe converts a call recording to text. The provider downloads
// the audio itself from the given URL.
func (c *Client) Transcribe(ctx context.Context, audioURL string) (string, error) {
	body, err := json.Marshal(transcribeRequest{AudioURL: audioURL})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/speech-to-text", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating transcription request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription: unexpected status %d", resp.StatusCode)
	}

	var tr transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decoding transcription response: %w", err)
	}
	return tr.Text, nil
}
