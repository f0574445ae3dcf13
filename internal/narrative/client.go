// Package narrative wraps the external text-generation service. The service
// streams newline-delimited JSON fragments, each carrying an incremental
// token; this package decodes them and re-emits them to the caller as they
// arrive.
package narrative

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to an Ollama-style /api/generate endpoint. Its timeout is
// deliberately generous: generation runs inside the background worker, not
// inside a user-facing request, and long chats take minutes to narrate.
type Client struct {
	client  *http.Client
	baseURL string
	model   string
}

// New creates a narrative client. timeout bounds one whole generation stream.
func New(baseURL, model string, timeout time.Duration) *Client {
	return &Client{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		model:   model,
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// Generate streams a completion for prompt. Every decoded token is passed to
// onFragment (which may be nil) in stream order as soon as it arrives; the
// concatenated narrative is returned once the stream ends. Connection
// failure or a non-success status is fatal.
func (c *Client) Generate(ctx context.Context, prompt string, onFragment func(text string)) (string, error) {
	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt, Stream: true})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("narrative service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("narrative service returned status %d: %s", resp.StatusCode, detail)
	}

	var out bytes.Buffer
	var decoder Decoder
	emit := func(fragments []Fragment) {
		for _, f := range fragments {
			if f.Text == "" {
				continue
			}
			out.WriteString(f.Text)
			if onFragment != nil {
				onFragment(f.Text)
			}
		}
	}

	chunk := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			emit(decoder.Feed(chunk[:n]))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("narrative stream interrupted: %w", err)
		}
	}
	emit(decoder.Flush())

	if out.Len() == 0 {
		return "", fmt.Errorf("narrative service produced no output")
	}
	return out.String(), nil
}
