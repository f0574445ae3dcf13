// Package classify is the client for the external statistical classifier
// service. Each classifier is invoked with a synchronous request/response
// call; the service owns the models, this package only speaks its wire
// format.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vklg/chatlens/internal/models"
)

// Classifier identifies one analysis pass and the label shown to users while
// it runs.
type Classifier struct {
	ID          string
	DisplayName string
}

// Classifiers is the fixed, ordered set of passes the pipeline runs. Order
// matters: progress reporting steps through this slice.
var Classifiers = []Classifier{
	{ID: "sentiment", DisplayName: "Sentiment"},
	{ID: "toxicity", DisplayName: "Toxicity"},
	{ID: "engagement", DisplayName: "Engagement"},
	{ID: "responsiveness", DisplayName: "Responsiveness"},
	{ID: "balance", DisplayName: "Balance"},
}

// Client talks to the classifier service.
type Client struct {
	client  *http.Client
	baseURL string
}

// New creates a classifier client for the service at baseURL.
func New(baseURL string) *Client {
	return &Client{
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: baseURL,
	}
}

type classifyRequest struct {
	Classifier string           `json:"classifier"`
	Messages   []models.Message `json:"messages"`
}

type classifyResponse struct {
	Scores map[string]float64 `json:"scores"`
}

// Run invokes a single classifier over the full message sequence and returns
// its named scores.
func (c *Client) Run(ctx context.Context, classifierID string, messages []models.Message) (map[string]float64, error) {
	body, err := json.Marshal(classifyRequest{Classifier: classifierID, Messages: messages})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classifier service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("classifier %q returned status %d: %s", classifierID, resp.StatusCode, detail)
	}

	var parsed classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("invalid classifier response for %q: %w", classifierID, err)
	}
	if len(parsed.Scores) == 0 {
		return nil, fmt.Errorf("classifier %q returned no scores", classifierID)
	}
	return parsed.Scores, nil
}
