// Package dispatch enqueues run-advance requests to the external worker.
// The contract ends at a successful enqueue: no response payload is
// consumed, and run progress is observed only by polling the run record.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Notifier asks the external worker to begin (or continue) processing a run.
type Notifier interface {
	Advance(ctx context.Context, runID string) error
}

// Option configures the dispatch client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	webhookURL string
	http       *http.Client
}

// NewClient creates a worker dispatch client posting to the given webhook.
func NewClient(webhookURL string, opts ...Option) Notifier {
	c := &httpClient{
		webhookURL: webhookURL,
		http:       &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Advance(ctx context.Context, runID string) error {
	payload, err := json.Marshal(map[string]string{"run_id": runID})
	if err != nil {
		return eris.Wrap(err, "dispatch: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "dispatch: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "dispatch: request failed")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return eris.Errorf("dispatch: unexpected status %d", resp.StatusCode)
	}
	return nil
}
