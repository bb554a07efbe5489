// Package skugen wraps the external SKU generator. The algorithm itself
// is out of scope; the merge engine only consumes its output.
package skugen

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Generator defines the identifier-generation operation.
type Generator interface {
	Generate(ctx context.Context, category, size, era, labelSize string) (string, error)
}

// Option configures the skugen client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a SKU generator client against the given base URL.
func NewClient(baseURL string, opts ...Option) Generator {
	c := &httpClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Generate(ctx context.Context, category, size, era, labelSize string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"category":   category,
		"size":       size,
		"era":        era,
		"label_size": labelSize,
	})
	if err != nil {
		return "", eris.Wrap(err, "skugen: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(payload))
	if err != nil {
		return "", eris.Wrap(err, "skugen: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "skugen: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "skugen: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("skugen: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		SKU   string `json:"sku"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", eris.Wrap(err, "skugen: unmarshal response")
	}
	if out.Error != "" {
		return "", eris.Errorf("skugen: %s", out.Error)
	}
	return out.SKU, nil
}
