// Package pricing wraps the external pricing-policy service that suggests
// a listing price from merged item attributes.
package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Inputs are the already-merged attributes the policy prices from, so a
// suggestion reflects the same generation pass that produced them.
type Inputs struct {
	Brand     string   `json:"brand"`
	Material  string   `json:"material"`
	Condition string   `json:"condition"`
	Tags      []string `json:"tags"`
	Title     string   `json:"title"`
	Style     string   `json:"style"`
}

// Policy defines the pricing operation used by the merge engine.
type Policy interface {
	SuggestPrice(ctx context.Context, garmentType string, in Inputs) (float64, error)
}

// Option configures the pricing client.
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

// NewClient creates a pricing-policy client against the given base URL.
func NewClient(baseURL string, opts ...Option) Policy {
	c := &httpClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) SuggestPrice(ctx context.Context, garmentType string, in Inputs) (float64, error) {
	payload, err := json.Marshal(struct {
		GarmentType string `json:"garment_type"`
		Inputs
	}{GarmentType: garmentType, Inputs: in})
	if err != nil {
		return 0, eris.Wrap(err, "pricing: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/suggest", bytes.NewReader(payload))
	if err != nil {
		return 0, eris.Wrap(err, "pricing: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, eris.Wrap(err, "pricing: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, eris.Wrap(err, "pricing: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return 0, eris.Errorf("pricing: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Price float64 `json:"price"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, eris.Wrap(err, "pricing: unmarshal response")
	}
	return out.Price, nil
}
