// Package images provides read-only access to the image store that holds
// each item's ordered photos. Upload mechanics live elsewhere.
package images

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Image is one photo attached to a work item.
type Image struct {
	URL      string `json:"url"`
	Position int    `json:"position"`
}

// Store defines read access to an item's photos.
type Store interface {
	FetchImages(ctx context.Context, itemID string) ([]Image, error)
}

// Option configures the image store client.
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

// NewClient creates an image store client against the given base URL.
func NewClient(baseURL string, opts ...Option) Store {
	c := &httpClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) FetchImages(ctx context.Context, itemID string) ([]Image, error) {
	reqURL := fmt.Sprintf("%s/items/%s/images", c.baseURL, itemID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "images: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "images: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "images: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("images: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Images []Image `json:"images"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "images: unmarshal response")
	}
	return out.Images, nil
}
