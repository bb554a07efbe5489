package images

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/items/item-1/images", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"images": []Image{
				{URL: "https://cdn.example.com/a.jpg", Position: 0},
				{URL: "https://cdn.example.com/b.jpg", Position: 1},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	imgs, err := c.FetchImages(context.Background(), "item-1")
	require.NoError(t, err)
	require.Len(t, imgs, 2)
	assert.Equal(t, "https://cdn.example.com/a.jpg", imgs[0].URL)
	assert.Equal(t, 1, imgs[1].Position)
}

func TestFetchImages_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"images": []Image{}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	imgs, err := c.FetchImages(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Empty(t, imgs)
}

func TestFetchImages_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.FetchImages(context.Background(), "item-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
