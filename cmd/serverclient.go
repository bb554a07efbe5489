package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

var serverAddr string

// callServer forwards a request to the running serve process. Retry and
// undo act on the failure tracker and snapshots held by that process, so
// the CLI cannot perform them against a fresh environment.
func callServer(ctx context.Context, method, path string) ([]byte, error) {
	base := serverAddr
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, nil)
	if err != nil {
		return nil, eris.Wrap(err, "cmd: build server request")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "cmd: reach serve process at %s (is it running?)", base)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "cmd: read server response")
	}
	if resp.StatusCode >= 300 {
		return nil, eris.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
