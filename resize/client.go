// Package resize talks to an external image resizing service over HTTP.
//
// The service receives a JSON job naming a source URL and answers with the
// rendition. A confirmation header on the response tells a real resize apart
// from a passthrough of the original bytes.
package resize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sagarc03/stowdrive"
)

// DefaultMarkerHeader is the response header a resizer sets when it
// actually transformed the image.
const DefaultMarkerHeader = "X-Resized"

// maxResponseSize caps rendition bodies held in memory.
const maxResponseSize = 32 << 20

type Config struct {
	// URL is the resizer endpoint jobs are POSTed to
	URL string
	// Token is passed through in the job body for the resizer to check
	Token string
	// MarkerHeader overrides DefaultMarkerHeader
	MarkerHeader string
	HTTPClient   *http.Client
}

type Client struct {
	url          string
	token        string
	markerHeader string
	httpClient   *http.Client
}

type job struct {
	URL     string                  `json:"url"`
	Token   string                  `json:"token,omitempty"`
	Options stowdrive.ResizeOptions `json:"options"`
}

func New(cfg Config) (*Client, error) {
	if !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
		return nil, fmt.Errorf("new resize client: %w: url must be http or https: %q", stowdrive.ErrInvalidInput, cfg.URL)
	}

	marker := cfg.MarkerHeader
	if marker == "" {
		marker = DefaultMarkerHeader
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Minute}
	}

	return &Client{
		url:          cfg.URL,
		token:        cfg.Token,
		markerHeader: marker,
		httpClient:   httpClient,
	}, nil
}

// Resize implements stowdrive.Resizer.
//
// Error types returned:
//   - ErrUpstream: the resizer was unreachable or answered with a non-2xx status
func (c *Client) Resize(ctx context.Context, sourceURL string, opts stowdrive.ResizeOptions) (stowdrive.ResizeResult, error) {
	body, err := json.Marshal(job{URL: sourceURL, Token: c.token, Options: opts})
	if err != nil {
		return stowdrive.ResizeResult{}, fmt.Errorf("resize: encode job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return stowdrive.ResizeResult{}, fmt.Errorf("resize: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return stowdrive.ResizeResult{}, fmt.Errorf("resize: %w: %w", stowdrive.ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return stowdrive.ResizeResult{}, fmt.Errorf("resize: %w: status %d: %s", stowdrive.ErrUpstream, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return stowdrive.ResizeResult{}, fmt.Errorf("resize: read body: %w: %w", stowdrive.ErrUpstream, err)
	}
	if len(data) > maxResponseSize {
		return stowdrive.ResizeResult{}, fmt.Errorf("resize: %w: rendition larger than %d bytes", stowdrive.ErrUpstream, maxResponseSize)
	}

	return stowdrive.ResizeResult{
		Body:        data,
		ContentType: resp.Header.Get("Content-Type"),
		Resized:     resp.Header.Get(c.markerHeader) != "",
	}, nil
}
