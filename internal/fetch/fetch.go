// Package fetch defines the HTTP fetch capability shared by robots, sitemap and discovery components.
package fetch

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"
)

// ErrNoFetcher is returned when a component was built without a fetch capability.
var ErrNoFetcher = errors.New("fetcher is not configured")

// Request describes a single GET or HEAD.
type Request struct {
	URL     string
	Method  string
	Headers http.Header
}

// Response is the buffered result of a fetch. Non-2xx statuses are returned as responses, not errors.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration

	// Fallback is set when the transport synthesized the body instead of the origin.
	Fallback string
}

// ContentType returns the media type of the response without parameters.
func (r Response) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	raw := r.Headers.Get("Content-Type")
	if raw == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(raw, ";")[0]))
	}
	return mediaType
}

// OK reports whether the status code is 2xx.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Fetcher retrieves remote documents.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// Func adapts a plain function to Fetcher.
type Func func(ctx context.Context, req Request) (Response, error)

// Fetch implements Fetcher.
func (f Func) Fetch(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Get is a convenience wrapper issuing a GET.
func Get(ctx context.Context, f Fetcher, url string) (Response, error) {
	if f == nil {
		return Response{}, ErrNoFetcher
	}
	return f.Fetch(ctx, Request{URL: url, Method: http.MethodGet})
}

// Head is a convenience wrapper issuing a HEAD.
func Head(ctx context.Context, f Fetcher, url string) (Response, error) {
	if f == nil {
		return Response{}, ErrNoFetcher
	}
	return f.Fetch(ctx, Request{URL: url, Method: http.MethodHead})
}
