package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/JakeFAU/sitescout/internal/fetch"
	"github.com/JakeFAU/sitescout/internal/metrics"
)

const robotsFallbackTLSHandshake = "TLS handshake timeout"

const allowAllRobots = "User-agent: *\nAllow: /"

var manifestBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// manifestKind classifies the crawl manifests that get transient-error retries.
type manifestKind int

const (
	manifestNone manifestKind = iota
	manifestRobots
	manifestSitemap
)

func (k manifestKind) String() string {
	switch k {
	case manifestRobots:
		return "robots"
	case manifestSitemap:
		return "sitemap"
	default:
		return "page"
	}
}

func classifyManifest(req *http.Request) manifestKind {
	if req == nil || req.URL == nil {
		return manifestNone
	}
	p := strings.ToLower(req.URL.Path)
	if p == "/robots.txt" {
		return manifestRobots
	}
	base := path.Base(p)
	if strings.Contains(base, "sitemap") &&
		(strings.HasSuffix(base, ".xml") || strings.HasSuffix(base, ".xml.gz") || strings.HasSuffix(base, ".txt")) {
		return manifestSitemap
	}
	return manifestNone
}

// manifestTransport retries robots.txt and sitemap requests through transient
// network failures. When robots.txt stays unreachable it answers with an
// allow-all body and records why in Fallback. One instance serves one fetch.
type manifestTransport struct {
	base    http.RoundTripper
	backoff []time.Duration

	fallback string
}

func newManifestTransport(base http.RoundTripper) *manifestTransport {
	return &manifestTransport{base: base, backoff: manifestBackoff}
}

func (t *manifestTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("manifest transport received nil request")
	}
	kind := classifyManifest(req)
	if kind == manifestNone {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("roundtrip %s: %w", req.URL, err)
		}
		return resp, nil
	}

	attempts := len(t.backoff) + 1
	var lastErr error
	for attempt := range attempts {
		resp, err := t.base.RoundTrip(cloneRequest(req))
		if err == nil {
			return resp, nil
		}
		if !isTransient(err) {
			return nil, fmt.Errorf("%s roundtrip: %w", kind, err)
		}
		lastErr = err
		if attempt == attempts-1 {
			break
		}
		if err := sleepWithContext(req.Context(), t.backoff[attempt]); err != nil {
			return nil, fmt.Errorf("%s retry backoff: %w", kind, err)
		}
	}

	if kind == manifestRobots {
		if t.fallback == "" {
			t.fallback = robotsFallbackTLSHandshake
			metrics.ObserveProbeTLSHandshakeTimeout()
		}
		return allowAllResponse(req), nil
	}
	return nil, fmt.Errorf("%s unreachable after %d attempts: %w", kind, attempts, lastErr)
}

// apply copies the fallback reason onto the fetch result.
func (t *manifestTransport) apply(resp *fetch.Response) {
	if t == nil || resp == nil || t.fallback == "" {
		return
	}
	resp.Fallback = t.fallback
}

func cloneRequest(req *http.Request) *http.Request {
	clone := req.Clone(req.Context())
	clone.Body = req.Body
	return clone
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        http.Header{"Content-Type": {"text/plain"}},
		Request:       req,
	}
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
