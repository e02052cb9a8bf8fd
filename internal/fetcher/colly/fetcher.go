// Package collyfetcher implements fetch.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescout/internal/fetch"
	"github.com/JakeFAU/sitescout/internal/metrics"
	"github.com/JakeFAU/sitescout/internal/policy/ratelimit"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
	Limiter      *ratelimit.Limiter
	Logger       *zap.Logger
}

// Fetcher implements fetch.Fetcher using the Colly collector. Each fetch runs on its own
// collector; the underlying transport and its connection pool are shared.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	logger    *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
		logger:    logger,
	}
}

// Fetch executes a single GET or HEAD using Colly. Non-2xx statuses are returned as responses.
func (f *Fetcher) Fetch(ctx context.Context, request fetch.Request) (fetch.Response, error) {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodHead {
		return fetch.Response{}, fmt.Errorf("unsupported method %q", method)
	}
	if err := f.cfg.Limiter.Wait(ctx, request.URL); err != nil {
		return fetch.Response{}, err
	}

	var (
		result   fetch.Response
		fetchErr error
	)
	start := time.Now()
	collector, manifests := f.buildCollector(request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, method, request.URL, &fetchErr); err != nil {
		metrics.ObserveFetch(request.URL, method, 0, 0)
		f.logger.Debug("fetch failed", zap.String("url", request.URL), zap.String("method", method), zap.Error(err))
		return fetch.Response{}, err
	}
	manifests.apply(&result)
	metrics.ObserveFetch(request.URL, method, result.StatusCode, len(result.Body))
	return result, nil
}

func (f *Fetcher) buildCollector(
	request fetch.Request,
	start time.Time,
	result *fetch.Response,
	fetchErr *error,
) (*colly.Collector, *manifestTransport) {
	opts := []colly.CollectorOption{
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
	}
	if f.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(f.cfg.UserAgent))
	}
	if f.cfg.MaxBodyBytes > 0 {
		opts = append(opts, colly.MaxBodySize(f.cfg.MaxBodyBytes))
	}
	collector := colly.NewCollector(opts...)
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	baseTransport := f.transport
	if baseTransport == nil {
		baseTransport = newHTTPTransport()
	}
	manifests := newManifestTransport(baseTransport)
	collector.WithTransport(manifests)

	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector, manifests
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request fetch.Request,
	start time.Time,
	result *fetch.Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = fetch.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	method, url string,
	fetchErr *error,
) error {
	done := make(chan error, 1)
	go func() {
		if method == http.MethodHead {
			done <- collector.Head(url)
			return
		}
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(request fetch.Request, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
