// Package headless renders pages in headless Chrome so link discovery sees script-built anchors.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/sitescout/internal/fetch"
)

// ErrUnavailable reports that headless rendering is disabled.
var ErrUnavailable = errors.New("headless fetcher not configured")

const (
	defaultNavTimeout   = 45 * time.Second
	defaultSettle       = 500 * time.Millisecond
	defaultWaitSelector = "body"
)

// scrollScript pulls lazily loaded content (infinite lists, deferred footers) into the DOM.
const scrollScript = `window.scrollTo(0, document.body ? document.body.scrollHeight : 0)`

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel caps concurrent tabs; zero means unlimited.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is how long to wait after the body is ready for client-side routing to finish.
	Settle time.Duration
	// WaitSelector must be ready before the DOM is captured. Defaults to "body".
	WaitSelector string
	// ScrollSteps scrolls to the bottom this many times, settling after each.
	ScrollSteps int
	// Passthrough serves HEAD requests, which a browser cannot issue.
	Passthrough fetch.Fetcher
}

// Fetcher implements fetch.Fetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	tabs        *semaphore.Weighted
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp. Chrome itself starts
// lazily on the first render.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.ScrollSteps < 0 {
		return nil, fmt.Errorf("scroll steps must be >= 0")
	}
	f := &Fetcher{cfg: cfg}
	if cfg.MaxParallel > 0 {
		f.tabs = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.Flag("enable-automation", false),
	)
	f.allocator, f.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return f, nil
}

// Close shuts down the browser.
func (f *Fetcher) Close() {
	if f.allocCancel != nil {
		f.allocCancel()
	}
}

// Fetch renders request.URL in a fresh tab and returns the serialized DOM. HEAD
// requests go to the passthrough fetcher.
func (f *Fetcher) Fetch(ctx context.Context, request fetch.Request) (fetch.Response, error) {
	if request.Method == http.MethodHead {
		return f.head(ctx, request)
	}
	if f.allocator == nil {
		return fetch.Response{}, ErrUnavailable
	}
	if f.tabs != nil {
		if err := f.tabs.Acquire(ctx, 1); err != nil {
			return fetch.Response{}, fmt.Errorf("headless slot wait canceled: %w", err)
		}
		defer f.tabs.Release(1)
	}

	tab, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, f.navTimeout())
	defer cancel()
	// The caller's cancellation also ends the tab.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentTracker{}
	chromedp.ListenTarget(tab, doc.observe)

	start := time.Now()
	var html, location string
	if err := chromedp.Run(tab, f.actions(request, &html, &location)...); err != nil {
		return fetch.Response{}, fmt.Errorf("render %s: %w", request.URL, err)
	}

	status, headers, finalURL := doc.result(request.URL, location)
	if headers.Get("Content-Type") == "" {
		headers.Set("Content-Type", "text/html; charset=utf-8")
	}
	return fetch.Response{
		URL:        finalURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Duration:   time.Since(start),
	}, nil
}

func (f *Fetcher) head(ctx context.Context, request fetch.Request) (fetch.Response, error) {
	if f.cfg.Passthrough == nil {
		return fetch.Response{}, fmt.Errorf("headless fetcher cannot issue %s", request.Method)
	}
	resp, err := f.cfg.Passthrough.Fetch(ctx, request)
	if err != nil {
		return fetch.Response{}, fmt.Errorf("passthrough head: %w", err)
	}
	return resp, nil
}

func (f *Fetcher) actions(request fetch.Request, html, location *string) []chromedp.Action {
	actions := []chromedp.Action{
		f.prepareTab(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady(f.waitSelector(), chromedp.ByQuery),
		chromedp.Sleep(f.settle()),
	}
	for range f.cfg.ScrollSteps {
		actions = append(actions,
			chromedp.Evaluate(scrollScript, nil),
			chromedp.Sleep(f.settle()),
		)
	}
	return append(actions,
		chromedp.Location(location),
		chromedp.OuterHTML("html", html, chromedp.ByQuery),
	)
}

func (f *Fetcher) prepareTab(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(networkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) settle() time.Duration {
	if f.cfg.Settle > 0 {
		return f.cfg.Settle
	}
	return defaultSettle
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

func (f *Fetcher) waitSelector() string {
	if f.cfg.WaitSelector != "" {
		return f.cfg.WaitSelector
	}
	return defaultWaitSelector
}

// documentTracker keeps the last document response seen in the tab, which is
// the final hop of any redirect chain.
type documentTracker struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (d *documentTracker) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := httpHeaders(resp.Response.Headers)
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.headers = headers
	d.url = resp.Response.URL
	d.mu.Unlock()
}

// result falls back to the tab location, then the requested URL, and assumes
// 200 when no document event was observed.
func (d *documentTracker) result(requestURL, location string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, finalURL := d.status, d.url
	if status == 0 {
		status = http.StatusOK
	}
	if finalURL == "" {
		finalURL = location
	}
	if finalURL == "" {
		finalURL = requestURL
	}
	headers := d.headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, finalURL
}

func httpHeaders(src network.Headers) http.Header {
	out := make(http.Header, len(src))
	for key, value := range src {
		switch v := value.(type) {
		case string:
			out.Add(key, v)
		case []string:
			for _, entry := range v {
				out.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				out.Add(key, fmt.Sprint(entry))
			}
		default:
			out.Add(key, fmt.Sprint(v))
		}
	}
	return out
}

func networkHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}
