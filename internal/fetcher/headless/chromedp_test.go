package headless

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/JakeFAU/sitescout/internal/fetch"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	if _, err := NewChromedp(Config{ScrollSteps: -1}); err == nil {
		t.Fatal("expected error for negative scroll steps")
	}
	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer fetcher.Close()
	if fetcher.tabs == nil {
		t.Fatal("expected a tab semaphore when max parallel is set")
	}

	unlimited, err := NewChromedp(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer unlimited.Close()
	if unlimited.tabs != nil {
		t.Fatal("expected no tab semaphore for unlimited parallelism")
	}
}

func TestFetcherDefaults(t *testing.T) {
	t.Parallel()

	f := &Fetcher{}
	if got := f.navTimeout(); got != defaultNavTimeout {
		t.Fatalf("expected default nav timeout, got %v", got)
	}
	if got := f.settle(); got != 500*time.Millisecond {
		t.Fatalf("expected default settle, got %v", got)
	}
	if got := f.waitSelector(); got != "body" {
		t.Fatalf("expected body selector, got %q", got)
	}

	f.cfg = Config{NavigationTimeout: time.Second, Settle: time.Millisecond, WaitSelector: "#app a"}
	if f.navTimeout() != time.Second || f.settle() != time.Millisecond || f.waitSelector() != "#app a" {
		t.Fatalf("expected overrides, got %v %v %q", f.navTimeout(), f.settle(), f.waitSelector())
	}
}

func TestActionsScrollBeforeCapture(t *testing.T) {
	t.Parallel()

	var html, location string
	plain := (&Fetcher{}).actions(fetch.Request{URL: "https://example.com"}, &html, &location)
	scrolled := (&Fetcher{cfg: Config{ScrollSteps: 3}}).actions(fetch.Request{URL: "https://example.com"}, &html, &location)
	if len(scrolled)-len(plain) != 6 {
		t.Fatalf("expected an evaluate and a settle per scroll step, got %d extra actions", len(scrolled)-len(plain))
	}
}

func TestHeaderConversions(t *testing.T) {
	t.Parallel()

	src := http.Header{"X-Test": {"a", "b"}, "X-One": {"1"}, "X-Empty": {}}
	netHeaders := networkHeaders(src)
	if v, ok := netHeaders["X-Test"].([]string); !ok || len(v) != 2 {
		t.Fatalf("expected two entries, got %#v", netHeaders["X-Test"])
	}
	if netHeaders["X-One"] != "1" {
		t.Fatalf("expected single value as string, got %#v", netHeaders["X-One"])
	}
	if _, ok := netHeaders["X-Empty"]; ok {
		t.Fatal("expected empty header to be dropped")
	}

	back := httpHeaders(network.Headers{"X-List": []any{"a", 2}, "X-Str": "s"})
	if got := back.Values("X-List"); len(got) != 2 || got[1] != "2" {
		t.Fatalf("unexpected list conversion: %v", got)
	}
	if back.Get("X-Str") != "s" {
		t.Fatalf("unexpected string conversion: %v", back)
	}
}

func TestDocumentTrackerKeepsLastDocument(t *testing.T) {
	t.Parallel()

	doc := &documentTracker{}
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 301, URL: "https://example.com/old"},
	})
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 404, URL: "https://example.com/app.js"},
	})
	doc.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  200,
			URL:     "https://example.com/new",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	status, headers, url := doc.result("https://req", "https://location")
	if status != 200 || headers.Get("X-Request-ID") != "abc" || url != "https://example.com/new" {
		t.Fatalf("unexpected result: status=%d headers=%v url=%s", status, headers, url)
	}

	empty := &documentTracker{}
	status, headers, url = empty.result("https://req", "https://location")
	if status != http.StatusOK || url != "https://location" || headers == nil {
		t.Fatalf("expected location fallback, got status=%d url=%s", status, url)
	}
	if _, _, url = empty.result("https://req", ""); url != "https://req" {
		t.Fatalf("expected request fallback, got %s", url)
	}
}

func TestFetchWithoutBrowser(t *testing.T) {
	t.Parallel()

	_, err := (&Fetcher{}).Fetch(context.Background(), fetch.Request{URL: "https://example.com", Method: http.MethodGet})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestHeadUsesPassthrough(t *testing.T) {
	t.Parallel()

	var calls int
	passthrough := fetch.Func(func(_ context.Context, req fetch.Request) (fetch.Response, error) {
		calls++
		return fetch.Response{URL: req.URL, StatusCode: http.StatusOK}, nil
	})
	f := &Fetcher{cfg: Config{Passthrough: passthrough}}

	resp, err := f.Fetch(context.Background(), fetch.Request{URL: "https://example.com", Method: http.MethodHead})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK || calls != 1 {
		t.Fatalf("expected passthrough response, got %+v (calls=%d)", resp, calls)
	}

	if _, err := (&Fetcher{}).Fetch(context.Background(), fetch.Request{Method: http.MethodHead}); err == nil {
		t.Fatal("expected error without passthrough")
	}
}
