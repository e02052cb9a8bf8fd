package headless

import (
	"bytes"
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitescout/internal/fetch"
)

const defaultThinPageBytes = 2048

// appShellMarkers identify pages whose anchors are built client-side.
var appShellMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="__nuxt"`),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version="),
}

// NeedsRender reports whether a plain GET response looks like a JavaScript
// app shell: an empty body, a small body that is mostly script, or a known
// framework mount point.
func NeedsRender(resp fetch.Response, thinPageBytes int) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if thinPageBytes <= 0 {
		thinPageBytes = defaultThinPageBytes
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < thinPageBytes && scriptShare(body) >= 25 {
		return true
	}
	for _, marker := range appShellMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptShare returns the percentage of body bytes inside <script> elements.
// An unterminated element runs to the end of the body.
func scriptShare(body []byte) int {
	lower := bytes.ToLower(body)
	open, end := []byte("<script"), []byte("</script>")
	covered := 0
	for pos := 0; pos < len(lower); {
		i := bytes.Index(lower[pos:], open)
		if i < 0 {
			break
		}
		start := pos + i
		j := bytes.Index(lower[start:], end)
		if j < 0 {
			covered += len(lower) - start
			break
		}
		stop := start + j + len(end)
		covered += stop - start
		pos = stop
	}
	return covered * 100 / len(lower)
}

// Promoter fetches pages over plain HTTP and re-fetches them through the
// renderer when NeedsRender flags the result.
type Promoter struct {
	Plain         fetch.Fetcher
	Renderer      fetch.Fetcher
	ThinPageBytes int
	Logger        *zap.Logger
}

// Fetch implements fetch.Fetcher. HEAD requests and failed renders fall back
// to the plain response.
func (p *Promoter) Fetch(ctx context.Context, req fetch.Request) (fetch.Response, error) {
	resp, err := p.Plain.Fetch(ctx, req)
	if err != nil || req.Method == http.MethodHead || p.Renderer == nil {
		return resp, err
	}
	if !NeedsRender(resp, p.ThinPageBytes) {
		return resp, nil
	}
	rendered, rerr := p.Renderer.Fetch(ctx, req)
	if rerr != nil {
		if p.Logger != nil {
			p.Logger.Warn("headless promotion failed", zap.String("url", req.URL), zap.Error(rerr))
		}
		return resp, nil
	}
	return rendered, nil
}
