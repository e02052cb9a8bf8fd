package fetch

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResponseContentType(t *testing.T) {
	t.Parallel()

	resp := Response{Headers: http.Header{"Content-Type": {"application/XML; charset=utf-8"}}}
	require.Equal(t, "application/xml", resp.ContentType())
	require.Empty(t, Response{}.ContentType())
}

func TestResponseOK(t *testing.T) {
	t.Parallel()

	require.True(t, Response{StatusCode: http.StatusNoContent}.OK())
	require.False(t, Response{StatusCode: http.StatusNotFound}.OK())
}

func TestHelpersUseMethod(t *testing.T) {
	t.Parallel()

	var methods []string
	f := Func(func(_ context.Context, req Request) (Response, error) {
		methods = append(methods, req.Method)
		return Response{URL: req.URL, StatusCode: http.StatusOK}, nil
	})

	_, err := Get(context.Background(), f, "https://example.com")
	require.NoError(t, err)
	_, err = Head(context.Background(), f, "https://example.com")
	require.NoError(t, err)
	require.Equal(t, []string{http.MethodGet, http.MethodHead}, methods)
}

func TestHelpersRequireFetcher(t *testing.T) {
	t.Parallel()

	_, err := Get(context.Background(), nil, "https://example.com")
	if !errors.Is(err, ErrNoFetcher) {
		t.Fatalf("expected ErrNoFetcher, got %v", err)
	}
}
