// Package resourcetest holds behaviour checks shared by resource backends.
package resourcetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitescout/internal/resource"
)

// RunBackend exercises the resource.Backend contract against a fresh backend.
func RunBackend(t *testing.T, backend resource.Backend) {
	t.Helper()
	ctx := context.Background()

	_, err := backend.Get(ctx, "pages", "missing")
	require.ErrorIs(t, err, resource.ErrNotFound)

	require.NoError(t, backend.Put(ctx, "pages", "b", []byte(`{"id":"b","title":"second"}`)))
	require.NoError(t, backend.Put(ctx, "pages", "a", []byte(`{"id":"a","title":"first"}`)))
	require.NoError(t, backend.Put(ctx, "pages", "c", []byte(`{"id":"c"}`)))
	require.NoError(t, backend.Put(ctx, "sites", "x", []byte(`{"id":"x"}`)))

	got, err := backend.Get(ctx, "pages", "a")
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"a","title":"first"}`, string(got))

	require.NoError(t, backend.Put(ctx, "pages", "a", []byte(`{"id":"a","title":"updated"}`)))
	got, err = backend.Get(ctx, "pages", "a")
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"a","title":"updated"}`, string(got))

	list, err := backend.List(ctx, "pages")
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.JSONEq(t, `{"id":"a","title":"updated"}`, string(list[0]))
	require.JSONEq(t, `{"id":"b","title":"second"}`, string(list[1]))
	require.JSONEq(t, `{"id":"c"}`, string(list[2]))

	empty, err := backend.List(ctx, "nothing")
	require.NoError(t, err)
	require.Empty(t, empty)

	names, err := backend.Resources(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"pages", "sites"}, names)

	require.NoError(t, backend.Delete(ctx, "pages", "b"))
	_, err = backend.Get(ctx, "pages", "b")
	require.ErrorIs(t, err, resource.ErrNotFound)
	require.ErrorIs(t, backend.Delete(ctx, "pages", "b"), resource.ErrNotFound)

	list, err = backend.List(ctx, "pages")
	require.NoError(t, err)
	require.Len(t, list, 2)
}
