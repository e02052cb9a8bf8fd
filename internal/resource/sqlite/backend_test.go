package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitescout/internal/resource/resourcetest"
)

func openTemp(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "records.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBackendContract(t *testing.T) {
	t.Parallel()
	resourcetest.RunBackend(t, openTemp(t))
}

func TestRecordsSurviveReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.db")
	b, err := Open(ctx, Config{Path: path, Table: "docs"})
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, "pages", "a", []byte(`{"id":"a"}`)))
	require.NoError(t, b.Close())

	reopened, err := Open(ctx, Config{Path: path, Table: "docs"})
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get(ctx, "pages", "a")
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"a"}`, string(got))
}

func TestOpenValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{})
	require.Error(t, err)

	_, err = Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "x.db"), Table: "bad;name"})
	require.ErrorContains(t, err, "invalid table name")
}
