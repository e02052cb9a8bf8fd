package resource_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitescout/internal/resource"
	"github.com/JakeFAU/sitescout/internal/resource/memory"
)

type sequentialIDs struct{ n int }

func (s *sequentialIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("id-%03d", s.n), nil
}

func newDB(t *testing.T) *resource.DB {
	t.Helper()
	db, err := resource.New(memory.New(), resource.Options{IDs: &sequentialIDs{}})
	require.NoError(t, err)
	return db
}

func TestInsertAssignsID(t *testing.T) {
	t.Parallel()

	db, err := resource.New(memory.New(), resource.Options{})
	require.NoError(t, err)

	rec, err := db.Insert(context.Background(), "articles", resource.Record{"title": "Hello"})
	require.NoError(t, err)
	parsed, err := uuid.Parse(rec.ID())
	require.NoError(t, err)
	require.Equal(t, uuid.Version(7), parsed.Version())

	stored, err := db.Get(context.Background(), "articles", rec.ID())
	require.NoError(t, err)
	require.Equal(t, "Hello", stored["title"])
}

func TestInsertRejectsDuplicateID(t *testing.T) {
	t.Parallel()

	db := newDB(t)
	ctx := context.Background()
	_, err := db.Insert(ctx, "articles", resource.Record{"id": "a"})
	require.NoError(t, err)
	_, err = db.Insert(ctx, "articles", resource.Record{"id": "a"})
	require.ErrorIs(t, err, resource.ErrExists)
}

func TestInvalidResourceName(t *testing.T) {
	t.Parallel()

	db := newDB(t)
	_, err := db.Insert(context.Background(), "../etc", resource.Record{})
	require.ErrorIs(t, err, resource.ErrInvalidName)
}

func TestUpdateMergesAndKeepsID(t *testing.T) {
	t.Parallel()

	db := newDB(t)
	ctx := context.Background()
	rec, err := db.Insert(ctx, "users", resource.Record{"name": "Ann", "email": "ann@example.com"})
	require.NoError(t, err)

	updated, err := db.Update(ctx, "users", rec.ID(), resource.Record{"name": "Anne", "id": "hijack"})
	require.NoError(t, err)
	require.Equal(t, rec.ID(), updated.ID())
	require.Equal(t, "Anne", updated["name"])
	require.Equal(t, "ann@example.com", updated["email"])

	_, err = db.Update(ctx, "users", "nope", resource.Record{"name": "x"})
	require.ErrorIs(t, err, resource.ErrNotFound)
}

func TestDeleteAndGetMany(t *testing.T) {
	t.Parallel()

	db := newDB(t)
	ctx := context.Background()
	a, _ := db.Insert(ctx, "posts", resource.Record{"title": "a"})
	b, _ := db.Insert(ctx, "posts", resource.Record{"title": "b"})
	c, _ := db.Insert(ctx, "posts", resource.Record{"title": "c"})

	require.NoError(t, db.Delete(ctx, "posts", b.ID()))
	require.ErrorIs(t, db.Delete(ctx, "posts", b.ID()), resource.ErrNotFound)

	got, err := db.GetMany(ctx, "posts", []string{c.ID(), b.ID(), a.ID()})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, c.ID(), got[0].ID())
	require.Equal(t, a.ID(), got[1].ID())

	all, err := db.GetAll(ctx, "posts")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, a.ID(), all[0].ID())
}

func TestQueryFilters(t *testing.T) {
	t.Parallel()

	db := newDB(t)
	ctx := context.Background()
	for i := range 5 {
		_, err := db.Insert(ctx, "products", resource.Record{"rank": i % 2, "name": fmt.Sprintf("p%d", i)})
		require.NoError(t, err)
	}

	evens, err := db.Query(ctx, "products", resource.Filter{Where: map[string]any{"rank": 0}})
	require.NoError(t, err)
	require.Len(t, evens, 3)

	page, err := db.Query(ctx, "products", resource.Filter{Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "p1", page[0]["name"])

	past, err := db.Query(ctx, "products", resource.Filter{Offset: 10})
	require.NoError(t, err)
	require.Empty(t, past)
}

func TestAfterWriteHooks(t *testing.T) {
	t.Parallel()

	db := newDB(t)
	ctx := context.Background()
	var events []resource.Event
	unsubscribe := db.OnAfterWrite(func(_ context.Context, ev resource.Event) error {
		events = append(events, ev)
		return nil
	})
	db.OnAfterWrite(func(context.Context, resource.Event) error {
		return errors.New("hook failure is logged, not returned")
	})

	rec, err := db.Insert(ctx, "articles", resource.Record{"title": "one"})
	require.NoError(t, err)
	_, err = db.Update(ctx, "articles", rec.ID(), resource.Record{"title": "two"})
	require.NoError(t, err)
	require.NoError(t, db.Delete(ctx, "articles", rec.ID()))

	require.Len(t, events, 3)
	require.Equal(t, resource.OpInsert, events[0].Op)
	require.Equal(t, resource.OpUpdate, events[1].Op)
	require.Equal(t, "two", events[1].Record["title"])
	require.Equal(t, resource.OpDelete, events[2].Op)
	require.Equal(t, "two", events[2].Record["title"])

	unsubscribe()
	unsubscribe()
	_, err = db.Insert(ctx, "articles", resource.Record{"title": "three"})
	require.NoError(t, err)
	require.Len(t, events, 3)
}

func TestResourcesSorted(t *testing.T) {
	t.Parallel()

	db := newDB(t)
	ctx := context.Background()
	_, _ = db.Insert(ctx, "zeta", resource.Record{})
	_, _ = db.Insert(ctx, "alpha", resource.Record{})

	names, err := db.Resources(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "zeta"}, names)
}
