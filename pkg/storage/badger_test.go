package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rupali59/docbridge/pkg/query"
	"github.com/Rupali59/docbridge/pkg/value"
)

func openTestBadger(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadgerStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestBadgerStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := openTestBadger(t)

	id, err := s.Create(ctx, "cars", value.M(map[string]any{"brand": "Toyota", "year": 1999}))
	require.NoError(t, err)

	got, err := s.Get(ctx, "cars", id)
	require.NoError(t, err)
	assert.Equal(t, value.Int(1999), got.Data["year"])

	assert.ErrorIs(t, s.Update(ctx, "cars", "missing", value.Map{}), ErrNotFound)
	require.NoError(t, s.Update(ctx, "cars", id, value.M(map[string]any{"brand": "Honda"})))

	got, err = s.Get(ctx, "cars", id)
	require.NoError(t, err)
	assert.Equal(t, value.Map{"brand": value.String("Honda")}, got.Data)

	require.NoError(t, s.Delete(ctx, "cars", id))
	_, err = s.Get(ctx, "cars", id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerStoreFindStaysInCollection(t *testing.T) {
	ctx := context.Background()
	s := openTestBadger(t)
	require.NoError(t, s.Set(ctx, "cars", "a", value.M(map[string]any{"year": 1990})))
	require.NoError(t, s.Set(ctx, "cars", "b", value.M(map[string]any{"year": 2010})))
	require.NoError(t, s.Set(ctx, "carsales", "c", value.M(map[string]any{"year": 1990})))

	docs, err := s.Find(ctx, findPlan(t, query.New("cars").WhereLessThan("year", 2000)))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].ID)
}

func TestBadgerStoreWatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s := openTestBadger(t)
	require.NoError(t, s.Set(ctx, "cars", "a", value.M(map[string]any{"brand": "Toyota"})))

	w, err := s.Watch(ctx, listenerPlan(t, query.New("cars").WhereEqualTo("brand", "Toyota")))
	require.NoError(t, err)
	defer w.Stop()

	batch, err := w.Next(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, Added, batch[0].Kind)

	require.NoError(t, s.Set(ctx, "cars", "b", value.M(map[string]any{"brand": "Toyota"})))

	batch, err = w.Next(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, batch)
	assert.Equal(t, Added, batch[0].Kind)
	assert.Equal(t, "b", batch[0].Doc.ID)
}

func TestBadgerStoreWatchSeesWriteRightAfterOpen(t *testing.T) {
	s, err := OpenBadgerStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	for round := 0; round < 30; round++ {
		collection := fmt.Sprintf("cars%d", round)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		w, err := s.Watch(ctx, listenerPlan(t, query.New(collection).WhereEqualTo("brand", "Toyota")))
		require.NoError(t, err)

		id, err := s.Create(ctx, collection, value.M(map[string]any{"brand": "Toyota"}))
		require.NoError(t, err)

		nextCtx, nextCancel := context.WithTimeout(ctx, 500*time.Millisecond)
		batch, err := w.Next(nextCtx)
		nextCancel()
		require.NoError(t, err, "round %d", round)
		require.Len(t, batch, 1)
		assert.Equal(t, Added, batch[0].Kind)
		assert.Equal(t, id, batch[0].Doc.ID)

		w.Stop()
		cancel()
	}

	// Barrier keys never surface as documents.
	docs, err := s.Find(context.Background(), listenerPlan(t, query.New("cars0")))
	require.NoError(t, err)
	require.Len(t, docs, 1)
}
