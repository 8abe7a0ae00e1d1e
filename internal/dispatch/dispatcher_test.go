package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rupali59/docbridge/pkg/failure"
	"github.com/Rupali59/docbridge/pkg/query"
	"github.com/Rupali59/docbridge/pkg/storage"
	"github.com/Rupali59/docbridge/pkg/value"
)

// blockingStore hangs every Get on collection "slow" until release is closed.
type blockingStore struct {
	*storage.MemoryStore
	release chan struct{}
}

func (b *blockingStore) Get(ctx context.Context, collection, id string) (storage.Document, error) {
	if collection == "slow" {
		<-b.release
	}
	return b.MemoryStore.Get(ctx, collection, id)
}

// gatedStore holds every Get until gate is closed and records how many ran
// at once.
type gatedStore struct {
	*storage.MemoryStore
	gate    chan struct{}
	current atomic.Int32
	peak    atomic.Int32
}

func (g *gatedStore) Get(ctx context.Context, collection, id string) (storage.Document, error) {
	n := g.current.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	<-g.gate
	g.current.Add(-1)
	return g.MemoryStore.Get(ctx, collection, id)
}

// panicStore panics on Find.
type panicStore struct {
	*storage.MemoryStore
}

func (panicStore) Find(ctx context.Context, plan *query.Plan) ([]storage.Document, error) {
	panic("driver bug")
}

func newTestDispatcher(t *testing.T, store storage.Store, cfg Config) *Dispatcher {
	t.Helper()
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 2
	}
	d := New(store, cfg, nil)
	d.Start()
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return d
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestInsertThenGet(t *testing.T) {
	ctx := testCtx(t)
	d := newTestDispatcher(t, storage.NewMemoryStore(), Config{})

	res := d.Do(ctx, NewInsert("cars", value.M(map[string]any{"brand": "Toyota"})))
	require.NoError(t, res.AsError())
	require.NotEmpty(t, res.ID)

	got := d.Do(ctx, NewGet("cars", res.ID))
	require.NoError(t, got.AsError())
	assert.Equal(t, value.String("Toyota"), got.Document["brand"])
	assert.Equal(t, value.String(res.ID), got.Document["_id"])
}

func TestGetMissingIsNotFound(t *testing.T) {
	d := newTestDispatcher(t, storage.NewMemoryStore(), Config{})

	res := d.Do(testCtx(t), NewGet("cars", "missing"))
	require.NotNil(t, res.Err)
	assert.Equal(t, failure.NotFound, res.Err.Kind)
	assert.Equal(t, 2, res.Err.Code())
	assert.ErrorIs(t, res.AsError(), failure.ErrNotFound)
}

func TestUpsertLastWriteWins(t *testing.T) {
	ctx := testCtx(t)
	d := newTestDispatcher(t, storage.NewMemoryStore(), Config{})

	require.True(t, d.Do(ctx, NewUpsert("cars", "x", value.M(map[string]any{"v": 1}))).OK)
	require.True(t, d.Do(ctx, NewUpsert("cars", "x", value.M(map[string]any{"v": 2}))).OK)

	got := d.Do(ctx, NewGet("cars", "x"))
	require.NoError(t, got.AsError())
	assert.Equal(t, value.Int(2), got.Document["v"])
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := testCtx(t)
	d := newTestDispatcher(t, storage.NewMemoryStore(), Config{})

	res := d.Do(ctx, NewUpdate("cars", "x", value.Map{}))
	require.NotNil(t, res.Err)
	assert.Equal(t, failure.NotFound, res.Err.Kind)

	require.True(t, d.Do(ctx, NewUpsert("cars", "x", value.M(map[string]any{"v": 1}))).OK)
	require.True(t, d.Do(ctx, NewUpdate("cars", "x", value.M(map[string]any{"v": 3}))).OK)
	require.True(t, d.Do(ctx, NewDelete("cars", "x")).OK)
	require.True(t, d.Do(ctx, NewDelete("cars", "x")).OK)
}

func TestEmptyWritesNothing(t *testing.T) {
	ctx := testCtx(t)
	d := newTestDispatcher(t, storage.NewMemoryStore(), Config{})

	res := d.Do(ctx, NewEmpty("cars"))
	require.NoError(t, res.AsError())
	require.NotEmpty(t, res.ID)

	got := d.Do(ctx, NewGet("cars", res.ID))
	require.NotNil(t, got.Err)
	assert.Equal(t, failure.NotFound, got.Err.Kind)
}

func TestQueryInjectsIDs(t *testing.T) {
	ctx := testCtx(t)
	d := newTestDispatcher(t, storage.NewMemoryStore(), Config{})
	for _, id := range []string{"a", "b", "c"} {
		require.True(t, d.Do(ctx, NewUpsert("cars", id, value.M(map[string]any{"brand": "Toyota"}))).OK)
	}

	m := query.New("cars").WhereEqualTo("brand", "Toyota").WithLimit(2)
	res := d.Do(ctx, NewQuery(m))
	require.NoError(t, res.AsError())
	require.Len(t, res.Documents, 2)
	assert.Equal(t, value.String("a"), res.Documents[0]["_id"])
	assert.True(t, m.Frozen())
}

func TestQueryBuild(t *testing.T) {
	d := newTestDispatcher(t, storage.NewMemoryStore(), Config{})
	res := d.Do(testCtx(t), NewQueryBuild("cars"))
	require.NoError(t, res.AsError())
	require.NotNil(t, res.Model)
	assert.Equal(t, "cars", res.Model.Collection())
	assert.False(t, res.Model.Frozen())
}

func TestPayloadCopiedAtSubmit(t *testing.T) {
	ctx := testCtx(t)
	d := newTestDispatcher(t, storage.NewMemoryStore(), Config{})

	doc := value.M(map[string]any{"v": 1})
	p := d.Submit(ctx, NewUpsert("cars", "x", doc))
	doc["v"] = value.Int(99)
	require.True(t, p.Wait(ctx).OK)

	got := d.Do(ctx, NewGet("cars", "x"))
	assert.Equal(t, value.Int(1), got.Document["v"])
}

func TestExecutionCeiling(t *testing.T) {
	ctx := testCtx(t)
	store := &blockingStore{MemoryStore: storage.NewMemoryStore(), release: make(chan struct{})}
	defer close(store.release)
	d := newTestDispatcher(t, store, Config{PoolSize: 1, MaxExecutionTime: 50 * time.Millisecond})

	res := d.Do(ctx, NewGet("slow", "x"))
	require.NotNil(t, res.Err)
	assert.Equal(t, failure.DeadlineExceeded, res.Err.Kind)
	assert.Equal(t, 3, res.Err.Code())

	// The retired worker was replaced, so the pool keeps serving.
	ins := d.Do(ctx, NewInsert("cars", value.Map{}))
	assert.NoError(t, ins.AsError())
}

func TestConcurrencyBoundedByPoolSize(t *testing.T) {
	ctx := testCtx(t)
	const poolSize = 3
	store := &gatedStore{MemoryStore: storage.NewMemoryStore(), gate: make(chan struct{})}
	d := newTestDispatcher(t, store, Config{PoolSize: poolSize})

	const requests = poolSize * 4
	results := make(chan Result, requests)
	for i := 0; i < requests; i++ {
		go func(i int) {
			results <- d.Do(ctx, NewGet("cars", fmt.Sprintf("c%d", i)))
		}(i)
	}

	require.Eventually(t, func() bool { return store.current.Load() == poolSize }, time.Second, 5*time.Millisecond)
	// Queued requests must not start while every worker is busy.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(poolSize), store.peak.Load())

	close(store.gate)
	for i := 0; i < requests; i++ {
		res := <-results
		require.NotNil(t, res.Err)
		assert.Equal(t, failure.NotFound, res.Err.Kind)
	}
	assert.Equal(t, int32(poolSize), store.peak.Load())
}

func TestQueryWithUnsupportedOperand(t *testing.T) {
	type latLng struct{ Lat, Lng float64 }
	d := newTestDispatcher(t, storage.NewMemoryStore(), Config{PoolSize: 1})

	res := d.Do(testCtx(t), NewQuery(query.New("cars").WhereEqualTo("position", latLng{1, 2})))
	require.NotNil(t, res.Err)
	assert.Equal(t, failure.StoreFailure, res.Err.Kind)
	assert.ErrorIs(t, res.AsError(), failure.ErrStoreFailure)
}

func TestHandlerPanicBecomesFailure(t *testing.T) {
	ctx := testCtx(t)
	d := newTestDispatcher(t, panicStore{storage.NewMemoryStore()}, Config{PoolSize: 1})

	res := d.Do(ctx, NewQuery(query.New("cars")))
	require.NotNil(t, res.Err)
	assert.Equal(t, failure.StoreFailure, res.Err.Kind)
	assert.Contains(t, res.Err.Message, "driver bug")

	assert.NoError(t, d.Do(ctx, NewInsert("cars", value.Map{})).AsError())
}

func TestSubmitAfterClose(t *testing.T) {
	ctx := testCtx(t)
	store := storage.NewMemoryStore()
	d := New(store, Config{PoolSize: 1}, nil)
	d.Start()
	d.Start()

	require.NoError(t, d.Close(ctx))
	require.NoError(t, d.Close(ctx))

	res := d.Do(ctx, NewInsert("cars", value.Map{}))
	require.NotNil(t, res.Err)
	assert.Equal(t, failure.Closed, res.Err.Kind)
	assert.ErrorIs(t, store.Ping(ctx), storage.ErrClosed)
}

func TestCloseRequestDrainsInFlight(t *testing.T) {
	ctx := testCtx(t)
	d := New(storage.NewMemoryStore(), Config{PoolSize: 2}, nil)

	var wg sync.WaitGroup
	pending := make([]*Pending, 20)
	for i := range pending {
		pending[i] = d.Submit(ctx, NewInsert("cars", value.M(map[string]any{"n": i})))
	}

	closed := d.Submit(ctx, NewClose())
	require.True(t, closed.Wait(ctx).OK)

	for _, p := range pending {
		wg.Add(1)
		go func(p *Pending) {
			defer wg.Done()
			assert.NoError(t, p.Wait(ctx).AsError())
		}(p)
	}
	wg.Wait()

	res := d.Do(ctx, NewGet("cars", "x"))
	require.NotNil(t, res.Err)
	assert.Equal(t, failure.Closed, res.Err.Kind)
}

func TestSendTimeout(t *testing.T) {
	ctx := testCtx(t)
	store := &blockingStore{MemoryStore: storage.NewMemoryStore(), release: make(chan struct{})}
	d := newTestDispatcher(t, store, Config{PoolSize: 1, QueueSize: 1, SendTimeout: 20 * time.Millisecond, MaxExecutionTime: time.Second})

	first := d.Submit(ctx, NewGet("slow", "a"))
	// Wait for the worker to pick up the first request so the next fills the queue.
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, 5*time.Millisecond)
	second := d.Submit(ctx, NewGet("slow", "b"))
	third := d.Submit(ctx, NewGet("slow", "c"))

	res := third.Wait(ctx)
	require.NotNil(t, res.Err)
	assert.Equal(t, failure.DeadlineExceeded, res.Err.Kind)

	close(store.release)
	assert.Equal(t, failure.NotFound, first.Wait(ctx).Err.Kind)
	assert.Equal(t, failure.NotFound, second.Wait(ctx).Err.Kind)
}

func TestPendingWaitRepeats(t *testing.T) {
	ctx := testCtx(t)
	d := newTestDispatcher(t, storage.NewMemoryStore(), Config{})

	p := d.Submit(ctx, NewEmpty("cars"))
	a := p.Wait(ctx)
	b := p.Wait(ctx)
	assert.Equal(t, a.ID, b.ID)
}
