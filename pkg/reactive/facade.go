// Package reactive is the asynchronous API over a document store: every
// operation returns immediately with a Future, and watches return a Stream.
package reactive

import (
	"context"

	"github.com/Rupali59/docbridge/internal/dispatch"
	"github.com/Rupali59/docbridge/internal/watch"
	"github.com/Rupali59/docbridge/pkg/query"
	"github.com/Rupali59/docbridge/pkg/value"
)

// Decoder turns a document map (including "_id", and "_eventType" for watch
// events) into the caller's entity type.
type Decoder[E any] func(value.Map) (E, error)

// JSONDecoder decodes documents into E through its JSON tags.
func JSONDecoder[E any]() Decoder[E] {
	return func(m value.Map) (E, error) {
		var e E
		err := value.Decode(m, &e)
		return e, err
	}
}

// MapDecoder hands documents through unchanged.
func MapDecoder(m value.Map) (value.Map, error) { return m, nil }

// Facade forwards calls to a Dispatcher and a Multiplexer.
type Facade[E any] struct {
	dispatcher *dispatch.Dispatcher
	watches    *watch.Multiplexer
	decode     Decoder[E]
}

// New returns a facade decoding documents with decode.
func New[E any](d *dispatch.Dispatcher, w *watch.Multiplexer, decode Decoder[E]) *Facade[E] {
	return &Facade[E]{dispatcher: d, watches: w, decode: decode}
}

// Insert creates a document under a generated id.
func (f *Facade[E]) Insert(ctx context.Context, collection string, doc value.Map) *Future[string] {
	return resolveWith(f.dispatcher.Submit(ctx, dispatch.NewInsert(collection, doc)), resultID)
}

// Empty reserves a new id without writing a document.
func (f *Facade[E]) Empty(ctx context.Context, collection string) *Future[string] {
	return resolveWith(f.dispatcher.Submit(ctx, dispatch.NewEmpty(collection)), resultID)
}

// Upsert writes doc at id, replacing whatever was there.
func (f *Facade[E]) Upsert(ctx context.Context, collection, id string, doc value.Map) *Future[bool] {
	return resolveWith(f.dispatcher.Submit(ctx, dispatch.NewUpsert(collection, id, doc)), resultOK)
}

// Get reads one document. A missing id fails with failure.ErrNotFound.
func (f *Facade[E]) Get(ctx context.Context, collection, id string) *Future[E] {
	return resolveWith(f.dispatcher.Submit(ctx, dispatch.NewGet(collection, id)), func(r dispatch.Result) (E, error) {
		return f.decode(r.Document)
	})
}

// Query runs m. The model is frozen once submitted.
func (f *Facade[E]) Query(ctx context.Context, m *query.Model) *Future[[]E] {
	return resolveWith(f.dispatcher.Submit(ctx, dispatch.NewQuery(m)), func(r dispatch.Result) ([]E, error) {
		out := make([]E, 0, len(r.Documents))
		for _, doc := range r.Documents {
			e, err := f.decode(doc)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	})
}

// Update replaces an existing document. A missing id fails with
// failure.ErrNotFound.
func (f *Facade[E]) Update(ctx context.Context, collection, id string, doc value.Map) *Future[bool] {
	return resolveWith(f.dispatcher.Submit(ctx, dispatch.NewUpdate(collection, id, doc)), resultOK)
}

// Delete removes a document. Deleting a missing id succeeds.
func (f *Facade[E]) Delete(ctx context.Context, collection, id string) *Future[bool] {
	return resolveWith(f.dispatcher.Submit(ctx, dispatch.NewDelete(collection, id)), resultOK)
}

// QueryBuilder returns a fresh query model through the worker pool.
func (f *Facade[E]) QueryBuilder(ctx context.Context, collection string) *Future[*query.Model] {
	return resolveWith(f.dispatcher.Submit(ctx, dispatch.NewQueryBuild(collection)), func(r dispatch.Result) (*query.Model, error) {
		return r.Model, nil
	})
}

// QueryBuilderSync returns a fresh query model directly.
func (f *Facade[E]) QueryBuilderSync(collection string) *query.Model {
	return query.New(collection)
}

// Watch registers a listener for m. Cancel the returned handle to stop it.
func (f *Facade[E]) Watch(ctx context.Context, m *query.Model) (*Stream[E], *watch.Handle, error) {
	sub, err := f.watches.Register(ctx, m)
	if err != nil {
		return nil, nil, err
	}
	return &Stream[E]{sub: sub, decode: f.decode}, sub.Handle, nil
}

// Close cancels all watches and shuts the dispatcher down.
func (f *Facade[E]) Close(ctx context.Context) *Future[bool] {
	if err := f.watches.Close(ctx); err != nil {
		return completed(false, err)
	}
	return resolveWith(f.dispatcher.Submit(ctx, dispatch.NewClose()), resultOK)
}

func resultID(r dispatch.Result) (string, error) { return r.ID, nil }
func resultOK(r dispatch.Result) (bool, error)   { return r.OK, nil }
