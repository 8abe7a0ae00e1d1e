package dispatch

import (
	"context"
	"errors"

	"github.com/Rupali59/docbridge/pkg/failure"
	"github.com/Rupali59/docbridge/pkg/query"
	"github.com/Rupali59/docbridge/pkg/storage"
	"github.com/Rupali59/docbridge/pkg/value"
)

// handle runs one request against the store and folds the outcome into a
// Result. Close requests never reach a worker.
func handle(ctx context.Context, store storage.Store, req *Request) Result {
	switch req.Kind {
	case KindInsert:
		id, err := store.Create(ctx, req.Collection, req.Payload)
		if err != nil {
			return Result{Err: Classify(err)}
		}
		return Result{ID: id}

	case KindEmpty:
		id, err := store.NewID(ctx, req.Collection)
		if err != nil {
			return Result{Err: Classify(err)}
		}
		return Result{ID: id}

	case KindUpsert:
		if err := store.Set(ctx, req.Collection, req.ID, req.Payload); err != nil {
			return Result{Err: Classify(err)}
		}
		return Result{OK: true}

	case KindGet:
		doc, err := store.Get(ctx, req.Collection, req.ID)
		if err != nil {
			return Result{Err: Classify(err)}
		}
		return Result{Document: doc.WithID()}

	case KindQuery:
		plan, err := query.Compile(req.Model)
		if err != nil {
			return Result{Err: failure.Wrap(failure.StoreFailure, err)}
		}
		docs, err := store.Find(ctx, plan)
		if err != nil {
			return Result{Err: Classify(err)}
		}
		out := make([]value.Map, len(docs))
		for i, d := range docs {
			out[i] = d.WithID()
		}
		return Result{Documents: out}

	case KindUpdate:
		if err := store.Update(ctx, req.Collection, req.ID, req.Payload); err != nil {
			return Result{Err: Classify(err)}
		}
		return Result{OK: true}

	case KindDelete:
		if err := store.Delete(ctx, req.Collection, req.ID); err != nil {
			return Result{Err: Classify(err)}
		}
		return Result{OK: true}

	case KindQueryBuild:
		return Result{Model: query.New(req.Collection)}
	}
	return failed(failure.StoreFailure, "unsupported request kind %s", req.Kind)
}

// Classify maps store errors onto the failure taxonomy.
func Classify(err error) *failure.Error {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return fe
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return failure.Wrap(failure.NotFound, err)
	case errors.Is(err, storage.ErrClosed):
		return failure.Wrap(failure.Closed, err)
	case errors.Is(err, context.DeadlineExceeded):
		return failure.Wrap(failure.DeadlineExceeded, err)
	}
	return failure.Wrap(failure.StoreFailure, err)
}
