package reactive

import (
	"context"

	"github.com/Rupali59/docbridge/internal/dispatch"
	"github.com/Rupali59/docbridge/pkg/failure"
)

// Future is the eventual result of one dispatched operation.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// resolveWith waits for p in the background and converts its result.
func resolveWith[T any](p *dispatch.Pending, convert func(dispatch.Result) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		// Every submitted request gets exactly one reply, bounded by the
		// dispatcher's execution ceiling.
		res := p.Wait(context.Background())
		if res.Err != nil {
			f.err = res.Err
			return
		}
		f.val, f.err = convert(res)
	}()
	return f
}

func completed[T any](v T, err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), val: v, err: err}
	close(f.done)
	return f
}

// Await blocks until the operation completes or ctx is done. Errors are
// *failure.Error values; use errors.Is with the failure sentinels.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		err := ctx.Err()
		return zero, failure.Wrap(failure.KindOf(err), err)
	}
}

// Done is closed when the operation has completed.
func (f *Future[T]) Done() <-chan struct{} { return f.done }
