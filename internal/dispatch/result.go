package dispatch

import (
	"context"
	"sync"

	"github.com/Rupali59/docbridge/pkg/failure"
	"github.com/Rupali59/docbridge/pkg/query"
	"github.com/Rupali59/docbridge/pkg/value"
)

// Result is the single reply to a Request. Exactly one field is meaningful,
// chosen by the request kind, unless Err is set.
type Result struct {
	ID        string
	OK        bool
	Document  value.Map
	Documents []value.Map
	Model     *query.Model
	Err       *failure.Error
}

// AsError returns r.Err as an error, or nil.
func (r Result) AsError() error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}

func failed(k failure.Kind, format string, args ...any) Result {
	return Result{Err: failure.New(k, format, args...)}
}

// Pending is the caller's side of a submitted Request.
type Pending struct {
	reply <-chan Result
	done  chan struct{}
	once  sync.Once
	res   Result
}

func newPending(reply <-chan Result) *Pending {
	return &Pending{reply: reply, done: make(chan struct{})}
}

// Wait blocks until the result arrives or ctx is done. Once a result has
// arrived every later Wait returns it again.
func (p *Pending) Wait(ctx context.Context) Result {
	select {
	case <-p.done:
		return p.res
	default:
	}

	select {
	case r := <-p.reply:
		p.once.Do(func() {
			p.res = r
			close(p.done)
		})
		return p.res
	case <-p.done:
		return p.res
	case <-ctx.Done():
		err := ctx.Err()
		return Result{Err: failure.Wrap(failure.KindOf(err), err)}
	}
}
