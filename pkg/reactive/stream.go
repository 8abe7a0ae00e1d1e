package reactive

import (
	"context"
	"errors"
	"io"
	"iter"

	"github.com/Rupali59/docbridge/internal/watch"
	"github.com/Rupali59/docbridge/pkg/failure"
	"github.com/Rupali59/docbridge/pkg/storage"
)

// Event is a decoded watch event.
type Event[E any] struct {
	Type   storage.ChangeKind
	ID     string
	Entity E
}

// Stream delivers the events of one watch.
type Stream[E any] struct {
	sub    *watch.Subscription
	decode Decoder[E]
}

// Next returns the next event. It returns io.EOF once the watch has been
// cancelled, or the store failure that ended it. An event that fails to
// decode ends the watch: the error is returned once and the subscription is
// cancelled.
func (s *Stream[E]) Next(ctx context.Context) (Event[E], error) {
	ev, err := s.sub.Next(ctx)
	if err != nil {
		return Event[E]{}, err
	}
	entity, err := s.decode(ev.Data)
	if err != nil {
		s.sub.Cancel()
		return Event[E]{}, failure.New(failure.StoreFailure, "decode %s: %v", ev.ID, err)
	}
	return Event[E]{Type: ev.Type, ID: ev.ID, Entity: entity}, nil
}

// All ranges over the stream until it ends. A clean end after Cancel yields
// nothing further; any other error is yielded once as the final pair.
func (s *Stream[E]) All(ctx context.Context) iter.Seq2[Event[E], error] {
	return func(yield func(Event[E], error) bool) {
		for {
			ev, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Event[E]{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}
