package watch

import (
	"context"
	"io"
	"strconv"
	"sync"

	"github.com/Rupali59/docbridge/internal/metrics"
	"github.com/Rupali59/docbridge/pkg/storage"
)

// buffer holds undelivered events, one slot per document id. A newer event
// for an id still waiting replaces the older one in place, so a slow reader
// sees the latest state of every changed document. When more than max ids
// are waiting the oldest slot is dropped.
type buffer struct {
	mu     sync.Mutex
	order  []string
	slots  map[string]Event
	max    int
	seq    int
	err    error
	closed bool

	signal chan struct{}
	done   chan struct{}
}

func newBuffer(max int) *buffer {
	return &buffer{
		slots:  make(map[string]Event),
		max:    max,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// put queues ev. It reports whether ev replaced a waiting event and whether
// an older slot was dropped to make room.
func (b *buffer) put(ev Event) (replaced, dropped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, false
	}

	key := ev.ID
	if key == "" || key == storage.NoID {
		// Events without an id never coalesce.
		b.seq++
		key = "\x00" + strconv.Itoa(b.seq)
	}

	if _, ok := b.slots[key]; ok {
		b.slots[key] = ev
		metrics.WatchEventsCoalesced.Inc()
		return true, false
	}

	if b.max > 0 && len(b.order) >= b.max {
		oldest := b.order[0]
		b.order = b.order[1:]
		delete(b.slots, oldest)
		metrics.WatchEventsDropped.Inc()
		dropped = true
	}
	b.order = append(b.order, key)
	b.slots[key] = ev
	b.wake()
	return false, dropped
}

func (b *buffer) wake() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// take returns the oldest waiting event. Once the buffer is finished and
// drained it returns the terminal error, or io.EOF after a clean close.
func (b *buffer) take(ctx context.Context) (Event, error) {
	for {
		b.mu.Lock()
		if len(b.order) > 0 {
			key := b.order[0]
			b.order = b.order[1:]
			ev := b.slots[key]
			delete(b.slots, key)
			b.mu.Unlock()
			return ev, nil
		}
		if b.closed {
			err := b.err
			b.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return Event{}, err
		}
		b.mu.Unlock()

		select {
		case <-b.signal:
		case <-b.done:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// fail ends the buffer with err after the waiting events are read.
func (b *buffer) fail(err error) {
	b.finish(err, false)
}

// cancel ends the buffer and discards whatever is still waiting.
func (b *buffer) cancel() {
	b.finish(nil, true)
}

func (b *buffer) finish(err error, discard bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		if discard {
			b.order = nil
			b.slots = make(map[string]Event)
		}
		return
	}
	b.closed = true
	b.err = err
	if discard {
		b.order = nil
		b.slots = make(map[string]Event)
	}
	close(b.done)
}

func (b *buffer) pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}
