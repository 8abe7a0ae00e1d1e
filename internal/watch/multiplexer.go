// Package watch turns store change listeners into per-subscription event
// sequences with latest-wins backpressure.
package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/Rupali59/docbridge/internal/dispatch"
	"github.com/Rupali59/docbridge/internal/metrics"
	"github.com/Rupali59/docbridge/pkg/failure"
	"github.com/Rupali59/docbridge/pkg/query"
	"github.com/Rupali59/docbridge/pkg/storage"
	"github.com/Rupali59/docbridge/pkg/value"
)

// Event is one change to a watched result set. Data carries the document
// fields plus "_id" and "_eventType".
type Event struct {
	Type storage.ChangeKind
	ID   string
	Data value.Map
}

// State is the lifecycle of a subscription.
type State int32

const (
	StateUnregistered State = iota
	StateActive
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCancelled:
		return "cancelled"
	default:
		return "unregistered"
	}
}

// Handle controls a registered watch.
type Handle struct {
	state atomic.Int32
	once  sync.Once
	stop  context.CancelFunc
	buf   *buffer
	done  chan struct{}
	plan  *query.Plan
}

// Cancel stops the store listener and ends the event sequence without an
// error. Events not yet read are discarded. Calling it again does nothing.
func (h *Handle) Cancel() {
	h.once.Do(func() {
		h.state.Store(int32(StateCancelled))
		h.buf.cancel()
		h.stop()
	})
}

// Done is closed once the store listener has been released.
func (h *Handle) Done() <-chan struct{} { return h.done }

// State reports the handle's lifecycle state.
func (h *Handle) State() State { return State(h.state.Load()) }

// Query describes the watched query.
func (h *Handle) Query() string { return h.plan.String() }

// Subscription is the consumer side of a registered watch.
type Subscription struct {
	*Handle
}

// Next blocks for the next event. After Cancel it returns io.EOF; after a
// store failure it returns that failure once the buffered events are read.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	return s.buf.take(ctx)
}

// Pending returns the number of events waiting to be read.
func (s *Subscription) Pending() int { return s.buf.pending() }

// Config bounds the multiplexer.
type Config struct {
	// SetupTimeout bounds opening the store listener. Zero means 10s.
	SetupTimeout time.Duration
	// MaxActive is the number of concurrent watches. Zero means 256.
	MaxActive int
	// MaxPending is the number of waiting ids per watch. Zero means 10000.
	MaxPending int
}

// ErrTooManyWatches is returned by Register when MaxActive watches are open.
var ErrTooManyWatches = errors.New("too many active watches")

// Multiplexer opens store listeners and pumps their changes into
// subscriptions. Pumps run on an ants pool sized to MaxActive.
type Multiplexer struct {
	store  storage.Store
	cfg    Config
	logger *zap.Logger
	pool   *ants.Pool

	mu     sync.Mutex
	active map[*Handle]struct{}
	closed bool
}

// New returns a Multiplexer over store.
func New(store storage.Store, cfg Config, logger *zap.Logger) (*Multiplexer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SetupTimeout <= 0 {
		cfg.SetupTimeout = 10 * time.Second
	}
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 256
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 10000
	}
	logger = logger.With(zap.String("component", "watch"))

	pool, err := ants.NewPool(cfg.MaxActive, ants.WithNonblocking(true), ants.WithPanicHandler(func(v any) {
		logger.Error("watch pump panicked", zap.Any("panic", v))
	}))
	if err != nil {
		return nil, err
	}
	return &Multiplexer{
		store:  store,
		cfg:    cfg,
		logger: logger,
		pool:   pool,
		active: make(map[*Handle]struct{}),
	}, nil
}

// Register compiles m as a listener query and opens a store watch for it.
// The first events are ADDED for every document matching at registration,
// followed by diffs as the store reports them.
func (x *Multiplexer) Register(ctx context.Context, m *query.Model) (*Subscription, error) {
	plan, err := query.CompileListener(m)
	if err != nil {
		return nil, failure.Wrap(failure.StoreFailure, err)
	}

	x.mu.Lock()
	closed := x.closed
	x.mu.Unlock()
	if closed {
		return nil, failure.New(failure.Closed, "watch multiplexer is closed")
	}

	it, err := x.open(ctx, plan)
	if err != nil {
		return nil, err
	}

	pumpCtx, stop := context.WithCancel(context.Background())
	h := &Handle{
		stop: stop,
		buf:  newBuffer(x.cfg.MaxPending),
		done: make(chan struct{}),
		plan: plan,
	}
	h.state.Store(int32(StateActive))

	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		stop()
		it.Stop()
		return nil, failure.New(failure.Closed, "watch multiplexer is closed")
	}
	x.active[h] = struct{}{}
	x.mu.Unlock()

	if err := x.pool.Submit(func() { x.pump(pumpCtx, it, h) }); err != nil {
		x.forget(h)
		stop()
		it.Stop()
		close(h.done)
		if errors.Is(err, ants.ErrPoolOverload) {
			return nil, failure.Wrap(failure.StoreFailure, ErrTooManyWatches)
		}
		return nil, failure.Wrap(failure.Closed, err)
	}

	metrics.WatchesActive.Inc()
	x.logger.Debug("watch registered", zap.String("query", plan.String()))
	return &Subscription{Handle: h}, nil
}

// open starts the store listener, bounded by the setup timeout even when
// the driver ignores ctx.
func (x *Multiplexer) open(ctx context.Context, plan *query.Plan) (storage.ChangeIterator, error) {
	ctx, cancel := context.WithTimeout(ctx, x.cfg.SetupTimeout)
	defer cancel()

	type opened struct {
		it  storage.ChangeIterator
		err error
	}
	ch := make(chan opened, 1)
	go func() {
		it, err := x.store.Watch(ctx, plan)
		ch <- opened{it, err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			return nil, dispatch.Classify(o.err)
		}
		return o.it, nil
	case <-ctx.Done():
		go func() {
			if o := <-ch; o.it != nil {
				o.it.Stop()
			}
		}()
		err := ctx.Err()
		return nil, failure.Wrap(failure.KindOf(err), err)
	}
}

// pump moves store changes into the handle's buffer until the watch is
// cancelled or the store fails.
func (x *Multiplexer) pump(ctx context.Context, it storage.ChangeIterator, h *Handle) {
	defer func() {
		it.Stop()
		x.forget(h)
		metrics.WatchesActive.Dec()
		close(h.done)
	}()

	for {
		batch, err := it.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			x.logger.Warn("watch terminated by store", zap.String("query", h.plan.String()), zap.Error(err))
			h.buf.fail(dispatch.Classify(err))
			return
		}
		for _, c := range batch {
			ev := toEvent(c)
			if _, dropped := h.buf.put(ev); dropped {
				x.logger.Warn("watch buffer full, dropped oldest event", zap.String("query", h.plan.String()))
			}
			metrics.WatchEventsTotal.WithLabelValues(ev.Type.String()).Inc()
		}
	}
}

func toEvent(c storage.Change) Event {
	data := c.Doc.WithID()
	data["_eventType"] = value.String(c.Kind.String())
	id := c.Doc.ID
	if id == "" {
		id = storage.NoID
	}
	return Event{Type: c.Kind, ID: id, Data: data}
}

func (x *Multiplexer) forget(h *Handle) {
	x.mu.Lock()
	delete(x.active, h)
	x.mu.Unlock()
}

// Active returns the number of open watches.
func (x *Multiplexer) Active() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.active)
}

// Close cancels every active watch, waits for their pumps to finish and
// releases the pool. Later Register calls fail with Closed.
func (x *Multiplexer) Close(ctx context.Context) error {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return nil
	}
	x.closed = true
	handles := make([]*Handle, 0, len(x.active))
	for h := range x.active {
		handles = append(handles, h)
	}
	x.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return x.pool.ReleaseTimeout(3 * time.Second)
}
