package dispatch

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Rupali59/docbridge/internal/metrics"
	"github.com/Rupali59/docbridge/pkg/failure"
	"github.com/Rupali59/docbridge/pkg/storage"
)

// Config sizes the pool and bounds how long callers and workers wait.
type Config struct {
	// PoolSize is the number of workers. Zero means 2 x NumCPU.
	PoolSize int
	// MaxExecutionTime is the per-request ceiling. Zero means 30s.
	MaxExecutionTime time.Duration
	// SendTimeout bounds the hand-off of a request to a worker. Zero means 59s.
	SendTimeout time.Duration
	// QueueSize is the number of requests that may wait for a worker.
	// Zero means PoolSize.
	QueueSize int
}

// Dispatcher runs store operations on a fixed set of workers fed by one
// queue. Each worker handles one request at a time; a request that exceeds
// the execution ceiling fails with DeadlineExceeded and its worker is
// replaced, leaving the abandoned call to finish in the background.
type Dispatcher struct {
	store  storage.Store
	cfg    Config
	logger *zap.Logger

	queue chan *Request

	mu     sync.RWMutex
	closed bool

	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error
	workers   sync.WaitGroup
	nextID    int
	idMu      sync.Mutex
}

// New returns a Dispatcher over store. Workers start on Start or on the first
// Submit.
func New(store storage.Store, cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 2 * runtime.NumCPU()
		logger.Info("worker pool size not configured, using default", zap.Int("pool_size", cfg.PoolSize))
	}
	if cfg.MaxExecutionTime <= 0 {
		cfg.MaxExecutionTime = 30 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 59 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.PoolSize
	}
	return &Dispatcher{
		store:  store,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "dispatcher")),
		queue:  make(chan *Request, cfg.QueueSize),
	}
}

// Start launches the workers. Later calls do nothing.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.mu.RLock()
		defer d.mu.RUnlock()
		if d.closed {
			return
		}
		for i := 0; i < d.cfg.PoolSize; i++ {
			d.spawn()
		}
		d.logger.Info("worker pool started", zap.Int("workers", d.cfg.PoolSize))
	})
}

// PoolSize returns the configured number of workers.
func (d *Dispatcher) PoolSize() int { return d.cfg.PoolSize }

// Submit hands req to a worker and returns its pending result. The caller
// blocks only until a worker slot accepts the request, bounded by the send
// timeout and ctx. Requests after Close resolve immediately with Closed.
func (d *Dispatcher) Submit(ctx context.Context, req *Request) *Pending {
	req.prepare()
	p := newPending(req.reply)

	if req.Kind == KindClose {
		go func() {
			if err := d.Close(context.Background()); err != nil {
				req.reply <- Result{Err: failure.Wrap(failure.StoreFailure, err)}
				return
			}
			req.reply <- Result{OK: true}
		}()
		return p
	}

	d.Start()

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		req.reply <- failed(failure.Closed, "dispatcher is closed")
		return p
	}

	timer := time.NewTimer(d.cfg.SendTimeout)
	defer timer.Stop()

	select {
	case d.queue <- req:
		metrics.QueueDepth.Inc()
	case <-timer.C:
		d.resolve(req, failed(failure.DeadlineExceeded, "no worker accepted %s on %s within %s", req.Kind, req.target(), d.cfg.SendTimeout), 0)
	case <-ctx.Done():
		err := ctx.Err()
		req.reply <- Result{Err: failure.Wrap(failure.KindOf(err), err)}
	}
	return p
}

// Do submits req and waits for its result.
func (d *Dispatcher) Do(ctx context.Context, req *Request) Result {
	return d.Submit(ctx, req).Wait(ctx)
}

// Close stops intake, lets the workers drain queued requests and then closes
// the store. It is safe to call more than once; ctx bounds the drain.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()

		drained := make(chan struct{})
		go func() {
			d.workers.Wait()
			close(drained)
		}()
		select {
		case <-drained:
			d.logger.Info("worker pool drained")
		case <-ctx.Done():
			d.closeErr = fmt.Errorf("drain interrupted: %w", ctx.Err())
			d.logger.Warn("worker pool drain interrupted", zap.Error(ctx.Err()))
		}

		if err := d.store.Close(ctx); err != nil && d.closeErr == nil {
			d.closeErr = fmt.Errorf("failed to close store: %w", err)
		}
	})
	return d.closeErr
}

func (d *Dispatcher) spawn() {
	d.idMu.Lock()
	id := d.nextID
	d.nextID++
	d.idMu.Unlock()

	d.workers.Add(1)
	go d.work(id)
}

func (d *Dispatcher) work(id int) {
	defer d.workers.Done()
	for req := range d.queue {
		metrics.QueueDepth.Dec()
		if !d.execute(req) {
			metrics.WorkersRetired.Inc()
			d.logger.Warn("retiring worker after execution ceiling",
				zap.Int("worker", id),
				zap.String("operation", req.Kind.String()),
				zap.String("target", req.target()),
			)
			d.spawn()
			return
		}
	}
}

// execute runs req under the execution ceiling. It reports false when the
// ceiling fired and the handler is still running.
func (d *Dispatcher) execute(req *Request) bool {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.MaxExecutionTime)
	defer cancel()

	done := make(chan Result, 1)
	go func() { done <- d.run(ctx, req) }()

	select {
	case res := <-done:
		d.resolve(req, res, time.Since(start))
		return true
	case <-ctx.Done():
		d.resolve(req, failed(failure.DeadlineExceeded, "%s on %s exceeded %s", req.Kind, req.target(), d.cfg.MaxExecutionTime), time.Since(start))
		return false
	}
}

// run calls the handler, turning a panic into a StoreFailure.
func (d *Dispatcher) run(ctx context.Context, req *Request) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("handler panicked",
				zap.String("operation", req.Kind.String()),
				zap.String("target", req.target()),
				zap.Any("panic", p),
			)
			res = failed(failure.StoreFailure, "%s on %s panicked: %v", req.Kind, req.target(), p)
		}
	}()
	return handle(ctx, d.store, req)
}

// resolve records the outcome and writes the single reply.
func (d *Dispatcher) resolve(req *Request, res Result, elapsed time.Duration) {
	status := "ok"
	if res.Err != nil {
		status = res.Err.Kind.String()
		if res.Err.Kind != failure.NotFound {
			d.logger.Error("operation failed",
				zap.String("operation", req.Kind.String()),
				zap.String("target", req.target()),
				zap.Int("code", res.Err.Code()),
				zap.Error(res.Err),
			)
		}
	}
	metrics.OperationsTotal.WithLabelValues(req.Kind.String(), status).Inc()
	if elapsed > 0 {
		metrics.OperationDuration.WithLabelValues(req.Kind.String()).Observe(elapsed.Seconds())
	}
	req.reply <- res
}
