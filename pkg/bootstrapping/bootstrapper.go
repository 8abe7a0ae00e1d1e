package bootstrapping

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// Bootstrapper runs ordered startup hooks and hands back a context that is
// cancelled on SIGINT or SIGTERM. Cleanup registered with OnShutdown runs in
// reverse order from Shutdown.
type Bootstrapper struct {
	logger   *zap.Logger
	hooks    []func(ctx context.Context) error
	cleanups []func(ctx context.Context) error
}

// NewBootstrapper creates a new Bootstrapper instance.
func NewBootstrapper(logger *zap.Logger) *Bootstrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bootstrapper{logger: logger}
}

// RegisterHook adds an initialization hook to the bootstrapping sequence.
func (b *Bootstrapper) RegisterHook(hook func(ctx context.Context) error) {
	b.hooks = append(b.hooks, hook)
}

// OnShutdown registers cleanup for a resource a hook acquired.
func (b *Bootstrapper) OnShutdown(fn func(ctx context.Context) error) {
	b.cleanups = append(b.cleanups, fn)
}

// Run executes all registered hooks in order. The first failing hook stops the
// sequence, runs the cleanups registered so far and is returned. On success
// the returned context is cancelled when a shutdown signal arrives.
func (b *Bootstrapper) Run(ctx context.Context) (context.Context, context.CancelFunc, error) {
	b.logger.Debug("bootstrapping")

	for i, hook := range b.hooks {
		b.logger.Debug(fmt.Sprintf("executing boot hook %d", i))
		if err := hook(ctx); err != nil {
			b.Shutdown(context.Background())
			return nil, nil, fmt.Errorf("boot hook %d: %w", i, err)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		b.logger.Debug("shutdown signal received or context done")
	}()
	return ctx, stop, nil
}

// Shutdown runs the registered cleanups newest first and logs their errors.
func (b *Bootstrapper) Shutdown(ctx context.Context) {
	for i := len(b.cleanups) - 1; i >= 0; i-- {
		if err := b.cleanups[i](ctx); err != nil {
			b.logger.Warn("shutdown step failed", zap.Int("step", i), zap.Error(err))
		}
	}
	b.cleanups = nil
}

// Logger returns the bootstrapper's logger.
func (b *Bootstrapper) Logger() *zap.Logger {
	return b.logger
}
