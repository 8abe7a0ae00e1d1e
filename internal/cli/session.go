package cli

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Rupali59/docbridge/internal/dispatch"
	"github.com/Rupali59/docbridge/internal/watch"
	"github.com/Rupali59/docbridge/pkg/bootstrapping"
	"github.com/Rupali59/docbridge/pkg/reactive"
	"github.com/Rupali59/docbridge/pkg/storage"
	"github.com/Rupali59/docbridge/pkg/value"
)

// session is one connected store with its worker pool and watch
// multiplexer, built by the bootstrapper's hooks.
type session struct {
	cfg     *bootstrapping.Config
	logger  *zap.Logger
	boot    *bootstrapping.Bootstrapper
	store   storage.Store
	watches *watch.Multiplexer
	docs    *reactive.Facade[value.Map]
}

// openSession loads configuration, connects the store and starts the pool.
// The returned context is cancelled on SIGINT or SIGTERM; call close when
// done.
func openSession(ctx context.Context, opts *RootOptions) (*session, context.Context, error) {
	cfg, err := bootstrapping.LoadConfig(opts.EnvFile)
	if err != nil {
		return nil, nil, err
	}
	if opts.Debug {
		cfg.Debug = true
	}
	logger := bootstrapping.NewLogger(cfg.IsProduction(), cfg.Debug)

	s := &session{cfg: cfg, logger: logger, boot: bootstrapping.NewBootstrapper(logger)}
	s.boot.RegisterHook(s.openStore)
	s.boot.RegisterHook(s.startPool)

	runCtx, stop, err := s.boot.Run(ctx)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	s.boot.OnShutdown(func(context.Context) error { stop(); return nil })
	return s, runCtx, nil
}

func (s *session) openStore(ctx context.Context) error {
	store, err := storage.Open(ctx, storage.Options{
		Backend:         s.cfg.Backend,
		CredentialsPath: s.cfg.CredentialsPath,
		ProjectID:       s.cfg.FirestoreProjectID,
		MongoDatabase:   s.cfg.MongoDatabase,
		BadgerDir:       s.cfg.BadgerDir,
	}, s.logger)
	if err != nil {
		return err
	}
	s.store = store
	// Once the facade exists it owns the store and closes it.
	s.boot.OnShutdown(func(ctx context.Context) error {
		if s.docs != nil {
			return nil
		}
		return store.Close(ctx)
	})
	return nil
}

func (s *session) startPool(context.Context) error {
	poolSize := s.cfg.PoolSize
	if s.cfg.PoolSizeDefaulted {
		poolSize = 0
	}
	d := dispatch.New(s.store, dispatch.Config{
		PoolSize:         poolSize,
		MaxExecutionTime: s.cfg.MaxExecutionTime,
		SendTimeout:      s.cfg.SendTimeout,
	}, s.logger)
	d.Start()

	w, err := watch.New(s.store, watch.Config{
		SetupTimeout: s.cfg.WatchSetupTimeout,
		MaxActive:    s.cfg.WatchMaxActive,
		MaxPending:   s.cfg.WatchMaxPending,
	}, s.logger)
	if err != nil {
		_ = d.Close(context.Background())
		return err
	}
	s.watches = w
	s.docs = reactive.New(d, w, reactive.MapDecoder)
	s.boot.OnShutdown(func(ctx context.Context) error {
		_, err := s.docs.Close(ctx).Await(ctx)
		return err
	})
	return nil
}

// close shuts everything down within a fixed budget.
func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.boot.Shutdown(ctx)
	_ = s.logger.Sync()
}

// withSession wraps a command body with session setup and teardown.
func withSession(ctx context.Context, opts *RootOptions, fn func(ctx context.Context, s *session) error) error {
	s, runCtx, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(runCtx, s)
}
