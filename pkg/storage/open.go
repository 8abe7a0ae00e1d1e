package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Rupali59/docbridge/pkg/failure"
	"github.com/Rupali59/docbridge/pkg/lifecycle"
)

// Options selects and configures a backend.
type Options struct {
	Backend         string
	CredentialsPath string
	ProjectID       string
	MongoDatabase   string
	BadgerDir       string

	// ConnectAttempts bounds retries of the initial connection. Zero means 4.
	ConnectAttempts int
}

// Open connects the configured backend, retrying transient connection
// failures with backoff.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := opts.ConnectAttempts
	if attempts <= 0 {
		attempts = 4
	}

	var store Store
	err := lifecycle.RetryWithBackoff(ctx, lifecycle.Backoff{Attempts: attempts, Base: 500 * time.Millisecond}, func(ctx context.Context) error {
		s, err := open(ctx, opts)
		if err != nil {
			logger.Warn("store connection failed", zap.String("backend", opts.Backend), zap.Error(err))
			return err
		}
		store = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("store connected", zap.String("backend", opts.Backend))
	return store, nil
}

func open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "badger":
		return OpenBadgerStore(opts.BadgerDir)
	case "mongodb":
		cfg, err := LoadMongoCredentials(opts.CredentialsPath, opts.MongoDatabase)
		if err != nil {
			return nil, failure.Wrap(failure.Config, err)
		}
		return NewMongoOperator(ctx, cfg)
	case "firestore":
		return NewFirestoreStore(ctx, opts.ProjectID, opts.CredentialsPath)
	}
	return nil, failure.New(failure.Config, "unknown backend %q", opts.Backend)
}
