package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Rupali59/docbridge/infrastructure/relay"
	"github.com/Rupali59/docbridge/pkg/failure"
	"github.com/Rupali59/docbridge/pkg/query"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Where       []string
	MaxEvents   int
	RelayStream string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <collection>",
		Short: "Stream changes to a query's result set",
		Long: `Stream changes to a query's result set, one JSON object per line.

Every document matching when the watch starts is reported as ADDED, then
ADDED, MODIFIED and REMOVED as the result set changes. Each object carries
"_id" and "_eventType". With --relay-stream the events are appended to a
Redis stream at REDIS_URL instead of printed.`,
		Example: `  docbridge watch cars --where 'year>1999'
  docbridge watch cars --relay-stream docbridge:cars`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := buildFilter(opts.Where, cmd, 0, 0)
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), opts.RootOptions, func(ctx context.Context, s *session) error {
				m := s.docs.QueryBuilderSync(args[0])
				if err := f.Apply(m); err != nil {
					return err
				}
				if opts.RelayStream != "" {
					return relayWatch(ctx, s, opts.RelayStream, opts.MaxEvents, m)
				}

				stream, handle, err := s.docs.Watch(ctx, m)
				if err != nil {
					return err
				}
				defer handle.Cancel()

				n := 0
				for ev, err := range stream.All(ctx) {
					if err != nil {
						if ctx.Err() != nil {
							return nil
						}
						return err
					}
					if err := writeJSON(cmd.OutOrStdout(), ev.Entity); err != nil {
						return err
					}
					n++
					if opts.MaxEvents > 0 && n >= opts.MaxEvents {
						return nil
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Where, "where", "w", nil, "condition field<op>value (repeatable)")
	cmd.Flags().IntVar(&opts.MaxEvents, "max-events", 0, "stop after this many events (0 = until interrupted)")
	cmd.Flags().StringVar(&opts.RelayStream, "relay-stream", "", "forward events to this Redis stream")

	return cmd
}

func relayWatch(ctx context.Context, s *session, stream string, maxEvents int, m *query.Model) error {
	if s.cfg.RedisURL == "" {
		return failure.New(failure.Config, "REDIS_URL is required for --relay-stream")
	}
	client, err := relay.New(s.cfg.RedisURL)
	if err != nil {
		return err
	}
	defer client.Close()

	sub, err := s.watches.Register(ctx, m)
	if err != nil {
		return err
	}
	defer sub.Cancel()

	n, err := relay.Forward(ctx, client, stream, sub, maxEvents, s.logger)
	s.logger.Info("relay stopped", zap.String("stream", stream), zap.Int("events", n))
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
