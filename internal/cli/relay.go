package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Rupali59/docbridge/infrastructure/relay"
	"github.com/Rupali59/docbridge/pkg/bootstrapping"
)

// RelayOptions holds flags for the relay tail command.
type RelayOptions struct {
	*RootOptions
	Group       string
	Consumer    string
	Count       int64
	Block       time.Duration
	ReclaimIdle time.Duration
	Max         int
}

// NewRelayCommand creates the relay command group.
func NewRelayCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Work with watch events relayed into Redis streams",
	}
	cmd.AddCommand(newRelayTailCommand(rootOpts))
	return cmd
}

func newRelayTailCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RelayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tail <stream>",
		Short: "Read relayed events through a consumer group and print them",
		Long: `Read relayed events through a consumer group, print each as a JSON line
and acknowledge it. With --reclaim-idle, messages left pending by stopped
consumers for at least that long are claimed and printed first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := bootstrapping.NewConfigResolver(opts.EnvFile)
			if err != nil {
				return err
			}
			redisURL, err := r.Require("REDIS_URL")
			if err != nil {
				return err
			}
			client, err := relay.New(redisURL)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx := cmd.Context()
			stream := args[0]
			if err := reportMissingStream(ctx, cmd.ErrOrStderr(), client, stream); err != nil {
				return err
			}
			if err := client.EnsureConsumerGroup(ctx, stream, opts.Group); err != nil {
				return err
			}
			consumer := relay.NewConsumer(client, stream, opts.Group, opts.Consumer)
			return tail(ctx, cmd, consumer, opts)
		},
	}

	host, _ := os.Hostname()
	cmd.Flags().StringVar(&opts.Group, "group", "docbridge", "consumer group")
	cmd.Flags().StringVar(&opts.Consumer, "consumer", host, "consumer name within the group")
	cmd.Flags().Int64Var(&opts.Count, "count", 10, "messages per read")
	cmd.Flags().DurationVar(&opts.Block, "block", 5*time.Second, "how long one read waits for messages")
	cmd.Flags().DurationVar(&opts.ReclaimIdle, "reclaim-idle", 0, "claim messages pending at least this long before tailing")
	cmd.Flags().IntVar(&opts.Max, "max", 0, "stop after this many messages (0 = until interrupted)")

	return cmd
}

type streamChecker interface {
	StreamExists(ctx context.Context, stream string) (bool, error)
}

// reportMissingStream tells the user when nothing has been relayed to stream
// yet. Tailing still proceeds; the group is created with the stream.
func reportMissingStream(ctx context.Context, w io.Writer, c streamChecker, stream string) error {
	ok, err := c.StreamExists(ctx, stream)
	if err != nil {
		return fmt.Errorf("check stream %s: %w", stream, err)
	}
	if !ok {
		_, _ = fmt.Fprintf(w, "stream %s does not exist yet, waiting for relayed events\n", stream)
	}
	return nil
}

func tail(ctx context.Context, cmd *cobra.Command, c *relay.Consumer, opts *RelayOptions) error {
	seen := 0
	emit := func(msgs []relay.Message) (bool, error) {
		for _, m := range msgs {
			if err := writeJSON(cmd.OutOrStdout(), m.Data); err != nil {
				return false, err
			}
			if err := c.Ack(ctx, m.StreamID); err != nil {
				return false, fmt.Errorf("ack %s: %w", m.StreamID, err)
			}
			seen++
			if opts.Max > 0 && seen >= opts.Max {
				return true, nil
			}
		}
		return false, nil
	}

	if opts.ReclaimIdle > 0 {
		start := "0-0"
		for {
			msgs, next, err := c.ReclaimPending(ctx, opts.ReclaimIdle, start)
			if err != nil {
				return err
			}
			if done, err := emit(msgs); done || err != nil {
				return err
			}
			if next == "0-0" || next == "" {
				break
			}
			start = next
		}
	}

	for ctx.Err() == nil {
		msgs, err := c.Read(ctx, opts.Count, opts.Block)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if done, err := emit(msgs); done || err != nil {
			return err
		}
	}
	return nil
}
