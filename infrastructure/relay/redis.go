package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Rupali59/docbridge/internal/watch"
)

// Client wraps Redis for watch event streams (XADD, consumer groups, XACK).
type Client struct {
	rdb *redis.Client
}

// New creates a Redis client for the given URL (e.g. redis://localhost:6379).
func New(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// EnsureConsumerGroup creates the stream and consumer group if they don't exist.
func (c *Client) EnsureConsumerGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Publish appends one watch event to the stream. Returns the message ID.
func (c *Client) Publish(ctx context.Context, stream string, ev watch.Event) (string, error) {
	body, err := json.Marshal(ev.Data)
	if err != nil {
		return "", err
	}
	return c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"event_type": ev.Type.String(),
			"id":         ev.ID,
			"payload":    string(body),
		},
	}).Result()
}

// Source yields watch events; *watch.Subscription satisfies it.
type Source interface {
	Next(ctx context.Context) (watch.Event, error)
}

// Publisher appends events to a stream; *Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, stream string, ev watch.Event) (string, error)
}

// Forward publishes events from src to stream until the watch ends or ctx
// is done. With limit > 0 it stops after limit events. A clean end of the
// watch returns nil.
func Forward(ctx context.Context, pub Publisher, stream string, src Source, limit int, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := 0
	for limit <= 0 || n < limit {
		ev, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		id, err := pub.Publish(ctx, stream, ev)
		if err != nil {
			return n, fmt.Errorf("failed to relay event for %s: %w", ev.ID, err)
		}
		n++
		logger.Debug("event relayed",
			zap.String("stream", stream),
			zap.String("message_id", id),
			zap.String("doc_id", ev.ID),
			zap.String("event_type", ev.Type.String()),
		)
	}
	return n, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// StreamExists returns true if the stream exists.
func (c *Client) StreamExists(ctx context.Context, stream string) (bool, error) {
	n, err := c.rdb.Exists(ctx, stream).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
