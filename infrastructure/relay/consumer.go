package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Rupali59/docbridge/pkg/value"
)

// Message is a relayed watch event read back from the stream.
type Message struct {
	StreamID  string
	EventType string
	DocID     string
	Data      value.Map
}

// Consumer reads relayed events from a Redis stream in a consumer group.
type Consumer struct {
	client *Client
	stream string
	group  string
	name   string
}

// NewConsumer returns a consumer for the given stream and group.
func NewConsumer(client *Client, stream, group, consumerName string) *Consumer {
	if consumerName == "" {
		consumerName = "consumer-1"
	}
	return &Consumer{client: client, stream: stream, group: group, name: consumerName}
}

// Read blocks up to block for new messages. Caller should Ack after
// processing. A timeout with nothing to read returns no messages and no error.
func (c *Consumer) Read(ctx context.Context, count int64, block time.Duration) ([]Message, error) {
	streams, err := c.client.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Message
	for _, s := range streams {
		for _, m := range s.Messages {
			msg, err := ParseMessage(m)
			if err != nil {
				return out, err
			}
			out = append(out, msg)
		}
	}
	return out, nil
}

// Ack acknowledges a message by ID.
func (c *Consumer) Ack(ctx context.Context, id string) error {
	return c.client.rdb.XAck(ctx, c.stream, c.group, id).Err()
}

// ReclaimPending claims messages that have been pending longer than minIdle,
// left behind by consumers that stopped before acking. Returns claimed
// messages and the next start ID; keep calling until it is "0-0".
func (c *Consumer) ReclaimPending(ctx context.Context, minIdle time.Duration, startID string) ([]Message, string, error) {
	if startID == "" {
		startID = "0-0"
	}
	msgs, next, err := c.client.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  minIdle,
		Start:    startID,
	}).Result()
	if err != nil {
		return nil, "", err
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		msg, err := ParseMessage(m)
		if err != nil {
			return out, next, err
		}
		out = append(out, msg)
	}
	return out, next, nil
}

// ParseMessage extracts a relayed event from stream message values.
func ParseMessage(m redis.XMessage) (Message, error) {
	raw, _ := m.Values["payload"].(string)
	if raw == "" {
		return Message{}, fmt.Errorf("message %s: no payload", m.ID)
	}
	var data value.Map
	if err := data.UnmarshalJSON([]byte(raw)); err != nil {
		return Message{}, fmt.Errorf("message %s: %w", m.ID, err)
	}
	eventType, _ := m.Values["event_type"].(string)
	docID, _ := m.Values["id"].(string)
	return Message{StreamID: m.ID, EventType: eventType, DocID: docID, Data: data}, nil
}
