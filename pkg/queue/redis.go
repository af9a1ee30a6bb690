package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentlensai/agentlens/pkg/models"
)

// Stream keys.
const (
	mainStream = "agentlens:ingest:main"
	dlqStream  = "agentlens:ingest:dlq"
)

// Redis is the production queue over Redis streams. One consumer group on
// the main stream; the DLQ is a plain stream read by operators.
type Redis struct {
	client *redis.Client
}

// NewRedis creates the queue and its consumer group. An already-existing
// group is not an error.
func NewRedis(ctx context.Context, client *redis.Client) (*Redis, error) {
	err := client.XGroupCreateMkStream(ctx, mainStream, ConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, models.WrapError(models.KindDependency, "create consumer group", err)
	}
	return &Redis{client: client}, nil
}

// Publish appends one message to the main stream.
func (q *Redis) Publish(ctx context.Context, msg *Message) (string, error) {
	data, err := encodeMessage(msg)
	if err != nil {
		return "", err
	}
	offset, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: mainStream,
		Values: map[string]any{"data": data},
	}).Result()
	if err != nil {
		return "", models.WrapError(models.KindDependency, "publish to stream", err)
	}
	return offset, nil
}

// PublishBatch appends messages with one pipelined round trip.
func (q *Redis) PublishBatch(ctx context.Context, msgs []*Message) error {
	pipe := q.client.Pipeline()
	for _, msg := range msgs {
		data, err := encodeMessage(msg)
		if err != nil {
			return err
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: mainStream,
			Values: map[string]any{"data": data},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return models.WrapError(models.KindDependency, "publish batch to stream", err)
	}
	return nil
}

// ReadBatch reads up to count pending messages for the consumer.
func (q *Redis) ReadBatch(ctx context.Context, consumer string, count int, block time.Duration) ([]*Message, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: consumer,
		Streams:  []string{mainStream, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, models.WrapError(models.KindDependency, "read from stream", err)
	}

	msgs := make([]*Message, 0, count)
	for _, stream := range streams {
		for _, entry := range stream.Messages {
			raw, ok := entry.Values["data"].(string)
			if !ok {
				// Malformed entry; ack so it never blocks the group.
				_ = q.Ack(ctx, entry.ID)
				continue
			}
			msg, err := decodeMessage(entry.ID, []byte(raw))
			if err != nil {
				_ = q.Ack(ctx, entry.ID)
				continue
			}
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

// Ack marks a delivery as processed.
func (q *Redis) Ack(ctx context.Context, offset string) error {
	if err := q.client.XAck(ctx, mainStream, ConsumerGroup, offset).Err(); err != nil {
		return models.WrapError(models.KindDependency, "ack message", err)
	}
	return nil
}

// Requeue re-appends the message with attempts incremented and acks the
// original delivery.
func (q *Redis) Requeue(ctx context.Context, msg *Message) error {
	retry := *msg
	retry.Attempts++
	if _, err := q.Publish(ctx, &retry); err != nil {
		return err
	}
	return q.Ack(ctx, msg.Offset)
}

// MoveToDLQ appends the message to the dead-letter stream and acks the
// original delivery.
func (q *Redis) MoveToDLQ(ctx context.Context, msg *Message, reason string) error {
	entry := DLQEntry{
		Reason:         reason,
		OriginalOffset: msg.Offset,
		FailedAt:       time.Now().UTC(),
		Message:        msg,
	}
	data, err := encodeDLQEntry(&entry)
	if err != nil {
		return err
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: dlqStream,
		Values: map[string]any{"data": data},
	}).Err()
	if err != nil {
		return models.WrapError(models.KindDependency, "publish to dlq", err)
	}
	return q.Ack(ctx, msg.Offset)
}

// Length returns the main stream length.
func (q *Redis) Length(ctx context.Context) (int64, error) {
	n, err := q.client.XLen(ctx, mainStream).Result()
	if err != nil {
		return 0, models.WrapError(models.KindDependency, "stream length", err)
	}
	return n, nil
}

// DLQLength returns the dead-letter stream length.
func (q *Redis) DLQLength(ctx context.Context) (int64, error) {
	n, err := q.client.XLen(ctx, dlqStream).Result()
	if err != nil {
		return 0, models.WrapError(models.KindDependency, "dlq length", err)
	}
	return n, nil
}

// Close releases the underlying client.
func (q *Redis) Close() error { return q.client.Close() }
