// Package queue provides the durable buffer between the HTTP edge and the
// batch writer in cloud deployments: a main stream, a dead-letter stream,
// and the writer loop that drains them into the event store.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentlensai/agentlens/pkg/models"
)

// Defaults, env-overridable through config.
const (
	DefaultBackpressureThreshold = 100_000
	DefaultBatchSize             = 500
	DefaultMaxRetries            = 3
	ConsumerGroup                = "ingestion_workers"
)

// Message is one queued ingest event plus delivery bookkeeping.
type Message struct {
	Offset   string        `json:"-"`
	Attempts int           `json:"attempts"`
	TenantID string        `json:"tenantId"`
	Event    *models.Event `json:"event"`
}

// DLQEntry wraps a message moved to the dead-letter stream.
type DLQEntry struct {
	Reason         string    `json:"reason"`
	OriginalOffset string    `json:"originalOffset"`
	FailedAt       time.Time `json:"failedAt"`
	Message        *Message  `json:"message"`
}

// Queue is the stream contract. Offsets are monotonically increasing within
// one queue instance.
type Queue interface {
	// Publish appends one message to the main stream and returns its offset.
	Publish(ctx context.Context, msg *Message) (string, error)

	// PublishBatch appends messages pipelined; all-or-nothing is not
	// guaranteed, matching stream semantics.
	PublishBatch(ctx context.Context, msgs []*Message) error

	// ReadBatch returns up to count pending messages for the consumer,
	// blocking up to block when none are available.
	ReadBatch(ctx context.Context, consumer string, count int, block time.Duration) ([]*Message, error)

	// Ack marks a message as processed.
	Ack(ctx context.Context, offset string) error

	// Requeue re-appends the message with its attempt counter incremented
	// and acks the original delivery.
	Requeue(ctx context.Context, msg *Message) error

	// MoveToDLQ appends the message to the dead-letter stream with a reason
	// and acks the original delivery.
	MoveToDLQ(ctx context.Context, msg *Message, reason string) error

	// Length returns the main stream length. Drives backpressure.
	Length(ctx context.Context) (int64, error)

	// DLQLength returns the dead-letter stream length.
	DLQLength(ctx context.Context) (int64, error)

	Close() error
}

func encodeMessage(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, models.WrapError(models.KindStorage, "encode queue message", err)
	}
	return data, nil
}

func encodeDLQEntry(entry *DLQEntry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, models.WrapError(models.KindStorage, "encode dlq entry", err)
	}
	return data, nil
}

func decodeMessage(offset string, data []byte) (*Message, error) {
	msg := &Message{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, models.WrapError(models.KindCorruption, "decode queue message", err)
	}
	msg.Offset = offset
	return msg, nil
}
