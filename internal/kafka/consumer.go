package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"ms-ticket-transfer/internal/logger"
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler processes one message. Errors are retried with backoff unless
// they wrap ErrSkipMessage.
type Handler func(ctx context.Context, msg kafka.Message) error

type Consumer struct {
	reader MessageReader
	topic  string
	logger *logger.Logger
}

// NewConsumer creates a consumer-group reader for topic.
// GroupIDFor derives a per-topic consumer group from the base group id, so a
// rebalance on one topic never pauses readers of another.
func GroupIDFor(base, topic string) string {
	return base + "-" + topic
}

func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return NewConsumerWithReader(reader, topic, log)
}

func NewConsumerWithReader(reader MessageReader, topic string, log *logger.Logger) *Consumer {
	if log == nil {
		log = logger.Discard()
	}
	return &Consumer{reader: reader, topic: topic, logger: log}
}

// Start consumes until ctx is cancelled. Offsets are committed only after
// the handler succeeds, giving at-least-once processing.
func (c *Consumer) Start(ctx context.Context, handle Handler) error {
	c.logger.LogKafka("CONSUME", c.topic, "consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error("KAFKA", fmt.Sprintf("Error reading from %s: %v", c.topic, err))
			return err
		}

		if err := c.process(ctx, handle, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("KAFKA", fmt.Sprintf("Skipping %s offset %d: %v", c.topic, msg.Offset, err))
		}
		c.commit(ctx, msg)
	}
}

// ErrSkipMessage marks a message that can never be processed, such as
// malformed JSON. Its offset is committed so it is not redelivered.
var ErrSkipMessage = errors.New("skip message")

// process retries a failing handler until it succeeds, reports
// ErrSkipMessage, or ctx ends. The offset is not committed meanwhile.
func (c *Consumer) process(ctx context.Context, handle Handler, msg kafka.Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		err := handle(ctx, msg)
		if errors.Is(err, ErrSkipMessage) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		c.logger.Warn("KAFKA", fmt.Sprintf("Handler failed for %s offset %d, retrying in %s: %v", c.topic, msg.Offset, wait, err))
	})
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		c.logger.Warn("KAFKA", fmt.Sprintf("Failed to commit %s offset %d: %v", c.topic, msg.Offset, err))
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
