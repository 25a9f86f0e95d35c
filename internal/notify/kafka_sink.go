package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"ms-ticket-transfer/internal/models"
)

// Publisher is satisfied by kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// KafkaSink publishes transfer events keyed by ticket id so that every
// event of a ticket lands on the same partition in commit order.
type KafkaSink struct {
	Publisher Publisher
	Topic     string
}

func NewKafkaSink(publisher Publisher, topic string) *KafkaSink {
	return &KafkaSink{Publisher: publisher, Topic: topic}
}

func (s *KafkaSink) Name() string {
	return "kafka"
}

func (s *KafkaSink) Deliver(ctx context.Context, event models.TransferEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal transfer event: %w", err)
	}
	return s.Publisher.Publish(ctx, s.Topic, event.TicketID, body)
}
