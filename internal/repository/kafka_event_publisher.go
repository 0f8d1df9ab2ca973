package repository

import (
	"context"
	"fmt"

	"AlgoArena/internal/domain/models"
	pkgkafka "AlgoArena/pkg/kafka"
)

// KafkaEventPublisher fans engine events out as Kafka records, one topic per
// event type under the configured prefix. Records are keyed by agent id so
// per-agent ordering survives partitioning.
type KafkaEventPublisher struct {
	producer    *pkgkafka.Producer
	topicPrefix string
}

func NewKafkaEventPublisher(producer *pkgkafka.Producer, topicPrefix string) *KafkaEventPublisher {
	if topicPrefix == "" {
		topicPrefix = "algoarena"
	}
	return &KafkaEventPublisher{producer: producer, topicPrefix: topicPrefix}
}

// Publish sends one event.
func (p *KafkaEventPublisher) Publish(ctx context.Context, e *models.Event) error {
	topic := fmt.Sprintf("%s.%s", p.topicPrefix, e.Type)
	var key []byte
	if e.AgentID != "" {
		key = []byte(e.AgentID)
	}
	return p.producer.Publish(ctx, topic, key, e)
}

// Close closes the underlying producer.
func (p *KafkaEventPublisher) Close() error { return p.producer.Close() }
