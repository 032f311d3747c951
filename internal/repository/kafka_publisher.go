package repository

import (
	"context"

	"SignalFuse/internal/domain/models"
	pkgkafka "SignalFuse/pkg/kafka"
)

// KafkaPublisher implements EventPublisher. Messages are keyed by symbol so
// one symbol's events stay ordered within a partition.
type KafkaPublisher struct {
	producer       *pkgkafka.Producer
	decisionsTopic string
	tradesTopic    string
}

func NewKafkaPublisher(producer *pkgkafka.Producer, decisionsTopic, tradesTopic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, decisionsTopic: decisionsTopic, tradesTopic: tradesTopic}
}

func (p *KafkaPublisher) PublishDecision(ctx context.Context, rec *models.DecisionRecord) error {
	return p.producer.Publish(ctx, p.decisionsTopic, []byte(rec.Symbol), rec)
}

func (p *KafkaPublisher) PublishClosedTrade(ctx context.Context, t *models.ClosedTrade) error {
	return p.producer.Publish(ctx, p.tradesTopic, []byte(t.Symbol), t)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NopPublisher drops events; used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishDecision(context.Context, *models.DecisionRecord) error { return nil }
func (NopPublisher) PublishClosedTrade(context.Context, *models.ClosedTrade) error { return nil }
func (NopPublisher) Close() error                                                  { return nil }
