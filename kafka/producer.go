package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"checkout-svc/config"
	"checkout-svc/middleware"
	"checkout-svc/models"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func InitProducer(cfg config.KafkaConfig, logger *zap.Logger) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Brokers))
	return producer, nil
}

// Publisher sends checkout events. Messages are keyed so that every event
// for one order (or one phone) lands on the same partition.
type Publisher struct {
	producer sarama.SyncProducer
	topics   config.KafkaConfig
	logger   *zap.Logger
}

func NewPublisher(producer sarama.SyncProducer, topics config.KafkaConfig, logger *zap.Logger) *Publisher {
	return &Publisher{producer: producer, topics: topics, logger: logger}
}

func (p *Publisher) PublishOrderEvent(ctx context.Context, ev models.OrderEvent) error {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	return p.publish(ctx, p.topics.OrderTopic, ev.OrderID, ev)
}

func (p *Publisher) PublishNotification(ctx context.Context, n models.OTPNotification) error {
	if n.EventID == "" {
		n.EventID = uuid.NewString()
	}
	n.EventType = models.EventOTPRequested
	return p.publish(ctx, p.topics.NotificationTopic, n.Phone, n)
}

func (p *Publisher) PublishAlert(ctx context.Context, a models.ReconciliationAlert) error {
	if a.EventID == "" {
		a.EventID = uuid.NewString()
	}
	if a.OccurredAt.IsZero() {
		a.OccurredAt = time.Now().UTC()
	}
	a.EventType = models.EventReconciliationAlert
	key := a.GatewayOrderRef
	if key == "" {
		key = a.OrderID
	}
	return p.publish(ctx, p.topics.AlertTopic, key, a)
}

func (p *Publisher) publish(ctx context.Context, topic, key string, event any) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(eventJSON),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	// Inject trace context into Kafka message headers
	carrier := make(saramaHeaderCarrier, 0)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	msg.Headers = []sarama.RecordHeader(carrier)

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		middleware.RecordEventPublished(topic, "error")
		return fmt.Errorf("failed to send message to %s: %w", topic, err)
	}
	middleware.RecordEventPublished(topic, "ok")

	p.logger.Info("Event published",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
