// Package kafka publishes reconciliation events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wallet-reconciler/internal/core/domain"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

// EventReconciled is the event type header value.
const EventReconciled = "wallet.reconciled"

// Config addresses the event topic.
type Config struct {
	Brokers []string
	Topic   string
}

// Publisher sends one message per reconciled wallet, keyed by address so a wallet's
// events stay ordered within a partition.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	log      zerolog.Logger
}

// NewProducerConfig returns the sarama settings the publisher relies on.
func NewProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return cfg
}

// NewPublisher dials the brokers.
func NewPublisher(cfg Config, log zerolog.Logger) (*Publisher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewPublisherWithProducer(producer, cfg.Topic, log), nil
}

// NewPublisherWithProducer wraps an existing producer.
func NewPublisherWithProducer(producer sarama.SyncProducer, topic string, log zerolog.Logger) *Publisher {
	return &Publisher{producer: producer, topic: topic, log: log}
}

// reconciledEvent is the message body. Wallet's JSON form already omits key material.
type reconciledEvent struct {
	Type   string         `json:"type"`
	Wallet *domain.Wallet `json:"wallet"`
}

// PublishReconciled implements ports.EventPublisher. The trace context of ctx travels in
// the message headers.
func (p *Publisher) PublishReconciled(ctx context.Context, w *domain.Wallet) error {
	body, err := json.Marshal(reconciledEvent{Type: EventReconciled, Wallet: w})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	headers := HeadersCarrier{{Key: []byte("event_type"), Value: []byte(EventReconciled)}}
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	msg := &sarama.ProducerMessage{
		Topic:   p.topic,
		Key:     sarama.StringEncoder(w.Address),
		Value:   sarama.ByteEncoder(body),
		Headers: headers,
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send event for %s: %w", w.Address, err)
	}

	p.log.Debug().
		Str("address", w.Address).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("reconciled event published")
	return nil
}

// Close flushes and closes the producer.
func (p *Publisher) Close() error {
	return p.producer.Close()
}
