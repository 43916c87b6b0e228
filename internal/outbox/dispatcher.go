package outbox

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Dispatcher publishes outbox events to a single Kafka topic, keyed by
// aggregate id so events for one order stay ordered.
type Dispatcher struct {
	log      *zap.Logger
	producer Producer
	topic    string
}

func NewDispatcher(log *zap.Logger, producer Producer, topic string) *Dispatcher {
	return &Dispatcher{log: log, producer: producer, topic: topic}
}

// NewKafkaWriter returns a writer that waits for all in-sync replicas.
// The topic is set per message.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	headers := make([]kafka.Header, 0, len(event.Headers)+1)
	for k, v := range event.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	headers = append(headers, kafka.Header{Key: "event_type", Value: []byte(event.Type)})

	msg := kafka.Message{
		Topic:   d.topic,
		Key:     []byte(event.AggregateID),
		Value:   event.Payload,
		Headers: headers,
	}
	if err := d.producer.WriteMessages(ctx, msg); err != nil {
		d.log.Error("outbox dispatch failed", zap.Int64("event_id", event.ID), zap.Error(err))
		return err
	}
	d.log.Debug("outbox dispatched", zap.Int64("event_id", event.ID), zap.String("type", event.Type))
	return nil
}
