package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
)

type ProducerConfig struct {
	Brokers []string
}

// Producer is a thin wrapper around segmentio/kafka-go Writer. The topic is
// carried per message so one producer can serve both the output stream and
// the dead-letter topic. Writes wait for full-ISR acknowledgment; the caller
// bounds the wait through ctx.
type Producer struct {
	w *kafka.Writer
}

func NewProducerFromConfig(c ProducerConfig) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Balancer:     &kafka.Hash{}, // same key -> same partition
		RequiredAcks: kafka.RequireAll,
	}

	return &Producer{w: w}
}

type Header = kafka.Header

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte, headers ...Header) error {
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: headers,
	})
}

func (p *Producer) Close() error { return p.w.Close() }
