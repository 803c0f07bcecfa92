package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	kafkaBatchSize    = 100
	kafkaBatchTimeout = 100 * time.Millisecond
	kafkaWriteTimeout = 10 * time.Second
)

// Kafka publishes payloads to one topic with batching.
type Kafka struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

// NewKafka creates a Kafka sink.
func NewKafka(brokers []string, topic string, logger zerolog.Logger) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers provided")
	}
	l := logger.With().Str("component", "kafka-sink").Logger()
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    kafkaBatchSize,
		BatchTimeout: kafkaBatchTimeout,
		WriteTimeout: kafkaWriteTimeout,
		RequiredAcks: kafka.RequireOne,
		ErrorLogger:  kafka.LoggerFunc(l.Error().Msgf),
	}
	l.Info().Strs("brokers", brokers).Str("topic", topic).Msg("Kafka sink created")
	return &Kafka{writer: writer, logger: l}, nil
}

// Send publishes one payload.
func (k *Kafka) Send(ctx context.Context, payload []byte) error {
	return k.writer.WriteMessages(ctx, kafka.Message{Value: payload})
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
