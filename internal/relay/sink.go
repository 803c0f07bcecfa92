// Package relay holds the downstream sinks subscriber modules write to: a
// generic chat webhook and a Kafka topic.
package relay

import "context"

// Sink delivers one payload to a downstream consumer.
type Sink interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}
