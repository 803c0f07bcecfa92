// Package relay forwards every decoded message, parse errors included, to a
// Kafka topic for downstream consumers.
package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/KockaAdmiralac/kockalogger/internal/models"
	"github.com/KockaAdmiralac/kockalogger/internal/modules"
	sinks "github.com/KockaAdmiralac/kockalogger/internal/relay"
)

func init() {
	modules.Register("relay", func() modules.Module { return &Relay{} })
}

type relayConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Relay publishes the full message stream.
type Relay struct {
	cfg    relayConfig
	sink   sinks.Sink
	logger zerolog.Logger
}

func (r *Relay) Name() string {
	return "relay"
}

func (r *Relay) Setup(env *modules.Env) error {
	if err := env.Config.Decode(&r.cfg); err != nil {
		return fmt.Errorf("decode relay config: %w", err)
	}
	if r.cfg.Topic == "" {
		r.cfg.Topic = "kockalogger"
	}
	sink, err := sinks.NewKafka(r.cfg.Brokers, r.cfg.Topic, env.Logger)
	if err != nil {
		return fmt.Errorf("create kafka sink: %w", err)
	}
	r.sink = sink
	r.logger = env.Logger.With().Str("module", "relay").Logger()
	return nil
}

// Interested takes everything. Error messages go downstream too so consumers
// can track feed health.
func (r *Relay) Interested(m *models.Message) (bool, []string) {
	return true, nil
}

func (r *Relay) Execute(ctx context.Context, m *models.Message) error {
	return r.sink.Send(ctx, m.ToJSON())
}

func (r *Relay) Kill() error {
	return r.sink.Close()
}
