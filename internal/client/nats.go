package client

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pesio-ai/be-gl-closing/internal/logger"
)

// Publisher is the slice of NATS the publishers use.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NATSConfig holds connection settings.
type NATSConfig struct {
	URL  string
	Name string
}

// ConnectNATS dials NATS with reconnect logging. An empty URL returns nil,
// nil and the caller runs without messaging.
func ConnectNATS(cfg NATSConfig, log *logger.Logger) (*nats.Conn, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// JetStreamPublisher publishes through JetStream so messages land in the
// stream the notifications service consumes.
type JetStreamPublisher struct {
	js nats.JetStreamContext
}

// NewJetStreamPublisher wraps nc. A nil connection yields a nil Publisher.
func NewJetStreamPublisher(nc *nats.Conn) (Publisher, error) {
	if nc == nil {
		return nil, nil
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &JetStreamPublisher{js: js}, nil
}

// Publish sends data on subject and waits for the stream ack.
func (p *JetStreamPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := p.js.Publish(subject, data, nats.Context(ctx))
	return err
}
