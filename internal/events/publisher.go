// Package events publishes session activity to NATS for external
// consumers. Publishing is optional; a nil publisher drops everything.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/nick-boey/homespun/internal/common/config"
	"github.com/nick-boey/homespun/internal/common/logger"
	"github.com/nick-boey/homespun/internal/session/streaming"
)

// Publisher forwards aggregated session updates onto NATS subjects of
// the form homespun.sessions.<session-id>.<kind>.
type Publisher struct {
	conn   *nats.Conn
	logger *logger.Logger
}

// Connect establishes the NATS connection. Returns (nil, nil) when no
// URL is configured; a nil Publisher is safe to use.
func Connect(cfg config.NATSConfig, log *logger.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	conn, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(2*time.Second),
		nats.Name("homespun"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	log.Info("connected to NATS", zap.String("url", cfg.URL))
	return &Publisher{
		conn:   conn,
		logger: log.WithFields(zap.String("component", "event-publisher")),
	}, nil
}

// Publish sends one aggregated update. Failures are logged, never
// propagated; event delivery is best effort.
func (p *Publisher) Publish(update streaming.Update) {
	if p == nil {
		return
	}

	data, err := json.Marshal(update)
	if err != nil {
		p.logger.Warn("failed to marshal update", zap.Error(err))
		return
	}

	subject := fmt.Sprintf("homespun.sessions.%s.%s", update.SessionID, update.Kind)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish update",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("failed to drain NATS connection", zap.Error(err))
	}
}
