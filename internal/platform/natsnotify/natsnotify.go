package natsnotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JezSurfaceIT/secdevops-cicd-pipeline/internal/platform/env"
	"github.com/nats-io/nats.go"
)

type Config struct {
	URL     string
	Subject string
	Name    string
}

func ConfigFromEnv() Config {
	return Config{
		URL:     strings.TrimSpace(env.String("NATS_URL", "")),
		Subject: env.String("NATS_SUBJECT", "testdata.dbstate.transitions"),
		Name:    env.String("NATS_CLIENT_NAME", "test-data-api"),
	}
}

// Enabled is false when no URL is configured.
func (c Config) Enabled() bool { return c.URL != "" }

func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if strings.TrimSpace(c.Subject) == "" {
		return errors.New("NATS_SUBJECT is required when NATS_URL is set")
	}
	if strings.ContainsAny(c.Subject, " \t*>") {
		return fmt.Errorf("NATS_SUBJECT must be a literal subject: %q", c.Subject)
	}
	return nil
}

// Publisher sends JSON messages on one subject.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

func Connect(cfg Config) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Publisher{conn: conn, subject: cfg.Subject}, nil
}

func (p *Publisher) PublishJSON(ctx context.Context, v any) error {
	if p == nil || p.conn == nil {
		return errors.New("nats publisher not initialized")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return p.conn.FlushWithContext(ctx)
}

func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	_ = p.conn.Drain()
}
