// Package bus publishes pipeline events to NATS.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/events"
)

// Client wraps a NATS connection.
type Client struct {
	conn   *nats.Conn
	prefix string
	log    *slog.Logger
}

// Connect dials the configured servers.
func Connect(cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("mudra"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log = log.With(slog.String("component", "bus"))
	log.Info("connected to NATS", slog.String("servers", url))

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "mudra"
	}
	return &Client{conn: conn, prefix: prefix, log: log}, nil
}

// Subject returns the subject an event type is published on.
func (c *Client) Subject(t events.Type) string {
	return c.prefix + "." + string(t)
}

// Publish sends e as JSON. Failures are logged; events are best-effort.
func (c *Client) Publish(e events.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		c.log.Warn("failed to encode event", slog.String("type", string(e.Type)), slog.String("error", err.Error()))
		return
	}
	if err := c.conn.Publish(c.Subject(e.Type), data); err != nil {
		c.log.Warn("failed to publish event", slog.String("type", string(e.Type)), slog.String("error", err.Error()))
	}
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	c.conn.Drain()
	c.conn.Close()
}

// Healthy reports whether the connection is up.
func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}
