// Package mqtt publishes announcements as JSON to an MQTT broker, for
// displays and speakers in the prayer hall.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"prayercall/internal/transport"
	logx "prayercall/pkg/logx"
)

type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// TopicPrefix is extended with /<location>/<kind>.
	TopicPrefix string
	QoS         byte
	Retained    bool
	Timeout     time.Duration
}

type Publisher struct {
	cfg    Config
	client paho.Client
	log    logx.Logger
}

// Connect dials the broker and returns a ready publisher.
func Connect(cfg Config, log logx.Logger) (*Publisher, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqtt broker is empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "prayercall"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "mqtt"))

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(paho.Client) { log.Info("connected to broker", logx.String("broker", cfg.Broker)) }
	opts.OnConnectionLost = func(_ paho.Client, err error) { log.Warn("broker connection lost", logx.Err(err)) }

	client := paho.NewClient(opts)
	p := NewWithClient(cfg, client, log)
	if token := client.Connect(); !token.WaitTimeout(p.cfg.Timeout) {
		return nil, fmt.Errorf("connect to mqtt broker %s: timeout", cfg.Broker)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", cfg.Broker, err)
	}
	return p, nil
}

// NewWithClient wraps an already configured client.
func NewWithClient(cfg Config, client paho.Client, log logx.Logger) *Publisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "prayercall"
	}
	if cfg.QoS > 2 {
		cfg.QoS = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Publisher{cfg: cfg, client: client, log: log}
}

func (p *Publisher) Name() string { return "mqtt" }

// Topic returns <prefix>/<location>/<kind>.
func (p *Publisher) Topic(a transport.Announcement) string {
	loc := strings.TrimSpace(a.Location)
	if loc == "" {
		loc = "default"
	}
	kind := a.Kind
	if kind == "" {
		kind = "event"
	}
	return strings.TrimRight(p.cfg.TopicPrefix, "/") + "/" + loc + "/" + kind
}

func (p *Publisher) Send(ctx context.Context, a transport.Announcement) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.Topic(a), p.cfg.QoS, p.cfg.Retained, payload)

	timeout := p.cfg.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < timeout {
			timeout = d
		}
	}
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("mqtt publish %s: timeout", p.Topic(a))
	}
	return token.Error()
}

func (p *Publisher) Close() error {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	return nil
}
