// Package mqtt publishes broadcast events to an MQTT broker, one topic per event type.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/prehensile/vidille/internal/domain"
	apperrors "github.com/prehensile/vidille/internal/errors"
	"github.com/prehensile/vidille/internal/metrics"
	"github.com/prehensile/vidille/internal/platform/retry"
)

const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

var ErrNotConnected = errors.New("mqtt not connected")

type Options struct {
	// Broker is host:port or a URL such as tcp://host:1883.
	Broker   string
	ClientID string
	// Topic is the prefix; events go to Topic/<event type>.
	Topic          string
	Encoding       string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ClientID == "" {
		o.ClientID = "vidille-" + uuid.NewString()[:8]
	}
	if o.Topic == "" {
		o.Topic = "vidille/events"
	}
	if o.Encoding == "" {
		o.Encoding = EncodingJSON
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 2 * time.Second
	}
	return o
}

type Publisher struct {
	client pahomqtt.Client
	opts   Options
	encode func(any) ([]byte, error)
}

// Connect dials the broker, retrying with policy. The client reconnects on its own
// after a successful first connection.
func Connect(ctx context.Context, opts Options, policy retry.Policy) (*Publisher, error) {
	opts = opts.withDefaults()

	co := pahomqtt.NewClientOptions()
	co.AddBroker(brokerURL(opts.Broker))
	co.SetClientID(opts.ClientID)
	co.SetAutoReconnect(true)
	co.SetMaxReconnectInterval(30 * time.Second)
	co.SetConnectTimeout(opts.ConnectTimeout)
	co.OnConnect = func(pahomqtt.Client) {
		slog.Info("MQTT connection established", "broker", opts.Broker, "client_id", opts.ClientID)
	}
	co.OnConnectionLost = func(_ pahomqtt.Client, err error) {
		metrics.MQTTConnectionLost.Inc()
		slog.Warn("MQTT connection lost, reconnecting", "broker", opts.Broker, "error", err)
	}
	client := pahomqtt.NewClient(co)

	err := retry.DoVoid(ctx, policy, retry.Transient, func(ctx context.Context) error {
		return wait(ctx, client.Connect(), opts.ConnectTimeout)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", opts.Broker, err)
	}

	return newPublisher(client, opts)
}

func newPublisher(client pahomqtt.Client, opts Options) (*Publisher, error) {
	opts = opts.withDefaults()

	p := &Publisher{client: client, opts: opts}
	switch opts.Encoding {
	case EncodingJSON:
		p.encode = json.Marshal
	case EncodingMsgpack:
		p.encode = func(v any) ([]byte, error) { return msgpack.Marshal(v) }
	default:
		return nil, fmt.Errorf("unknown mqtt encoding %q", opts.Encoding)
	}
	return p, nil
}

func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	if !p.client.IsConnectionOpen() {
		return apperrors.ExternalError("mqtt publish", ErrNotConnected).WithContext("event", event.Type)
	}

	payload, err := p.encode(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	topic := p.opts.Topic + "/" + string(event.Type)
	if err := wait(ctx, p.client.Publish(topic, p.opts.QoS, false, payload), p.opts.PublishTimeout); err != nil {
		return apperrors.ExternalError("mqtt publish", err).WithContext("topic", topic)
	}
	return nil
}

// Ping is the readiness check for this sink.
func (p *Publisher) Ping(context.Context) error {
	if !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return nil
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

func wait(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errors.New("mqtt operation timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}
