// Package telemetry publishes camera info and stream statistics to an MQTT
// broker so headless cameras can be monitored without opening the viewer.
package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"moro/internal/types"
)

const (
	TopicCameraInfo = "camera_info"
	TopicStats      = "stats"

	publishTimeout = 2 * time.Second
	connectTimeout = 5 * time.Second
)

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Publisher struct {
	client publisher
	prefix string
	qos    byte
	log    *slog.Logger
	close  func()

	published atomic.Uint64
	errors    atomic.Uint64
}

// Connect dials the broker (host:port or a full URL) with auto reconnect.
func Connect(broker, prefix string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "telemetry", "broker", broker)
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("moro-" + uuid.NewString())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Info("mqtt connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost, will auto-reconnect", "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	p := newPublisher(client, prefix, log)
	p.close = func() { client.Disconnect(250) }
	return p, nil
}

func newPublisher(client publisher, prefix string, log *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		prefix: strings.TrimRight(prefix, "/"),
		qos:    1,
		log:    log,
		close:  func() {},
	}
}

func Topic(prefix, name string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// Publish forwards camera info as a retained message. Frames are not sent.
func (p *Publisher) Publish(ev types.Event) error {
	if ev.Type != types.EventCameraInfo {
		return nil
	}
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	return p.send(Topic(p.prefix, TopicCameraInfo), true, payload)
}

func (p *Publisher) PublishStats(stats types.StreamStats) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return p.send(Topic(p.prefix, TopicStats), false, payload)
}

func (p *Publisher) send(topic string, retained bool, payload []byte) error {
	token := p.client.Publish(topic, p.qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.errors.Add(1)
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		p.errors.Add(1)
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	p.published.Add(1)
	return nil
}

func (p *Publisher) Counters() (published, failed uint64) {
	return p.published.Load(), p.errors.Load()
}

func (p *Publisher) Close() {
	p.close()
}
