package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig configures the MQTT sink.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
}

// MQTTPublisher publishes events to a broker topic at QoS 0.
type MQTTPublisher struct {
	client    mqtt.Client
	topic     string
	connected atomic.Bool
	logger    *slog.Logger
}

// NewMQTTPublisher connects to cfg.Broker. The client reconnects on its own
// after the initial connection succeeds.
func NewMQTTPublisher(ctx context.Context, cfg MQTTConfig, logger *slog.Logger) (*MQTTPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &MQTTPublisher{topic: cfg.Topic, logger: logger.With("component", "mqtt")}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		p.connected.Store(true)
		p.logger.Info("mqtt connection established", "broker", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.connected.Store(false)
		p.logger.Warn("mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()

	timeout := 5 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connection to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}
	p.connected.Store(true)
	return p, nil
}

func (p *MQTTPublisher) Name() string { return "mqtt" }

// Send publishes without waiting for the broker.
func (p *MQTTPublisher) Send(payload []byte) error {
	if !p.connected.Load() {
		return fmt.Errorf("mqtt not connected")
	}
	p.client.Publish(p.topic, 0, false, payload)
	return nil
}

// Connected reports the current link state.
func (p *MQTTPublisher) Connected() bool {
	return p.connected.Load()
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
