// Package mqttclient bridges an external MQTT broker to the ingestion
// coordinator. Devices publish sensor payloads on one topic and actuator
// payloads on another; the topic decides how a payload is decoded.
package mqttclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/metrics"
	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/model"
)

// Sink receives every successfully decoded telemetry event.
type Sink interface {
	Ingest(ctx context.Context, event model.TelemetryEvent) (model.Reading, error)
}

// Config lists the broker connection parameters.
type Config struct {
	BrokerURL     string
	ClientID      string
	SensorTopic   string
	ActuatorTopic string
}

// Client subscribes to the sensor and actuator topics of an external
// broker and forwards decoded events to the sink. Broker failures are
// treated as transient: the initial connect retries with capped
// exponential backoff, and paho's auto-reconnect plus the OnConnect
// resubscribe keep the subscriptions alive across broker restarts.
type Client struct {
	cfg    Config
	logger *slog.Logger
	sink   Sink
	client mqtt.Client

	now func() time.Time
}

// New constructs a client; Start establishes the connection.
func New(cfg Config, logger *slog.Logger, sink Sink) *Client {
	return &Client{
		cfg:    cfg,
		logger: logger,
		sink:   sink,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start connects to the broker and subscribes to both telemetry topics.
// It blocks until the first connection succeeds or the context is
// cancelled.
func (c *Client) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(c.cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetOrderMatters(false)

	opts.OnConnect = func(client mqtt.Client) {
		c.logger.Info("connected to mqtt broker", "broker", c.cfg.BrokerURL)
		c.subscribe(client)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		c.logger.Warn("mqtt connection lost", "error", err)
	}

	client := mqtt.NewClient(opts)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry until the context is cancelled

	connect := func() error {
		token := client.Connect()
		if token.Wait() && token.Error() != nil {
			c.logger.Warn("mqtt connect failed, retrying", "broker", c.cfg.BrokerURL, "error", token.Error())
			return token.Error()
		}
		return nil
	}

	if err := backoff.Retry(connect, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("connect to mqtt broker %s: %w", c.cfg.BrokerURL, err)
	}

	c.client = client
	return nil
}

// Close unsubscribes and disconnects from the broker.
func (c *Client) Close() {
	if c.client == nil || !c.client.IsConnected() {
		return
	}
	if token := c.client.Unsubscribe(c.cfg.SensorTopic, c.cfg.ActuatorTopic); token.Wait() && token.Error() != nil {
		c.logger.Warn("mqtt unsubscribe failed", "error", token.Error())
	}
	c.client.Disconnect(250)
	c.logger.Info("mqtt client disconnected")
}

func (c *Client) subscribe(client mqtt.Client) {
	subs := map[string]mqtt.MessageHandler{
		c.cfg.SensorTopic:   c.handleSensorMessage,
		c.cfg.ActuatorTopic: c.handleActuatorMessage,
	}

	for topic, handler := range subs {
		if token := client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
			c.logger.Error("mqtt subscribe failed", "topic", topic, "error", token.Error())
			continue
		}
		c.logger.Info("subscribed to topic", "topic", topic)
	}
}

func (c *Client) handleSensorMessage(_ mqtt.Client, msg mqtt.Message) {
	event, err := model.DecodeSensorPayload(msg.Payload(), c.now())
	if err != nil {
		metrics.DecodeFailure("mqtt")
		c.logger.Warn("sensor payload decode failed", "topic", msg.Topic(), "error", err)
		return
	}
	c.forward(event)
}

func (c *Client) handleActuatorMessage(_ mqtt.Client, msg mqtt.Message) {
	event, err := model.DecodeActuatorPayload(msg.Payload(), c.now())
	if err != nil {
		metrics.DecodeFailure("mqtt")
		c.logger.Warn("actuator payload decode failed", "topic", msg.Topic(), "error", err)
		return
	}
	c.forward(event)
}

func (c *Client) forward(event model.TelemetryEvent) {
	if _, err := c.sink.Ingest(context.Background(), event); err != nil {
		c.logger.Error("telemetry ingest failed", "error", err)
	}
}
