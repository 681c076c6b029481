package mqttclient

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/model"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool { return false }

func (m fakeMessage) Qos() byte { return 0 }

func (m fakeMessage) Retained() bool { return false }

func (m fakeMessage) Topic() string { return m.topic }

func (m fakeMessage) MessageID() uint16 { return 0 }

func (m fakeMessage) Payload() []byte { return m.payload }

func (m fakeMessage) Ack() {}

type captureSink struct {
	mu     sync.Mutex
	events []model.TelemetryEvent
}

func (c *captureSink) Ingest(_ context.Context, event model.TelemetryEvent) (model.Reading, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return model.Reading{ID: int64(len(c.events))}, nil
}

func newTestClient(sink Sink) *Client {
	c := New(Config{
		BrokerURL:     "tcp://localhost:1883",
		ClientID:      "test",
		SensorTopic:   "data/sensor",
		ActuatorTopic: "data/actuator",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), sink)
	c.now = func() time.Time { return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC) }
	return c
}

func TestSensorMessageForwardedToSink(t *testing.T) {
	sink := &captureSink{}
	c := newTestClient(sink)

	c.handleSensorMessage(nil, fakeMessage{
		topic:   "data/sensor",
		payload: []byte(`{"temperature":22.0,"air_humidity":60.0,"ground_humidity":40.0}`),
	})

	require.Len(t, sink.events, 1)
	sensor, ok := sink.events[0].(model.SensorEvent)
	require.True(t, ok)
	require.Equal(t, 22.0, sensor.Temperature)
	require.Equal(t, time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC), sensor.ObservedAt)
}

func TestActuatorMessageForwardedToSink(t *testing.T) {
	sink := &captureSink{}
	c := newTestClient(sink)

	c.handleActuatorMessage(nil, fakeMessage{
		topic:   "data/actuator",
		payload: []byte(`{"watered":true,"fanned":false}`),
	})

	require.Len(t, sink.events, 1)
	actuator, ok := sink.events[0].(model.ActuatorEvent)
	require.True(t, ok)
	require.True(t, actuator.Watered)
}

func TestMalformedPayloadIsDroppedWithoutPanic(t *testing.T) {
	sink := &captureSink{}
	c := newTestClient(sink)

	c.handleSensorMessage(nil, fakeMessage{topic: "data/sensor", payload: []byte(`{not json`)})
	c.handleActuatorMessage(nil, fakeMessage{topic: "data/actuator", payload: []byte(`{"watered":true}`)})

	require.Empty(t, sink.events)
}
