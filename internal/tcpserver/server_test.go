package tcpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/model"
)

type captureSink struct {
	mu     sync.Mutex
	events []model.TelemetryEvent
	err    error
}

func (c *captureSink) Ingest(_ context.Context, event model.TelemetryEvent) (model.Reading, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return model.Reading{}, c.err
	}
	c.events = append(c.events, event)
	return model.Reading{ID: int64(len(c.events))}, nil
}

func (c *captureSink) snapshot() []model.TelemetryEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.TelemetryEvent(nil), c.events...)
}

func startTestServer(t *testing.T, sink Sink) *Server {
	t.Helper()

	srv := New(slog.New(slog.NewTextHandler(io.Discard, nil)), sink)
	_, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func waitForEvents(t *testing.T, sink *captureSink, n int) []model.TelemetryEvent {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if events := sink.snapshot(); len(events) >= n {
			return events
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %d", n, len(sink.snapshot()))
	return nil
}

func TestServerIngestsNewlineFramedPayloads(t *testing.T) {
	sink := &captureSink{}
	srv := startTestServer(t, sink)

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"temperature":22.0,"air_humidity":60.0,"ground_humidity":40.0}` + "\n"))
	require.NoError(t, err)
	_, err = conn.Write([]byte(`{"watered":true,"fanned":false}` + "\n"))
	require.NoError(t, err)

	events := waitForEvents(t, sink, 2)

	sensor, ok := events[0].(model.SensorEvent)
	require.True(t, ok)
	require.Equal(t, 22.0, sensor.Temperature)
	require.False(t, sensor.ObservedAt.IsZero(), "adapter must stamp receipt time")

	actuator, ok := events[1].(model.ActuatorEvent)
	require.True(t, ok)
	require.True(t, actuator.Watered)
}

func TestServerHandlesConnectionPerMessageWithoutNewline(t *testing.T) {
	sink := &captureSink{}
	srv := startTestServer(t, sink)

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)

	_, err = conn.Write([]byte(`{"watered":false,"fanned":true}`))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	events := waitForEvents(t, sink, 1)
	actuator, ok := events[0].(model.ActuatorEvent)
	require.True(t, ok)
	require.True(t, actuator.Fanned)
}

func TestMalformedFrameDropsOnlyThatFrame(t *testing.T) {
	sink := &captureSink{}
	srv := startTestServer(t, sink)

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("{not json\n"))
	require.NoError(t, err)
	_, err = conn.Write([]byte(`{"temperature":20.0,"air_humidity":50.0,"ground_humidity":30.0}` + "\n"))
	require.NoError(t, err)

	events := waitForEvents(t, sink, 1)
	require.Len(t, events, 1)
	_, ok := events[0].(model.SensorEvent)
	require.True(t, ok)
}

func TestFullStateFrameYieldsBothEvents(t *testing.T) {
	sink := &captureSink{}
	srv := startTestServer(t, sink)

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"temperature":20.0,"air_humidity":50.0,"ground_humidity":30.0,"watered":true,"fanned":true}` + "\n"))
	require.NoError(t, err)

	events := waitForEvents(t, sink, 2)
	_, ok := events[0].(model.SensorEvent)
	require.True(t, ok)
	_, ok = events[1].(model.ActuatorEvent)
	require.True(t, ok)
}

func TestIngestFailureKeepsConnectionAlive(t *testing.T) {
	sink := &captureSink{err: errors.New("store unavailable")}
	srv := startTestServer(t, sink)

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"watered":true,"fanned":false}` + "\n"))
	require.NoError(t, err)

	// Clear the failure; the same connection should still deliver.
	time.Sleep(50 * time.Millisecond)
	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()

	_, err = conn.Write([]byte(`{"watered":false,"fanned":true}` + "\n"))
	require.NoError(t, err)

	events := waitForEvents(t, sink, 1)
	actuator, ok := events[0].(model.ActuatorEvent)
	require.True(t, ok)
	require.True(t, actuator.Fanned)
}

func TestConcurrentConnections(t *testing.T) {
	sink := &captureSink{}
	srv := startTestServer(t, sink)

	const conns = 8
	var wg sync.WaitGroup
	for i := 0; i < conns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.Dial("tcp", srv.Addr())
			if err != nil {
				t.Error(err)
				return
			}
			defer conn.Close()
			if _, err := conn.Write([]byte(`{"temperature":21.0,"air_humidity":55.0,"ground_humidity":35.0}` + "\n")); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	waitForEvents(t, sink, conns)
}

func TestStopClosesListener(t *testing.T) {
	sink := &captureSink{}
	srv := New(slog.New(slog.NewTextHandler(io.Discard, nil)), sink)

	errCh, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	addr := srv.Addr()

	require.NoError(t, srv.Stop())

	// The error channel closes on clean shutdown.
	select {
	case _, ok := <-errCh:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("error channel not closed after Stop")
	}

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	require.Error(t, err)
}
