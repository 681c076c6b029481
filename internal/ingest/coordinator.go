// Package ingest owns the composite state of the deployment and turns
// partial telemetry events into complete, persisted readings.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/metrics"
	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/model"
)

// ReadingAppender is the persistence contract the coordinator writes to.
type ReadingAppender interface {
	Append(ctx context.Context, r model.Reading) (int64, error)
	Latest(ctx context.Context) (*model.Reading, error)
}

// Publisher receives every successfully persisted reading.
type Publisher interface {
	Publish(r model.Reading)
}

// compositeState is the latest known value for each monitored field. It
// has a single owner: the coordinator, behind its mutex.
type compositeState struct {
	temperature    float64
	airHumidity    float64
	groundHumidity float64
	watered        bool
	fanned         bool
	time           time.Time
}

// Coordinator serializes all merges of incoming telemetry into the
// composite state. Ingest is the single serialization point of the
// system: one merge mutates state at a time, and publish order matches
// persist order.
type Coordinator struct {
	store  ReadingAppender
	bus    Publisher
	logger *slog.Logger

	mu    sync.Mutex
	state compositeState

	now func() time.Time
}

// NewCoordinator constructs a coordinator over the given store and bus.
func NewCoordinator(store ReadingAppender, bus Publisher, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:  store,
		bus:    bus,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Bootstrap seeds the composite state from the most recent persisted
// reading. With an empty store the state stays at defaults (zero values,
// actuator flags false) until the first events arrive.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	latest, err := c.store.Latest(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap composite state: %w", err)
	}
	if latest == nil {
		return nil
	}

	c.mu.Lock()
	c.state = compositeState{
		temperature:    latest.Temperature,
		airHumidity:    latest.AirHumidity,
		groundHumidity: latest.GroundHumidity,
		watered:        latest.Watered,
		fanned:         latest.Fanned,
		time:           latest.Time,
	}
	c.mu.Unlock()

	c.logger.Info("composite state restored", "reading", latest.ID, "time", latest.Time)
	return nil
}

// Ingest merges one telemetry event into the composite state, persists
// the resulting snapshot, and publishes it to live subscribers.
//
// The merge is permissive: an event older than the current state still
// overwrites its variant's fields (last writer wins per field group),
// but the recorded timestamp never regresses. On a persist failure the
// in-memory merge is retained and nothing is published; the next
// successful append re-establishes durable state.
func (c *Coordinator) Ingest(ctx context.Context, event model.TelemetryEvent) (model.Reading, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e := event.(type) {
	case model.SensorEvent:
		c.state.temperature = e.Temperature
		c.state.airHumidity = e.AirHumidity
		c.state.groundHumidity = e.GroundHumidity
		metrics.EventIngested("sensor")
	case model.ActuatorEvent:
		c.state.watered = e.Watered
		c.state.fanned = e.Fanned
		metrics.EventIngested("actuator")
	default:
		return model.Reading{}, fmt.Errorf("unknown telemetry event %T", event)
	}

	if observed := event.Observed(); observed.After(c.state.time) {
		c.state.time = observed
	}

	return c.persistLocked(ctx)
}

// SaveReading is the direct write path for manual or legacy callers. It
// bypasses the merge (all five fields are supplied) but still goes
// through the store and the bus so history and live updates stay
// consistent, and it keeps the composite state in step.
func (c *Coordinator) SaveReading(ctx context.Context, temperature, airHumidity, groundHumidity float64, watered, fanned bool) (model.Reading, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.temperature = temperature
	c.state.airHumidity = airHumidity
	c.state.groundHumidity = groundHumidity
	c.state.watered = watered
	c.state.fanned = fanned
	if now := c.now(); now.After(c.state.time) {
		c.state.time = now
	}

	return c.persistLocked(ctx)
}

// Current returns a snapshot of the composite state as an unpersisted
// reading (ID zero). Intended for readiness and debug surfaces; history
// queries go to the store.
func (c *Coordinator) Current() model.Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) persistLocked(ctx context.Context) (model.Reading, error) {
	reading := c.snapshotLocked()

	id, err := c.store.Append(ctx, reading)
	if err != nil {
		metrics.AppendFailure()
		return model.Reading{}, fmt.Errorf("append reading: %w", err)
	}
	reading.ID = id

	c.bus.Publish(reading)
	return reading, nil
}

func (c *Coordinator) snapshotLocked() model.Reading {
	ts := c.state.time
	if ts.IsZero() {
		ts = c.now()
	}
	return model.Reading{
		Time:           ts,
		Temperature:    c.state.temperature,
		AirHumidity:    c.state.airHumidity,
		GroundHumidity: c.state.groundHumidity,
		Watered:        c.state.watered,
		Fanned:         c.state.fanned,
	}
}
