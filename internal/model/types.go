package model

import "time"

// Reading is one immutable, fully populated snapshot of the monitored
// environment. Every field is always set; fields a device did not report
// are carried forward from the previous reading at merge time.
type Reading struct {
	ID             int64     `json:"id"`
	Time           time.Time `json:"time"`
	Temperature    float64   `json:"temperature"`
	AirHumidity    float64   `json:"air_humidity"`
	GroundHumidity float64   `json:"ground_humidity"`
	Watered        bool      `json:"watered"`
	Fanned         bool      `json:"fanned"`
}

// TelemetryEvent is one inbound report from a physical device. The set
// of implementations is closed: SensorEvent and ActuatorEvent.
type TelemetryEvent interface {
	// Observed returns the timestamp assigned to the event at receipt.
	Observed() time.Time

	telemetryEvent()
}

// SensorEvent carries the environmental half of the state.
type SensorEvent struct {
	Temperature    float64
	AirHumidity    float64
	GroundHumidity float64
	ObservedAt     time.Time
}

func (e SensorEvent) Observed() time.Time { return e.ObservedAt }

func (SensorEvent) telemetryEvent() {}

// ActuatorEvent carries the device-state half: whether the watering pump
// and the fan ran.
type ActuatorEvent struct {
	Watered    bool
	Fanned     bool
	ObservedAt time.Time
}

func (e ActuatorEvent) Observed() time.Time { return e.ObservedAt }

func (ActuatorEvent) telemetryEvent() {}
