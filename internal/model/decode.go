package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrBadPayload marks a payload that could not be decoded into a known
// telemetry shape. Adapters log and drop these; they never reach the
// coordinator.
var ErrBadPayload = errors.New("bad telemetry payload")

type sensorPayload struct {
	Temperature    *float64 `json:"temperature"`
	AirHumidity    *float64 `json:"air_humidity"`
	GroundHumidity *float64 `json:"ground_humidity"`
}

type actuatorPayload struct {
	Watered *bool `json:"watered"`
	Fanned  *bool `json:"fanned"`
}

// DecodeSensorPayload decodes a sensor wire payload. All three fields
// are required; the wire format carries no timestamp, so the caller
// supplies the receipt time.
func DecodeSensorPayload(payload []byte, observedAt time.Time) (SensorEvent, error) {
	var p sensorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return SensorEvent{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if p.Temperature == nil || p.AirHumidity == nil || p.GroundHumidity == nil {
		return SensorEvent{}, fmt.Errorf("%w: missing sensor fields", ErrBadPayload)
	}
	return SensorEvent{
		Temperature:    *p.Temperature,
		AirHumidity:    *p.AirHumidity,
		GroundHumidity: *p.GroundHumidity,
		ObservedAt:     observedAt,
	}, nil
}

// DecodeActuatorPayload decodes an actuator wire payload. Both flags are
// required.
func DecodeActuatorPayload(payload []byte, observedAt time.Time) (ActuatorEvent, error) {
	var p actuatorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return ActuatorEvent{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if p.Watered == nil || p.Fanned == nil {
		return ActuatorEvent{}, fmt.Errorf("%w: missing actuator fields", ErrBadPayload)
	}
	return ActuatorEvent{
		Watered:    *p.Watered,
		Fanned:     *p.Fanned,
		ObservedAt: observedAt,
	}, nil
}

// DecodeFrame decodes one stream frame, classifying it by the fields it
// carries. A frame with only the sensor trio yields a SensorEvent, one
// with only the actuator pair yields an ActuatorEvent, and a legacy
// full-state frame carrying both halves yields a SensorEvent followed by
// an ActuatorEvent.
func DecodeFrame(frame []byte, observedAt time.Time) ([]TelemetryEvent, error) {
	var combined struct {
		sensorPayload
		actuatorPayload
	}
	if err := json.Unmarshal(frame, &combined); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	hasSensor := combined.Temperature != nil && combined.AirHumidity != nil && combined.GroundHumidity != nil
	hasActuator := combined.Watered != nil && combined.Fanned != nil

	var events []TelemetryEvent
	if hasSensor {
		events = append(events, SensorEvent{
			Temperature:    *combined.Temperature,
			AirHumidity:    *combined.AirHumidity,
			GroundHumidity: *combined.GroundHumidity,
			ObservedAt:     observedAt,
		})
	}
	if hasActuator {
		events = append(events, ActuatorEvent{
			Watered:    *combined.Watered,
			Fanned:     *combined.Fanned,
			ObservedAt: observedAt,
		})
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: no recognized telemetry fields", ErrBadPayload)
	}
	return events, nil
}
