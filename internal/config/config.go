package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config lists the tunable parameters for the telemetry server.
type Config struct {
	HTTPPort       int
	TCPBindAddress string
	MetricsPort    int
	DatabasePath   string
	LogLevel       string

	MQTTBrokerURL     string
	MQTTClientID      string
	MQTTSensorTopic   string
	MQTTActuatorTopic string

	EnableMDNS bool
}

const (
	defaultHTTPPort       = 3000
	defaultTCPBindAddress = ":8080"
	defaultMetricsPort    = 9090
	defaultDatabasePath   = "data/plantiva.db"
	defaultLogLevel       = "info"

	defaultMQTTClientID      = "plantiva-server"
	defaultMQTTSensorTopic   = "data/sensor"
	defaultMQTTActuatorTopic = "data/actuator"
)

// Load derives configuration values from environment variables, falling
// back to defaults. An empty PLANTIVA_MQTT_BROKER disables the broker
// transport; the TCP listener is always on.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:          defaultHTTPPort,
		TCPBindAddress:    defaultTCPBindAddress,
		MetricsPort:       defaultMetricsPort,
		DatabasePath:      defaultDatabasePath,
		LogLevel:          defaultLogLevel,
		MQTTClientID:      defaultMQTTClientID,
		MQTTSensorTopic:   defaultMQTTSensorTopic,
		MQTTActuatorTopic: defaultMQTTActuatorTopic,
		EnableMDNS:        true,
	}

	if v := os.Getenv("PLANTIVA_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PLANTIVA_HTTP_PORT: %w", err)
		}
		cfg.HTTPPort = port
	}

	if v := os.Getenv("PLANTIVA_TCP_BIND"); v != "" {
		cfg.TCPBindAddress = v
	}

	if v := os.Getenv("PLANTIVA_METRICS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PLANTIVA_METRICS_PORT: %w", err)
		}
		cfg.MetricsPort = port
	}

	if v := os.Getenv("PLANTIVA_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}

	if v := os.Getenv("PLANTIVA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("PLANTIVA_MQTT_BROKER"); v != "" {
		cfg.MQTTBrokerURL = v
	}

	if v := os.Getenv("PLANTIVA_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTTClientID = v
	}

	if v := os.Getenv("PLANTIVA_MQTT_SENSOR_TOPIC"); v != "" {
		cfg.MQTTSensorTopic = v
	}

	if v := os.Getenv("PLANTIVA_MQTT_ACTUATOR_TOPIC"); v != "" {
		cfg.MQTTActuatorTopic = v
	}

	if v := os.Getenv("PLANTIVA_ENABLE_MDNS"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PLANTIVA_ENABLE_MDNS: %w", err)
		}
		cfg.EnableMDNS = enabled
	}

	return cfg, nil
}
