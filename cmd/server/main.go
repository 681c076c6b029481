// Command server runs the Plantiva telemetry server: it ingests device
// telemetry over TCP and MQTT, persists merged readings, and serves the
// dashboard API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/app"
	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}))
	logger.Info("starting plantiva telemetry server",
		"http_port", cfg.HTTPPort,
		"tcp_bind", cfg.TCPBindAddress,
		"mqtt_broker", cfg.MQTTBrokerURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg, logger).Run(ctx); err != nil {
		logger.Error("telemetry server terminated", "error", err)
		os.Exit(1)
	}

	logger.Info("telemetry server stopped cleanly")
}

func parseLogLevel(level string) slog.Leveler {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
