package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/config"
	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/ingest"
	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/livebus"
	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/metrics"
	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/mqttclient"
	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/query"
	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/store"
	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/tcpserver"
)

// App wires together the telemetry services and manages their lifecycle.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	store       *store.Store
	coordinator *ingest.Coordinator
	bus         *livebus.Bus
	queries     *query.Service
	tcp         *tcpserver.Server
	mqtt        *mqttclient.Client
	mdns        *zeroconf.Server
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run starts all configured services and blocks until the context is
// cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	metrics.Init()

	db, err := store.Open(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	a.store = db

	if err := a.store.InitSchema(ctx); err != nil {
		return err
	}

	defer func() {
		if cerr := a.store.Close(); cerr != nil {
			a.logger.Error("close store", "error", cerr)
		}
	}()

	a.bus = livebus.New(a.logger)
	a.bus.SetDropHook(metrics.BusDrop)
	defer a.bus.Close()

	a.coordinator = ingest.NewCoordinator(a.store, a.bus, a.logger)
	if err := a.coordinator.Bootstrap(ctx); err != nil {
		return err
	}

	a.queries = query.New(a.store, a.coordinator, a.bus)

	a.tcp = tcpserver.New(a.logger, a.coordinator)
	tcpErrCh, err := a.tcp.Start(a.cfg.TCPBindAddress)
	if err != nil {
		return err
	}

	if a.cfg.MQTTBrokerURL != "" {
		a.mqtt = mqttclient.New(mqttclient.Config{
			BrokerURL:     a.cfg.MQTTBrokerURL,
			ClientID:      a.cfg.MQTTClientID,
			SensorTopic:   a.cfg.MQTTSensorTopic,
			ActuatorTopic: a.cfg.MQTTActuatorTopic,
		}, a.logger, a.coordinator)

		if err := a.mqtt.Start(ctx); err != nil {
			_ = a.tcp.Stop()
			return err
		}
		defer a.mqtt.Close()
	}

	if a.cfg.EnableMDNS {
		if err := a.startMDNS(); err != nil {
			a.logger.Warn("mDNS advertisement failed", "error", err)
		}
		defer a.stopMDNS()
	}

	httpErrCh := make(chan error, 1)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler: a.routes(),
	}

	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	metricsErrCh := make(chan error, 1)
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.MetricsPort),
		Handler: promhttp.Handler(),
	}

	go func() {
		a.logger.Info("metrics server started", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			metricsErrCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var firstErr error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			firstErr = fmt.Errorf("http server shutdown: %w", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("metrics server shutdown: %w", err)
		}
		if err := a.tcp.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}

	for {
		select {
		case <-ctx.Done():
			if err := shutdown(); err != nil {
				return err
			}
			a.logger.Info("telemetry server stopped")
			return nil
		case err := <-httpErrCh:
			if err != nil {
				_ = a.tcp.Stop()
				_ = metricsServer.Shutdown(context.Background())
				return err
			}
		case err := <-metricsErrCh:
			if err != nil {
				a.logger.Error("metrics server failed", "error", err)
				metricsErrCh = nil
				continue
			}
		case err, ok := <-tcpErrCh:
			if !ok {
				tcpErrCh = nil
				continue
			}
			if err != nil {
				_ = httpServer.Shutdown(context.Background())
				_ = metricsServer.Shutdown(context.Background())
				return err
			}
		}
	}
}
