package app

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_plantiva._tcp"
	mdnsDomain      = "local."
)

// startMDNS advertises the telemetry ingest port so devices on the local
// network can find the server without static configuration.
func (a *App) startMDNS() error {
	a.stopMDNS()

	port := tcpBindPort(a.cfg.TCPBindAddress)
	if port <= 0 {
		return fmt.Errorf("cannot derive port from bind address %q", a.cfg.TCPBindAddress)
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "plantiva"
	}

	instance := sanitizeMDNSInstance(fmt.Sprintf("Plantiva Telemetry (%s)", hostname))

	txt := []string{
		fmt.Sprintf("tcp_port=%d", port),
		fmt.Sprintf("http_port=%d", a.cfg.HTTPPort),
		fmt.Sprintf("sensor_topic=%s", a.cfg.MQTTSensorTopic),
		fmt.Sprintf("actuator_topic=%s", a.cfg.MQTTActuatorTopic),
		"proto=v1",
	}

	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, port, txt, nil)
	if err != nil {
		return err
	}

	a.mdns = server
	a.logger.Info("mDNS advertisement started", "instance", instance, "port", port)
	return nil
}

func (a *App) stopMDNS() {
	if a.mdns == nil {
		return
	}

	a.mdns.Shutdown()
	a.logger.Info("mDNS advertisement stopped")
	a.mdns = nil
}

func tcpBindPort(bind string) int {
	_, portStr, err := net.SplitHostPort(bind)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}

func sanitizeMDNSInstance(name string) string {
	cleaned := strings.TrimSpace(name)
	cleaned = strings.ReplaceAll(cleaned, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, ".", " ")
	cleaned = strings.ReplaceAll(cleaned, "_", " ")
	if cleaned == "" {
		cleaned = "Plantiva Telemetry"
	}
	runes := []rune(cleaned)
	const maxLen = 63
	if len(runes) > maxLen {
		cleaned = string(runes[:maxLen])
	}
	return cleaned
}
