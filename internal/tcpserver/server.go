// Package tcpserver accepts raw stream connections from devices that
// push newline-framed JSON telemetry.
package tcpserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/metrics"
	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/model"
)

// Sink receives every successfully decoded telemetry event. Persist
// failures are the sink's to report; the read loop logs and moves on so
// ingestion never stops on a single bad write.
type Sink interface {
	Ingest(ctx context.Context, event model.TelemetryEvent) (model.Reading, error)
}

// Server is a line-framed TCP listener for device telemetry. Each
// connection gets its own goroutine; a malformed frame drops only that
// frame, and a connection error closes only that connection.
type Server struct {
	logger *slog.Logger
	sink   Sink

	mu           sync.Mutex
	listener     net.Listener
	wg           sync.WaitGroup
	shuttingDown atomic.Bool

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	now func() time.Time
}

// New constructs a server forwarding decoded events to sink.
func New(logger *slog.Logger, sink Sink) *Server {
	return &Server{
		logger: logger,
		sink:   sink,
		conns:  make(map[net.Conn]struct{}),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start begins listening on the provided bind address. The returned
// channel is closed once the accept loop terminates; fatal errors are
// sent on it.
func (s *Server) Start(bind string) (<-chan error, error) {
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, fmt.Errorf("telemetry listen: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	errCh := make(chan error, 1)

	s.logger.Info("telemetry listener started", "addr", ln.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if s.shuttingDown.Load() {
					close(errCh)
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					s.logger.Warn("transient accept error", "error", err)
					time.Sleep(50 * time.Millisecond)
					continue
				}
				errCh <- fmt.Errorf("telemetry accept: %w", err)
				close(errCh)
				return
			}

			s.addConn(conn)

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleConn(conn)
			}()
		}
	}()

	return errCh, nil
}

// Addr returns the bound listener address, or empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts down the listener and all live connections.
func (s *Server) Stop() error {
	if !s.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = make(map[net.Conn]struct{})
	s.connsMu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Server) addConn(conn net.Conn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Server) removeConn(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

func (s *Server) handleConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()

	defer func() {
		s.removeConn(conn)
		_ = conn.Close()
		s.logger.Debug("device disconnected", "remote", remote)
	}()

	s.logger.Debug("device connected", "remote", remote)

	ctx := context.Background()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)

	// One JSON document per line; a device that sends a single frame and
	// closes without a newline still gets its final token at EOF.
	for scanner.Scan() {
		frame := scanner.Bytes()
		if len(frame) == 0 {
			continue
		}

		events, err := model.DecodeFrame(frame, s.now())
		if err != nil {
			metrics.DecodeFailure("tcp")
			s.logger.Warn("telemetry frame decode failed", "remote", remote, "error", err)
			continue
		}

		for _, event := range events {
			if _, err := s.sink.Ingest(ctx, event); err != nil {
				s.logger.Error("telemetry ingest failed", "remote", remote, "error", err)
			}
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("read loop ended", "remote", remote, "error", err)
	}
}
