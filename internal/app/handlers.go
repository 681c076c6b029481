package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/metrics"
	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/model"
)

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/readyz", a.handleReadyz)
	mux.HandleFunc("/api/dashboard", a.handleDashboard)
	mux.HandleFunc("/api/readings/latest", a.handleLatestReading)
	mux.HandleFunc("/api/readings", a.handleReadings)
	mux.HandleFunc("/api/live", a.handleLiveUpdates)

	return mux
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if a.store == nil || a.coordinator == nil || a.bus == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func (a *App) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	data, err := a.queries.Dashboard(ctx)
	if err != nil {
		a.logger.Error("failed to load dashboard data", "error", err)
		http.Error(w, "failed to load dashboard data", http.StatusInternalServerError)
		return
	}

	a.writeJSON(w, data)
}

func (a *App) handleLatestReading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	reading, err := a.queries.LatestReading(ctx)
	if err != nil {
		a.logger.Error("failed to load latest reading", "error", err)
		http.Error(w, "failed to load latest reading", http.StatusInternalServerError)
		return
	}

	if reading == nil {
		http.Error(w, "no readings yet", http.StatusNotFound)
		return
	}

	a.writeJSON(w, reading)
}

func (a *App) handleReadings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.serveReadings(w, r)
	case http.MethodPost:
		a.saveReading(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *App) serveReadings(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	from := now.Add(-24 * time.Hour)
	to := now

	if v := r.URL.Query().Get("from"); v != "" {
		ts, err := parseTimestamp(v)
		if err != nil {
			http.Error(w, "invalid from timestamp", http.StatusBadRequest)
			return
		}
		from = ts
	}
	if v := r.URL.Query().Get("to"); v != "" {
		ts, err := parseTimestamp(v)
		if err != nil {
			http.Error(w, "invalid to timestamp", http.StatusBadRequest)
			return
		}
		to = ts
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	readings, err := a.queries.Readings(ctx, from, to)
	if err != nil {
		a.logger.Error("failed to load readings", "error", err)
		http.Error(w, "failed to load readings", http.StatusInternalServerError)
		return
	}

	response := struct {
		Readings []model.Reading `json:"readings"`
	}{Readings: readings}

	a.writeJSON(w, response)
}

func (a *App) saveReading(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Temperature    *float64 `json:"temperature"`
		AirHumidity    *float64 `json:"air_humidity"`
		GroundHumidity *float64 `json:"ground_humidity"`
		Watered        *bool    `json:"watered"`
		Fanned         *bool    `json:"fanned"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if req.Temperature == nil || req.AirHumidity == nil || req.GroundHumidity == nil || req.Watered == nil || req.Fanned == nil {
		http.Error(w, "all reading fields are required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	reading, err := a.queries.SaveReading(ctx, *req.Temperature, *req.AirHumidity, *req.GroundHumidity, *req.Watered, *req.Fanned)
	if err != nil {
		a.logger.Error("failed to save reading", "error", err)
		http.Error(w, "failed to save reading", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(reading); err != nil {
		a.logger.Error("failed to encode reading response", "error", err)
	}
}

// handleLiveUpdates streams newly persisted readings as server-sent
// events. The subscription is released as soon as the client goes away;
// readings published while a client is disconnected are not replayed.
func (a *App) handleLiveUpdates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := a.queries.LiveUpdates()
	defer a.queries.Unsubscribe(sub)

	metrics.SubscriptionOpened()
	defer metrics.SubscriptionClosed()

	a.logger.Debug("live update subscriber connected", "subscription", sub.ID)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	for {
		reading, err := sub.Next(r.Context())
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				a.logger.Debug("live update stream ended", "subscription", sub.ID, "error", err)
			}
			return
		}

		payload, err := json.Marshal(reading)
		if err != nil {
			a.logger.Error("failed to encode live reading", "error", err)
			continue
		}

		_, _ = w.Write([]byte("event: reading\ndata: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

func (a *App) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}

func parseTimestamp(v string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		ts, err = time.Parse(time.RFC3339, v)
	}
	return ts, err
}
