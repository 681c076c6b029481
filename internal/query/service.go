// Package query is the read-side contract consumed by the dashboard and
// API layer. It aggregates store queries only; live updates come from
// the bus, and the one write path delegates to the coordinator so
// manual saves stay consistent with merged ingestion.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/ingest"
	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/livebus"
	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/model"
	"github.com/ReynardHansel/Plantiva-IoT-Monitoring/internal/store"
)

// historyWindow is the span of readings the dashboard charts.
const historyWindow = 24 * time.Hour

// DashboardData hydrates the dashboard in one round trip.
type DashboardData struct {
	CurrentReading *model.Reading  `json:"current_reading"`
	Last24h        []model.Reading `json:"historical_data"`
	LastWatered    *model.Reading  `json:"last_watered"`
	LastFanned     *model.Reading  `json:"last_fanned"`
}

// Service exposes the read operations plus the direct save path.
type Service struct {
	store       *store.Store
	coordinator *ingest.Coordinator
	bus         *livebus.Bus

	now func() time.Time
}

// New constructs a query service.
func New(st *store.Store, coordinator *ingest.Coordinator, bus *livebus.Bus) *Service {
	return &Service{
		store:       st,
		coordinator: coordinator,
		bus:         bus,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Dashboard returns the latest reading, the trailing 24 hours of history
// in ascending time order, and the most recent watered/fanned readings.
func (s *Service) Dashboard(ctx context.Context) (DashboardData, error) {
	latest, err := s.store.Latest(ctx)
	if err != nil {
		return DashboardData{}, fmt.Errorf("load latest reading: %w", err)
	}

	now := s.now()
	history, err := s.store.Range(ctx, now.Add(-historyWindow), now)
	if err != nil {
		return DashboardData{}, fmt.Errorf("load reading history: %w", err)
	}

	lastWatered, err := s.store.LatestWhere(ctx, store.FlagWatered)
	if err != nil {
		return DashboardData{}, fmt.Errorf("load last watered: %w", err)
	}

	lastFanned, err := s.store.LatestWhere(ctx, store.FlagFanned)
	if err != nil {
		return DashboardData{}, fmt.Errorf("load last fanned: %w", err)
	}

	return DashboardData{
		CurrentReading: latest,
		Last24h:        history,
		LastWatered:    lastWatered,
		LastFanned:     lastFanned,
	}, nil
}

// LatestReading returns the most recent persisted reading, or nil when
// the store is empty.
func (s *Service) LatestReading(ctx context.Context) (*model.Reading, error) {
	return s.store.Latest(ctx)
}

// Readings returns the persisted readings with from <= time < to.
func (s *Service) Readings(ctx context.Context, from, to time.Time) ([]model.Reading, error) {
	return s.store.Range(ctx, from, to)
}

// SaveReading writes a complete reading through the coordinator's direct
// path: it is appended to history and published to live subscribers like
// any merged reading.
func (s *Service) SaveReading(ctx context.Context, temperature, airHumidity, groundHumidity float64, watered, fanned bool) (model.Reading, error) {
	return s.coordinator.SaveReading(ctx, temperature, airHumidity, groundHumidity, watered, fanned)
}

// LiveUpdates registers a new subscription for newly persisted readings.
// The caller consumes via Next and must Unsubscribe when done.
func (s *Service) LiveUpdates() *livebus.Subscription {
	return s.bus.Subscribe()
}

// Unsubscribe releases a live update subscription.
func (s *Service) Unsubscribe(sub *livebus.Subscription) {
	s.bus.Unsubscribe(sub.ID)
}
