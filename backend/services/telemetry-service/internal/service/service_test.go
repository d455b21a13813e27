package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"voltlink/backend/services/telemetry-service/internal/memstore"
	"voltlink/backend/services/telemetry-service/internal/models"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func meterReading(id string, ts time.Time, kwh, voltage float64) models.Reading {
	return models.Reading{
		DeviceID:  id,
		Class:     models.ClassMeter,
		Timestamp: ts,
		Meter:     &models.MeterMetrics{EnergyConsumedKWh: kwh, VoltageV: voltage},
	}
}

func vehicleReading(id string, ts time.Time, soc, kwh, temp float64) models.Reading {
	return models.Reading{
		DeviceID:  id,
		Class:     models.ClassVehicle,
		Timestamp: ts,
		Vehicle:   &models.VehicleMetrics{StateOfChargePct: soc, EnergyDeliveredKWh: kwh, BatteryTempC: temp},
	}
}

type fixture struct {
	history     *memstore.HistoryStore
	current     *memstore.CurrentStateStore
	edges       *memstore.CorrelationStore
	ingest      *IngestService
	correlation *CorrelationService
	analytics   *AnalyticsService
}

func newFixture() *fixture {
	f := &fixture{
		history: memstore.NewHistoryStore(),
		current: memstore.NewCurrentStateStore(),
		edges:   memstore.NewCorrelationStore(),
	}
	opts := IngestOptions{HistoryAttempts: 3, HistoryBackoffInitial: time.Millisecond, HistoryBackoffMax: 2 * time.Millisecond, CurrentStateAttempts: 2}
	f.ingest = NewIngestService(f.history, f.current, opts, nil)
	f.correlation = NewCorrelationService(f.edges, nil)
	f.analytics = NewAnalyticsService(f.history, f.current, f.correlation, nil)
	return f
}

// flakyHistory fails Append with a transient error a fixed number of times.
type flakyHistory struct {
	HistoryStore
	mu       sync.Mutex
	failures int
	calls    int
	err      error
}

func (h *flakyHistory) Append(ctx context.Context, r models.Reading) error {
	h.mu.Lock()
	h.calls++
	fail := h.calls <= h.failures
	h.mu.Unlock()
	if fail {
		return h.err
	}
	return h.HistoryStore.Append(ctx, r)
}

// brokenCurrent always fails Upsert.
type brokenCurrent struct {
	CurrentStateStore
	calls int
}

func (c *brokenCurrent) Upsert(context.Context, models.Reading, time.Time) (bool, error) {
	c.calls++
	return false, errors.New("connection reset")
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.IngestEvent
}

func (n *recordingNotifier) Notify(_ context.Context, e models.IngestEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[models.Outcome]int
	retries  int
	queries  map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{outcomes: map[models.Outcome]int{}, queries: map[string]int{}}
}

func (r *countingRecorder) ObserveIngest(_ models.DeviceClass, o models.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[o]++
}

func (r *countingRecorder) ObserveHistoryRetry(models.DeviceClass) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

func (r *countingRecorder) ObserveQuery(op string, _ error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries[op]++
}

// failingEdges returns err from every lookup.
type failingEdges struct {
	*memstore.CorrelationStore
	err error
}

func (f failingEdges) EdgesValidAt(context.Context, string, time.Time) ([]models.CorrelationEdge, error) {
	return nil, f.err
}

var errStorageDown = errors.New("storage down")
