package service

import (
	"context"
	"time"

	"voltlink/backend/services/telemetry-service/internal/models"
)

// HistoryStore is the append-only record of accepted readings.
type HistoryStore interface {
	// Append records r; a reading already stored at the same device and timestamp yields repository.ErrDuplicate.
	Append(ctx context.Context, r models.Reading) error
	// Get returns the reading stored at key and ts or repository.ErrNotFound.
	Get(ctx context.Context, key models.DeviceKey, ts time.Time) (models.Reading, error)
	// Aggregate folds metric over readings with start <= ts < end without materializing them.
	Aggregate(ctx context.Context, key models.DeviceKey, metric models.Metric, start, end time.Time) (models.Stats, error)
}

// CurrentStateStore holds the latest reading per device.
type CurrentStateStore interface {
	// Upsert atomically inserts or replaces the device row unless the stored reading is newer.
	// It reports whether the row was written.
	Upsert(ctx context.Context, r models.Reading, updatedAt time.Time) (bool, error)
	// Get returns the row for key or repository.ErrNotFound.
	Get(ctx context.Context, key models.DeviceKey) (models.CurrentState, error)
}

// CorrelationStore persists meter/vehicle edges.
type CorrelationStore interface {
	Insert(ctx context.Context, edge models.CorrelationEdge) error
	ActiveForVehicle(ctx context.Context, vehicleID string) ([]models.CorrelationEdge, error)
	EdgesValidAt(ctx context.Context, vehicleID string, at time.Time) ([]models.CorrelationEdge, error)
	ListByVehicle(ctx context.Context, vehicleID string) ([]models.CorrelationEdge, error)
	Deactivate(ctx context.Context, meterID, vehicleID string, at time.Time) (bool, error)
	ActiveVehicles(ctx context.Context, after string, limit int) ([]string, error)
}

// Notifier receives the outcome of every reading that reached history.
type Notifier interface {
	Notify(ctx context.Context, event models.IngestEvent)
}

// Recorder collects operational metrics.
type Recorder interface {
	ObserveIngest(class models.DeviceClass, outcome models.Outcome)
	ObserveHistoryRetry(class models.DeviceClass)
	ObserveQuery(op string, err error, took time.Duration)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, models.IngestEvent) {}

type nopRecorder struct{}

func (nopRecorder) ObserveIngest(models.DeviceClass, models.Outcome) {}
func (nopRecorder) ObserveHistoryRetry(models.DeviceClass)           {}
func (nopRecorder) ObserveQuery(string, error, time.Duration)        {}
