package events

import (
	"context"
	"errors"

	"voltlink/backend/services/telemetry-service/internal/models"
)

var errQueueFull = errors.New("event queue full")

// Notifier receives ingest events.
type Notifier interface {
	Notify(ctx context.Context, event models.IngestEvent)
}

// Fanout forwards every event to each notifier in order.
type Fanout []Notifier

// Notify implements Notifier.
func (f Fanout) Notify(ctx context.Context, event models.IngestEvent) {
	for _, n := range f {
		n.Notify(ctx, event)
	}
}
