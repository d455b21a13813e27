package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"voltlink/backend/services/telemetry-service/internal/models"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func ingestEvent(id string) models.IngestEvent {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.IngestEvent{
		Reading:        models.Reading{DeviceID: id, Class: models.ClassMeter, Timestamp: ts, Meter: &models.MeterMetrics{EnergyConsumedKWh: 1}},
		Outcome:        models.OutcomeAccepted,
		CurrentUpdated: true,
		At:             ts,
	}
}

func TestPublisherFlushesOnShutdown(t *testing.T) {
	w := &fakeWriter{}
	var published int
	var mu sync.Mutex
	p := NewPublisher(w, 16, func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			published++
		}
	}, zap.NewNop())

	p.Notify(context.Background(), ingestEvent("M1"))
	p.Notify(context.Background(), ingestEvent("M2"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if !w.closed || len(w.msgs) != 2 {
		t.Fatalf("expected 2 messages and closed writer, got %d closed=%v", len(w.msgs), w.closed)
	}
	if string(w.msgs[0].Key) != "meter/M1" {
		t.Fatalf("unexpected key %q", w.msgs[0].Key)
	}
	var decoded models.IngestEvent
	if err := json.Unmarshal(w.msgs[1].Value, &decoded); err != nil || decoded.Reading.DeviceID != "M2" {
		t.Fatalf("unexpected payload %s", w.msgs[1].Value)
	}
	if published != 2 {
		t.Fatalf("expected 2 observed publishes, got %d", published)
	}
}

func TestPublisherDropsWhenQueueFull(t *testing.T) {
	var dropped int
	p := NewPublisher(&fakeWriter{}, 1, func(err error) {
		if err != nil {
			dropped++
		}
	}, zap.NewNop())
	p.Notify(context.Background(), ingestEvent("M1"))
	p.Notify(context.Background(), ingestEvent("M2"))
	if dropped != 1 {
		t.Fatalf("expected one dropped event, got %d", dropped)
	}
}

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify(context.Context, models.IngestEvent) { c.n++ }

func TestFanout(t *testing.T) {
	a, b := &countingNotifier{}, &countingNotifier{}
	Fanout{a, b}.Notify(context.Background(), ingestEvent("M1"))
	if a.n != 1 || b.n != 1 {
		t.Fatalf("expected both notifiers called, got %d %d", a.n, b.n)
	}
}
