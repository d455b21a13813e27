package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voltlink/backend/services/telemetry-service/internal/models"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/current" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", n, hub.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func event(class models.DeviceClass, id string, updated bool) models.IngestEvent {
	r := models.Reading{DeviceID: id, Class: class, Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	if class == models.ClassMeter {
		r.Meter = &models.MeterMetrics{EnergyConsumedKWh: 1, VoltageV: 230}
	} else {
		r.Vehicle = &models.VehicleMetrics{StateOfChargePct: 50}
	}
	return models.IngestEvent{Reading: r, Outcome: models.OutcomeAccepted, CurrentUpdated: updated, At: r.Timestamp}
}

func TestHubDeliversMatchingUpdates(t *testing.T) {
	hub := NewHub(time.Minute, zap.NewNop())
	srv := httptest.NewServer(NewServer(hub, time.Second, 8, zap.NewNop()))
	defer srv.Close()

	all := dial(t, srv, "")
	meters := dial(t, srv, "?class=meter&device_id=M1")
	waitForClients(t, hub, 2)

	hub.Notify(context.Background(), event(models.ClassMeter, "M1", false))
	hub.Notify(context.Background(), event(models.ClassVehicle, "V1", true))
	hub.Notify(context.Background(), event(models.ClassMeter, "M1", true))

	var first, second Update
	_ = all.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := all.ReadJSON(&first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := all.ReadJSON(&second); err != nil {
		t.Fatalf("read: %v", err)
	}
	if first.State.DeviceID != "V1" || second.State.DeviceID != "M1" {
		t.Fatalf("unexpected order %s, %s", first.State.DeviceID, second.State.DeviceID)
	}

	_ = meters.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := meters.ReadMessage()
	if err != nil {
		t.Fatalf("read filtered: %v", err)
	}
	var got Update
	if err := json.Unmarshal(raw, &got); err != nil || got.State.DeviceID != "M1" || got.Type != "current_state" {
		t.Fatalf("unexpected filtered update %s", raw)
	}
}

func TestHubDropsClosedSubscribers(t *testing.T) {
	hub := NewHub(time.Minute, zap.NewNop())
	srv := httptest.NewServer(NewServer(hub, time.Second, 8, zap.NewNop()))
	defer srv.Close()

	conn := dial(t, srv, "")
	waitForClients(t, hub, 1)
	conn.Close()
	waitForClients(t, hub, 0)
}

func TestServerRejectsUnknownClass(t *testing.T) {
	hub := NewHub(time.Minute, zap.NewNop())
	srv := httptest.NewServer(NewServer(hub, time.Second, 8, zap.NewNop()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/current?class=charger"
	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil || resp == nil || resp.StatusCode != 400 {
		t.Fatalf("expected 400 handshake failure, got %v", err)
	}
}

func TestHubDropsOutOfOrderUpdates(t *testing.T) {
	hub := NewHub(time.Minute, zap.NewNop())
	srv := httptest.NewServer(NewServer(hub, time.Second, 8, zap.NewNop()))
	defer srv.Close()

	conn := dial(t, srv, "")
	waitForClients(t, hub, 1)

	newer := event(models.ClassMeter, "M1", true)
	newer.Reading.Timestamp = newer.Reading.Timestamp.Add(time.Second)
	hub.Notify(context.Background(), newer)
	hub.Notify(context.Background(), event(models.ClassMeter, "M1", true))
	hub.Notify(context.Background(), event(models.ClassVehicle, "V1", true))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second Update
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read: %v", err)
	}
	if first.State.DeviceID != "M1" || !first.State.Timestamp.Equal(newer.Reading.Timestamp) {
		t.Fatalf("unexpected first update %+v", first.State)
	}
	if second.State.DeviceID != "V1" {
		t.Fatalf("stale M1 update was delivered: %+v", second.State)
	}
}

func TestNotifyNotBlockedBySlowSubscriber(t *testing.T) {
	hub := NewHub(50*time.Millisecond, zap.NewNop())
	srv := httptest.NewServer(NewServer(hub, 3*time.Second, 8, zap.NewNop()))
	defer srv.Close()

	dial(t, srv, "?class=meter&device_id=M1") // never read
	waitForClients(t, hub, 1)
	stalled := hub.snapshot()[0]

	big := make([]byte, 256<<10)
	fillUntil := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(fillUntil) {
		stalled.Send(big)
		time.Sleep(time.Millisecond)
	}

	other := dial(t, srv, "")
	waitForClients(t, hub, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Start(ctx)

	time.Sleep(150 * time.Millisecond)
	go other.Close()

	for i := 0; i < 20; i++ {
		start := time.Now()
		hub.Notify(context.Background(), event(models.ClassVehicle, "V1", true))
		if took := time.Since(start); took > 100*time.Millisecond {
			t.Fatalf("notify took %s while a subscriber was stalled", took)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
