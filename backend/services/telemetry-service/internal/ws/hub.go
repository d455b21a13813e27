package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"voltlink/backend/services/telemetry-service/internal/models"
)

// Update is the message pushed to live subscribers.
type Update struct {
	Type     string              `json:"type"`
	State    models.CurrentState `json:"state"`
	Outcome  models.Outcome      `json:"outcome"`
	Received time.Time           `json:"received_at"`
}

// Hub tracks live subscribers and fans current-state changes out to them.
type Hub struct {
	mu           sync.RWMutex
	clients      map[*Client]struct{}
	pingInterval time.Duration
	logger       *zap.Logger

	// seenMu orders fan-out per device; latest holds the newest timestamp sent per device.
	seenMu sync.Mutex
	latest map[models.DeviceKey]time.Time
}

// NewHub builds the subscriber registry.
func NewHub(pingInterval time.Duration, logger *zap.Logger) *Hub {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Hub{
		clients:      make(map[*Client]struct{}),
		pingInterval: pingInterval,
		logger:       logger,
		latest:       make(map[models.DeviceKey]time.Time),
	}
}

// PingInterval is how often clients probe their peer.
func (h *Hub) PingInterval() time.Duration {
	return h.pingInterval
}

// Add registers a subscriber.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// Remove unregisters a subscriber.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify pushes readings that replaced a device's current state to matching subscribers.
// An update older than one already sent for the device is dropped, so a subscriber
// never sees the state move backwards. Sends never block.
func (h *Hub) Notify(_ context.Context, event models.IngestEvent) {
	if !event.CurrentUpdated {
		return
	}
	key := event.Reading.Key()
	ts := event.Reading.Timestamp
	msg, err := json.Marshal(Update{
		Type:     "current_state",
		State:    models.CurrentState{Reading: event.Reading, LastUpdated: event.At},
		Outcome:  event.Outcome,
		Received: event.At,
	})
	if err != nil {
		h.logger.Warn("failed to encode live update", zap.Error(err))
		return
	}

	h.seenMu.Lock()
	defer h.seenMu.Unlock()
	if last, ok := h.latest[key]; ok && ts.Before(last) {
		return
	}
	h.latest[key] = ts

	for _, c := range h.snapshot() {
		if c.filter.matches(key) {
			c.Send(msg)
		}
	}
}

// Start blocks until ctx is done and then disconnects every subscriber.
// Clients ping their peers from their own write pumps.
func (h *Hub) Start(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

func (h *Hub) closeAll() {
	for _, c := range h.snapshot() {
		c.Close()
	}
}
