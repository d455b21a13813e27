package memstore

import (
	"context"
	"sync"
	"time"

	"voltlink/backend/services/telemetry-service/internal/models"
	"voltlink/backend/services/telemetry-service/internal/repository"
)

type stateEntry struct {
	mu    sync.Mutex
	state *models.CurrentState
}

// CurrentStateStore keeps one latest-state row per device, each behind its own lock.
type CurrentStateStore struct {
	entries sync.Map // models.DeviceKey -> *stateEntry
}

// NewCurrentStateStore returns an empty store.
func NewCurrentStateStore() *CurrentStateStore {
	return &CurrentStateStore{}
}

// Upsert replaces the device row unless the stored reading is strictly newer.
func (s *CurrentStateStore) Upsert(ctx context.Context, r models.Reading, updatedAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	v, _ := s.entries.LoadOrStore(r.Key(), &stateEntry{})
	entry := v.(*stateEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.state != nil && entry.state.Timestamp.After(r.Timestamp) {
		return false, nil
	}
	entry.state = &models.CurrentState{Reading: r, LastUpdated: updatedAt}
	return true, nil
}

// Get returns the latest state of key.
func (s *CurrentStateStore) Get(ctx context.Context, key models.DeviceKey) (models.CurrentState, error) {
	if err := ctx.Err(); err != nil {
		return models.CurrentState{}, err
	}
	v, ok := s.entries.Load(key)
	if !ok {
		return models.CurrentState{}, repository.ErrNotFound
	}
	entry := v.(*stateEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.state == nil {
		return models.CurrentState{}, repository.ErrNotFound
	}
	return *entry.state, nil
}
