package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"voltlink/backend/services/telemetry-service/internal/models"
	"voltlink/backend/services/telemetry-service/internal/repository"
)

type series struct {
	mu       sync.RWMutex
	readings []models.Reading // sorted by Timestamp asc, unique timestamps
}

// HistoryStore is an append-only in-process history, one sorted series per device.
type HistoryStore struct {
	mu     sync.RWMutex
	series map[models.DeviceKey]*series
}

// NewHistoryStore returns an empty store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{series: make(map[models.DeviceKey]*series)}
}

func (s *HistoryStore) lookup(key models.DeviceKey, create bool) *series {
	s.mu.RLock()
	sr, ok := s.series[key]
	s.mu.RUnlock()
	if ok || !create {
		return sr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sr, ok = s.series[key]; !ok {
		sr = &series{}
		s.series[key] = sr
	}
	return sr
}

// search returns the index of the first reading at or after ts.
func (sr *series) search(ts time.Time) int {
	return sort.Search(len(sr.readings), func(i int) bool {
		return !sr.readings[i].Timestamp.Before(ts)
	})
}

// Append inserts the reading in timestamp order; an existing timestamp yields ErrDuplicate.
func (s *HistoryStore) Append(ctx context.Context, r models.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sr := s.lookup(r.Key(), true)
	sr.mu.Lock()
	defer sr.mu.Unlock()

	idx := sr.search(r.Timestamp)
	if idx < len(sr.readings) && sr.readings[idx].Timestamp.Equal(r.Timestamp) {
		return repository.ErrDuplicate
	}
	sr.readings = append(sr.readings, models.Reading{})
	copy(sr.readings[idx+1:], sr.readings[idx:])
	sr.readings[idx] = r
	return nil
}

// Get returns the reading recorded for key at ts.
func (s *HistoryStore) Get(ctx context.Context, key models.DeviceKey, ts time.Time) (models.Reading, error) {
	if err := ctx.Err(); err != nil {
		return models.Reading{}, err
	}
	sr := s.lookup(key, false)
	if sr == nil {
		return models.Reading{}, repository.ErrNotFound
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	idx := sr.search(ts)
	if idx < len(sr.readings) && sr.readings[idx].Timestamp.Equal(ts) {
		return sr.readings[idx], nil
	}
	return models.Reading{}, repository.ErrNotFound
}

// Aggregate folds metric over readings with start <= ts < end in a single pass.
func (s *HistoryStore) Aggregate(ctx context.Context, key models.DeviceKey, metric models.Metric, start, end time.Time) (models.Stats, error) {
	if err := ctx.Err(); err != nil {
		return models.Stats{}, err
	}
	var stats models.Stats
	sr := s.lookup(key, false)
	if sr == nil {
		return stats, nil
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	for i := sr.search(start); i < len(sr.readings) && sr.readings[i].Timestamp.Before(end); i++ {
		if v, ok := sr.readings[i].Value(metric); ok {
			stats = stats.Add(v)
		}
	}
	return stats, nil
}

// Len returns how many readings are recorded for key.
func (s *HistoryStore) Len(key models.DeviceKey) int {
	sr := s.lookup(key, false)
	if sr == nil {
		return 0
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return len(sr.readings)
}
