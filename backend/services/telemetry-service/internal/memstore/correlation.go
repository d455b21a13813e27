package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"voltlink/backend/services/telemetry-service/internal/models"
	"voltlink/backend/services/telemetry-service/internal/repository"
)

// CorrelationStore holds correlation edges in memory. It enforces the same
// one-active-edge-per-vehicle constraint as the Postgres partial unique index.
type CorrelationStore struct {
	mu    sync.RWMutex
	edges []models.CorrelationEdge
}

// NewCorrelationStore returns an empty store.
func NewCorrelationStore() *CorrelationStore {
	return &CorrelationStore{}
}

// Insert stores a new edge.
func (s *CorrelationStore) Insert(ctx context.Context, edge models.CorrelationEdge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.edges {
		if e.ID == edge.ID || (edge.Active && e.Active && e.VehicleID == edge.VehicleID) {
			return repository.ErrDuplicate
		}
	}
	s.edges = append(s.edges, cloneEdge(edge))
	return nil
}

// ActiveForVehicle returns the vehicle's active edges.
func (s *CorrelationStore) ActiveForVehicle(ctx context.Context, vehicleID string) ([]models.CorrelationEdge, error) {
	return s.filter(ctx, func(e models.CorrelationEdge) bool {
		return e.Active && e.VehicleID == vehicleID
	})
}

// EdgesValidAt returns the vehicle's edges whose validity interval contains at.
func (s *CorrelationStore) EdgesValidAt(ctx context.Context, vehicleID string, at time.Time) ([]models.CorrelationEdge, error) {
	return s.filter(ctx, func(e models.CorrelationEdge) bool {
		return e.VehicleID == vehicleID && e.ValidAt(at)
	})
}

// ListByVehicle returns every edge of the vehicle, oldest first.
func (s *CorrelationStore) ListByVehicle(ctx context.Context, vehicleID string) ([]models.CorrelationEdge, error) {
	return s.filter(ctx, func(e models.CorrelationEdge) bool {
		return e.VehicleID == vehicleID
	})
}

// Deactivate closes the active edge between meter and vehicle.
func (s *CorrelationStore) Deactivate(ctx context.Context, meterID, vehicleID string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for i := range s.edges {
		e := &s.edges[i]
		if e.Active && e.MeterID == meterID && e.VehicleID == vehicleID {
			validTo := at
			e.Active = false
			e.ValidTo = &validTo
			found = true
		}
	}
	return found, nil
}

// ActiveVehicles pages through vehicle IDs with an active edge, in ascending order after the given ID.
func (s *CorrelationStore) ActiveVehicles(ctx context.Context, after string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	seen := make(map[string]struct{})
	for _, e := range s.edges {
		if e.Active && e.VehicleID > after {
			seen[e.VehicleID] = struct{}{}
		}
	}
	s.mu.RUnlock()

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Put stores an edge without constraint checks, for seeding inconsistent states in tests.
func (s *CorrelationStore) Put(edge models.CorrelationEdge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = append(s.edges, cloneEdge(edge))
}

func (s *CorrelationStore) filter(ctx context.Context, keep func(models.CorrelationEdge) bool) ([]models.CorrelationEdge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CorrelationEdge
	for _, e := range s.edges {
		if keep(e) {
			out = append(out, cloneEdge(e))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ValidFrom.Before(out[j].ValidFrom) })
	return out, nil
}

func cloneEdge(e models.CorrelationEdge) models.CorrelationEdge {
	if e.ValidTo != nil {
		t := *e.ValidTo
		e.ValidTo = &t
	}
	return e
}
