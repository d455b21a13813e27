package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voltlink/backend/services/telemetry-service/internal/models"
	"voltlink/backend/services/telemetry-service/internal/repository"
)

// CorrelationService is the registry of meter to vehicle mappings.
type CorrelationService struct {
	store  CorrelationStore
	now    func() time.Time
	newID  func() string
	logger *zap.Logger
}

// NewCorrelationService builds the registry.
func NewCorrelationService(store CorrelationStore, logger *zap.Logger) *CorrelationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CorrelationService{
		store:  store,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
		logger: logger,
	}
}

// AddMapping activates an edge from meterID to vehicleID. Re-adding the active pair
// returns the existing edge; mapping a vehicle that is already mapped to another
// meter fails until that edge is deactivated.
func (s *CorrelationService) AddMapping(ctx context.Context, meterID, vehicleID string) (models.CorrelationEdge, error) {
	meterID, vehicleID = strings.TrimSpace(meterID), strings.TrimSpace(vehicleID)
	if meterID == "" || vehicleID == "" {
		return models.CorrelationEdge{}, fmt.Errorf("%w: meter_id and vehicle_id are required", ErrValidationRejected)
	}

	active, err := s.store.ActiveForVehicle(ctx, vehicleID)
	if err != nil {
		return models.CorrelationEdge{}, fmt.Errorf("load active edges: %w", err)
	}
	if len(active) == 1 && active[0].MeterID == meterID {
		return active[0], nil
	}
	if len(active) > 0 {
		return models.CorrelationEdge{}, fmt.Errorf("%w: vehicle %s is mapped to meter %s", ErrDuplicateActiveMapping, vehicleID, active[0].MeterID)
	}

	edge := models.CorrelationEdge{
		ID:        s.newID(),
		MeterID:   meterID,
		VehicleID: vehicleID,
		Active:    true,
		ValidFrom: s.now().UTC().Truncate(time.Microsecond),
	}
	if err := s.store.Insert(ctx, edge); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return models.CorrelationEdge{}, fmt.Errorf("%w: vehicle %s was mapped concurrently", ErrDuplicateActiveMapping, vehicleID)
		}
		return models.CorrelationEdge{}, fmt.Errorf("insert edge: %w", err)
	}
	s.logger.Info("correlation added", zap.String("meter_id", meterID), zap.String("vehicle_id", vehicleID), zap.String("edge_id", edge.ID))
	return edge, nil
}

// Deactivate closes the active edge between meterID and vehicleID.
func (s *CorrelationService) Deactivate(ctx context.Context, meterID, vehicleID string) error {
	ok, err := s.store.Deactivate(ctx, strings.TrimSpace(meterID), strings.TrimSpace(vehicleID), s.now().UTC().Truncate(time.Microsecond))
	if err != nil {
		return fmt.Errorf("deactivate edge: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: meter %s to vehicle %s", ErrEdgeNotFound, meterID, vehicleID)
	}
	s.logger.Info("correlation deactivated", zap.String("meter_id", meterID), zap.String("vehicle_id", vehicleID))
	return nil
}

// ResolveMeterFor returns the meter the vehicle was mapped to at the given time.
// More than one distinct meter is reported as ambiguous rather than picking one.
func (s *CorrelationService) ResolveMeterFor(ctx context.Context, vehicleID string, at time.Time) (string, error) {
	edges, err := s.store.EdgesValidAt(ctx, vehicleID, at.UTC())
	if err != nil {
		return "", fmt.Errorf("load edges: %w", err)
	}
	meters := make(map[string]struct{}, len(edges))
	for _, e := range edges {
		meters[e.MeterID] = struct{}{}
	}
	switch len(meters) {
	case 0:
		return "", fmt.Errorf("%w: vehicle %s", ErrNoActiveMapping, vehicleID)
	case 1:
		return edges[0].MeterID, nil
	default:
		s.logger.Warn("ambiguous correlation", zap.String("vehicle_id", vehicleID), zap.Int("meters", len(meters)))
		return "", fmt.Errorf("%w: vehicle %s has %d meters", ErrAmbiguousMapping, vehicleID, len(meters))
	}
}

// ListEdges returns the full mapping history of a vehicle.
func (s *CorrelationService) ListEdges(ctx context.Context, vehicleID string) ([]models.CorrelationEdge, error) {
	return s.store.ListByVehicle(ctx, vehicleID)
}

// ActiveVehicles pages through mapped vehicles in ID order.
func (s *CorrelationService) ActiveVehicles(ctx context.Context, after string, limit int) ([]string, error) {
	return s.store.ActiveVehicles(ctx, after, limit)
}
