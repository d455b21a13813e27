package repository

import (
	"context"
	"database/sql"
	"time"

	"voltlink/backend/services/telemetry-service/internal/models"
)

// CorrelationRepository persists meter/vehicle edges in correlation_edges.
type CorrelationRepository struct {
	db *sql.DB
}

// NewCorrelationRepository returns repository.
func NewCorrelationRepository(db *sql.DB) *CorrelationRepository {
	return &CorrelationRepository{db: db}
}

const edgeColumns = `id, meter_id, vehicle_id, active, valid_from, valid_to`

// Insert stores a new edge. A second active edge for the vehicle violates the
// partial unique index and yields ErrDuplicate.
func (r *CorrelationRepository) Insert(ctx context.Context, edge models.CorrelationEdge) error {
	const query = `
		INSERT INTO correlation_edges (id, meter_id, vehicle_id, active, valid_from, valid_to)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		edge.ID,
		edge.MeterID,
		edge.VehicleID,
		edge.Active,
		edge.ValidFrom,
		edge.ValidTo,
	)
	return classify("insert edge", err)
}

// ActiveForVehicle returns the vehicle's active edges.
func (r *CorrelationRepository) ActiveForVehicle(ctx context.Context, vehicleID string) ([]models.CorrelationEdge, error) {
	const query = `SELECT ` + edgeColumns + `
		FROM correlation_edges
		WHERE vehicle_id = $1 AND active
		ORDER BY valid_from
	`
	return r.queryEdges(ctx, "active edges", query, vehicleID)
}

// EdgesValidAt returns the vehicle's edges whose validity interval contains at.
func (r *CorrelationRepository) EdgesValidAt(ctx context.Context, vehicleID string, at time.Time) ([]models.CorrelationEdge, error) {
	const query = `SELECT ` + edgeColumns + `
		FROM correlation_edges
		WHERE vehicle_id = $1
		  AND valid_from <= $2
		  AND (valid_to IS NULL OR valid_to > $2)
		ORDER BY valid_from
	`
	return r.queryEdges(ctx, "edges valid at", query, vehicleID, at)
}

// ListByVehicle returns every edge of the vehicle, oldest first.
func (r *CorrelationRepository) ListByVehicle(ctx context.Context, vehicleID string) ([]models.CorrelationEdge, error) {
	const query = `SELECT ` + edgeColumns + `
		FROM correlation_edges
		WHERE vehicle_id = $1
		ORDER BY valid_from
	`
	return r.queryEdges(ctx, "list edges", query, vehicleID)
}

// Deactivate closes the active edge between meter and vehicle.
func (r *CorrelationRepository) Deactivate(ctx context.Context, meterID, vehicleID string, at time.Time) (bool, error) {
	const query = `
		UPDATE correlation_edges
		SET active = FALSE,
		    valid_to = $3
		WHERE meter_id = $1 AND vehicle_id = $2 AND active
	`
	result, err := r.db.ExecContext(ctx, query, meterID, vehicleID, at)
	if err != nil {
		return false, classify("deactivate edge", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ActiveVehicles pages through vehicle IDs with an active edge using keyset pagination.
func (r *CorrelationRepository) ActiveVehicles(ctx context.Context, after string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT DISTINCT vehicle_id
		FROM correlation_edges
		WHERE active AND vehicle_id > $1
		ORDER BY vehicle_id
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, after, limit)
	if err != nil {
		return nil, classify("active vehicles", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("active vehicles", err)
	}
	return ids, nil
}

func (r *CorrelationRepository) queryEdges(ctx context.Context, op, query string, args ...interface{}) ([]models.CorrelationEdge, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var edges []models.CorrelationEdge
	for rows.Next() {
		var (
			e       models.CorrelationEdge
			validTo sql.NullTime
		)
		if err := rows.Scan(
			&e.ID,
			&e.MeterID,
			&e.VehicleID,
			&e.Active,
			&e.ValidFrom,
			&validTo,
		); err != nil {
			return nil, err
		}
		e.ValidFrom = e.ValidFrom.UTC()
		if validTo.Valid {
			t := validTo.Time.UTC()
			e.ValidTo = &t
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return edges, nil
}
