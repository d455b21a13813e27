package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"voltlink/backend/services/telemetry-service/internal/models"
)

// CurrentStateRepository keeps one row per device in current_state.
type CurrentStateRepository struct {
	db *sql.DB
}

// NewCurrentStateRepository returns repository.
func NewCurrentStateRepository(db *sql.DB) *CurrentStateRepository {
	return &CurrentStateRepository{db: db}
}

// Upsert inserts or replaces the device row in one statement. The WHERE clause keeps a
// strictly newer row in place, so concurrent writers converge on the latest timestamp.
func (r *CurrentStateRepository) Upsert(ctx context.Context, reading models.Reading, updatedAt time.Time) (bool, error) {
	const query = `
		INSERT INTO current_state (device_class, device_id, ts, energy_consumed_kwh, voltage_v,
			state_of_charge_pct, energy_delivered_kwh, battery_temp_c, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (device_class, device_id) DO UPDATE SET
			ts = EXCLUDED.ts,
			energy_consumed_kwh = EXCLUDED.energy_consumed_kwh,
			voltage_v = EXCLUDED.voltage_v,
			state_of_charge_pct = EXCLUDED.state_of_charge_pct,
			energy_delivered_kwh = EXCLUDED.energy_delivered_kwh,
			battery_temp_c = EXCLUDED.battery_temp_c,
			last_updated = EXCLUDED.last_updated
		WHERE current_state.ts <= EXCLUDED.ts
	`
	var consumed, voltage, soc, delivered, temp sql.NullFloat64
	if m := reading.Meter; m != nil {
		consumed = sql.NullFloat64{Float64: m.EnergyConsumedKWh, Valid: true}
		voltage = sql.NullFloat64{Float64: m.VoltageV, Valid: true}
	}
	if v := reading.Vehicle; v != nil {
		soc = sql.NullFloat64{Float64: v.StateOfChargePct, Valid: true}
		delivered = sql.NullFloat64{Float64: v.EnergyDeliveredKWh, Valid: true}
		temp = sql.NullFloat64{Float64: v.BatteryTempC, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		reading.Class,
		reading.DeviceID,
		reading.Timestamp,
		consumed,
		voltage,
		soc,
		delivered,
		temp,
		updatedAt,
	)
	if err != nil {
		return false, classify("upsert current state", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Get returns the row for key.
func (r *CurrentStateRepository) Get(ctx context.Context, key models.DeviceKey) (models.CurrentState, error) {
	const query = `
		SELECT ts, energy_consumed_kwh, voltage_v, state_of_charge_pct, energy_delivered_kwh, battery_temp_c, last_updated
		FROM current_state
		WHERE device_class = $1 AND device_id = $2
	`
	var (
		state                                 models.CurrentState
		consumed, voltage, soc, delivered, tc sql.NullFloat64
	)
	err := r.db.QueryRowContext(ctx, query, key.Class, key.ID).Scan(
		&state.Timestamp,
		&consumed,
		&voltage,
		&soc,
		&delivered,
		&tc,
		&state.LastUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CurrentState{}, ErrNotFound
	}
	if err != nil {
		return models.CurrentState{}, classify("get current state", err)
	}

	state.DeviceID = key.ID
	state.Class = key.Class
	state.Timestamp = state.Timestamp.UTC()
	state.LastUpdated = state.LastUpdated.UTC()
	switch key.Class {
	case models.ClassMeter:
		state.Meter = &models.MeterMetrics{EnergyConsumedKWh: consumed.Float64, VoltageV: voltage.Float64}
	case models.ClassVehicle:
		state.Vehicle = &models.VehicleMetrics{StateOfChargePct: soc.Float64, EnergyDeliveredKWh: delivered.Float64, BatteryTempC: tc.Float64}
	}
	return state, nil
}
