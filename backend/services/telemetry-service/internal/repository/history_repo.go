package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"voltlink/backend/services/telemetry-service/internal/models"
)

// HistoryRepository stores readings in the append-only meter_history and vehicle_history tables.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository returns repository.
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// metricColumns whitelists the columns Aggregate may interpolate.
var metricColumns = map[models.Metric]string{
	models.MetricEnergyConsumed:  "energy_consumed_kwh",
	models.MetricVoltage:         "voltage_v",
	models.MetricEnergyDelivered: "energy_delivered_kwh",
	models.MetricStateOfCharge:   "state_of_charge_pct",
	models.MetricBatteryTemp:     "battery_temp_c",
}

func historyTable(class models.DeviceClass) (string, error) {
	switch class {
	case models.ClassMeter:
		return "meter_history", nil
	case models.ClassVehicle:
		return "vehicle_history", nil
	}
	return "", fmt.Errorf("unknown device class %q", class)
}

// Append inserts the reading. There is no update path: a reading at an existing
// (device_id, ts) fails with ErrDuplicate.
func (r *HistoryRepository) Append(ctx context.Context, reading models.Reading) error {
	var err error
	switch reading.Class {
	case models.ClassMeter:
		const query = `
			INSERT INTO meter_history (device_id, ts, energy_consumed_kwh, voltage_v)
			VALUES ($1, $2, $3, $4)
		`
		_, err = r.db.ExecContext(ctx, query,
			reading.DeviceID,
			reading.Timestamp,
			reading.Meter.EnergyConsumedKWh,
			reading.Meter.VoltageV,
		)
	case models.ClassVehicle:
		const query = `
			INSERT INTO vehicle_history (device_id, ts, state_of_charge_pct, energy_delivered_kwh, battery_temp_c)
			VALUES ($1, $2, $3, $4, $5)
		`
		_, err = r.db.ExecContext(ctx, query,
			reading.DeviceID,
			reading.Timestamp,
			reading.Vehicle.StateOfChargePct,
			reading.Vehicle.EnergyDeliveredKWh,
			reading.Vehicle.BatteryTempC,
		)
	default:
		return fmt.Errorf("append history: unknown device class %q", reading.Class)
	}
	return classify("append history", err)
}

// Get loads the reading stored at key and ts.
func (r *HistoryRepository) Get(ctx context.Context, key models.DeviceKey, ts time.Time) (models.Reading, error) {
	reading := models.Reading{DeviceID: key.ID, Class: key.Class}
	var err error
	switch key.Class {
	case models.ClassMeter:
		const query = `
			SELECT ts, energy_consumed_kwh, voltage_v
			FROM meter_history
			WHERE device_id = $1 AND ts = $2
		`
		m := &models.MeterMetrics{}
		err = r.db.QueryRowContext(ctx, query, key.ID, ts).Scan(&reading.Timestamp, &m.EnergyConsumedKWh, &m.VoltageV)
		reading.Meter = m
	case models.ClassVehicle:
		const query = `
			SELECT ts, state_of_charge_pct, energy_delivered_kwh, battery_temp_c
			FROM vehicle_history
			WHERE device_id = $1 AND ts = $2
		`
		v := &models.VehicleMetrics{}
		err = r.db.QueryRowContext(ctx, query, key.ID, ts).Scan(&reading.Timestamp, &v.StateOfChargePct, &v.EnergyDeliveredKWh, &v.BatteryTempC)
		reading.Vehicle = v
	default:
		return models.Reading{}, fmt.Errorf("get history: unknown device class %q", key.Class)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return models.Reading{}, ErrNotFound
	}
	if err != nil {
		return models.Reading{}, classify("get history", err)
	}
	reading.Timestamp = reading.Timestamp.UTC()
	return reading, nil
}

// Aggregate computes stats of metric over start <= ts < end inside the database.
func (r *HistoryRepository) Aggregate(ctx context.Context, key models.DeviceKey, metric models.Metric, start, end time.Time) (models.Stats, error) {
	table, err := historyTable(key.Class)
	if err != nil {
		return models.Stats{}, err
	}
	if err := models.CheckMetric(key.Class, metric); err != nil {
		return models.Stats{}, err
	}
	col := metricColumns[metric]

	query := fmt.Sprintf(`
		SELECT COUNT(%[1]s),
		       COALESCE(SUM(%[1]s), 0),
		       COALESCE(AVG(%[1]s), 0),
		       COALESCE(MIN(%[1]s), 0),
		       COALESCE(MAX(%[1]s), 0)
		FROM %[2]s
		WHERE device_id = $1 AND ts >= $2 AND ts < $3
	`, col, table)

	var stats models.Stats
	if err := r.db.QueryRowContext(ctx, query, key.ID, start, end).Scan(
		&stats.Count,
		&stats.Sum,
		&stats.Avg,
		&stats.Min,
		&stats.Max,
	); err != nil {
		return models.Stats{}, classify("aggregate history", err)
	}
	return stats, nil
}
