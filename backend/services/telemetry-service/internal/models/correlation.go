package models

import "time"

// CorrelationEdge links a meter to a vehicle for an interval of time.
type CorrelationEdge struct {
	ID        string     `db:"id" json:"id"`
	MeterID   string     `db:"meter_id" json:"meter_id"`
	VehicleID string     `db:"vehicle_id" json:"vehicle_id"`
	Active    bool       `db:"active" json:"active"`
	ValidFrom time.Time  `db:"valid_from" json:"valid_from"`
	ValidTo   *time.Time `db:"valid_to" json:"valid_to,omitempty"`
}

// ValidAt reports whether the edge was in force at t.
func (e CorrelationEdge) ValidAt(t time.Time) bool {
	if t.Before(e.ValidFrom) {
		return false
	}
	return e.ValidTo == nil || t.Before(*e.ValidTo)
}
