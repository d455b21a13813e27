package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// DeviceClass identifies the kind of device a reading comes from.
type DeviceClass string

const (
	ClassMeter   DeviceClass = "meter"
	ClassVehicle DeviceClass = "vehicle"
)

// ParseDeviceClass resolves a class name, case-insensitively.
func ParseDeviceClass(s string) (DeviceClass, error) {
	switch DeviceClass(strings.ToLower(strings.TrimSpace(s))) {
	case ClassMeter:
		return ClassMeter, nil
	case ClassVehicle:
		return ClassVehicle, nil
	default:
		return "", fmt.Errorf("unknown device class %q", s)
	}
}

// Valid reports whether c is a known class.
func (c DeviceClass) Valid() bool {
	return c == ClassMeter || c == ClassVehicle
}

// MeterMetrics is the payload of a power meter reading. Energy is the delta since
// the previous reading of the same meter.
type MeterMetrics struct {
	EnergyConsumedKWh float64 `json:"energy_consumed_kwh"`
	VoltageV          float64 `json:"voltage_v"`
}

// VehicleMetrics is the payload of a vehicle reading. Energy is the delta since
// the previous reading of the same vehicle.
type VehicleMetrics struct {
	StateOfChargePct   float64 `json:"state_of_charge_pct"`
	EnergyDeliveredKWh float64 `json:"energy_delivered_kwh"`
	BatteryTempC       float64 `json:"battery_temp_c"`
}

// Reading is one canonical telemetry sample. It is never modified after Validate succeeds.
type Reading struct {
	DeviceID  string          `json:"device_id"`
	Class     DeviceClass     `json:"device_class"`
	Timestamp time.Time       `json:"timestamp"`
	Meter     *MeterMetrics   `json:"meter,omitempty"`
	Vehicle   *VehicleMetrics `json:"vehicle,omitempty"`
}

// Key returns the identity of the reading's device.
func (r Reading) Key() DeviceKey {
	return DeviceKey{Class: r.Class, ID: r.DeviceID}
}

// Validate checks the structural constraints the engine relies on.
func (r Reading) Validate() error {
	if strings.TrimSpace(r.DeviceID) == "" {
		return errors.New("device_id is required")
	}
	if r.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	switch r.Class {
	case ClassMeter:
		if r.Meter == nil || r.Vehicle != nil {
			return errors.New("meter reading must carry meter metrics only")
		}
		if !finite(r.Meter.EnergyConsumedKWh, r.Meter.VoltageV) {
			return errors.New("meter metrics must be finite")
		}
	case ClassVehicle:
		if r.Vehicle == nil || r.Meter != nil {
			return errors.New("vehicle reading must carry vehicle metrics only")
		}
		if !finite(r.Vehicle.StateOfChargePct, r.Vehicle.EnergyDeliveredKWh, r.Vehicle.BatteryTempC) {
			return errors.New("vehicle metrics must be finite")
		}
	default:
		return fmt.Errorf("unknown device class %q", r.Class)
	}
	return nil
}

// Normalized returns a copy with the timestamp in UTC truncated to microseconds,
// the resolution of the history index.
func (r Reading) Normalized() Reading {
	out := r
	out.Timestamp = r.Timestamp.UTC().Truncate(time.Microsecond)
	if r.Meter != nil {
		m := *r.Meter
		out.Meter = &m
	}
	if r.Vehicle != nil {
		v := *r.Vehicle
		out.Vehicle = &v
	}
	return out
}

// SamePayload reports whether two readings for the same key and timestamp carry identical metrics.
func (r Reading) SamePayload(other Reading) bool {
	if r.Class != other.Class {
		return false
	}
	switch r.Class {
	case ClassMeter:
		return r.Meter != nil && other.Meter != nil && *r.Meter == *other.Meter
	case ClassVehicle:
		return r.Vehicle != nil && other.Vehicle != nil && *r.Vehicle == *other.Vehicle
	}
	return false
}

// Value returns the named metric of the reading.
func (r Reading) Value(metric Metric) (float64, bool) {
	switch {
	case r.Meter != nil:
		switch metric {
		case MetricEnergyConsumed:
			return r.Meter.EnergyConsumedKWh, true
		case MetricVoltage:
			return r.Meter.VoltageV, true
		}
	case r.Vehicle != nil:
		switch metric {
		case MetricEnergyDelivered:
			return r.Vehicle.EnergyDeliveredKWh, true
		case MetricStateOfCharge:
			return r.Vehicle.StateOfChargePct, true
		case MetricBatteryTemp:
			return r.Vehicle.BatteryTempC, true
		}
	}
	return 0, false
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// DeviceKey identifies a device. IDs are unique within a class only.
type DeviceKey struct {
	Class DeviceClass
	ID    string
}

func (k DeviceKey) String() string {
	return string(k.Class) + "/" + k.ID
}
