package models

import "fmt"

// Metric names a numeric field of a reading that can be aggregated.
type Metric string

const (
	MetricEnergyConsumed  Metric = "energy_consumed_kwh"
	MetricVoltage         Metric = "voltage_v"
	MetricEnergyDelivered Metric = "energy_delivered_kwh"
	MetricStateOfCharge   Metric = "state_of_charge_pct"
	MetricBatteryTemp     Metric = "battery_temp_c"
)

// PrimaryMetric is the energy metric windowed stats default to for a class.
func PrimaryMetric(class DeviceClass) Metric {
	if class == ClassVehicle {
		return MetricEnergyDelivered
	}
	return MetricEnergyConsumed
}

// MetricsFor lists the metrics a class carries.
func MetricsFor(class DeviceClass) []Metric {
	switch class {
	case ClassMeter:
		return []Metric{MetricEnergyConsumed, MetricVoltage}
	case ClassVehicle:
		return []Metric{MetricEnergyDelivered, MetricStateOfCharge, MetricBatteryTemp}
	}
	return nil
}

// CheckMetric fails when metric is not carried by class.
func CheckMetric(class DeviceClass, metric Metric) error {
	for _, m := range MetricsFor(class) {
		if m == metric {
			return nil
		}
	}
	return fmt.Errorf("metric %q is not available for %s devices", metric, class)
}
