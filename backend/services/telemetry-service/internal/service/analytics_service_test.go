package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"voltlink/backend/services/telemetry-service/internal/models"
)

func ingestAll(t *testing.T, f *fixture, readings ...models.Reading) {
	t.Helper()
	for _, r := range readings {
		if _, err := f.ingest.Ingest(context.Background(), r); err != nil {
			t.Fatalf("ingest %s: %v", r.Key(), err)
		}
	}
}

func mapPair(t *testing.T, f *fixture, meterID, vehicleID string) {
	t.Helper()
	if _, err := f.correlation.AddMapping(context.Background(), meterID, vehicleID); err != nil {
		t.Fatalf("add mapping %s->%s: %v", meterID, vehicleID, err)
	}
}

func TestEfficiencyRatioExample(t *testing.T) {
	f := newFixture()
	ingestAll(t, f,
		meterReading("M1", baseTime, 45.5, 240.5),
		vehicleReading("V1", baseTime, 75.5, 38.7, 28.5),
	)
	mapPair(t, f, "M1", "V1")

	ratio, err := f.analytics.EfficiencyRatio(context.Background(), "V1", baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("efficiency ratio: %v", err)
	}
	if math.Abs(ratio-38.7/45.5) > 1e-9 || math.Abs(ratio-0.8505) > 1e-4 {
		t.Fatalf("expected ~0.8505, got %f", ratio)
	}
}

func TestEfficiencyRatioErrors(t *testing.T) {
	window := func() (time.Time, time.Time) { return baseTime.Add(-time.Hour), baseTime.Add(time.Hour) }

	t.Run("zero consumption", func(t *testing.T) {
		f := newFixture()
		ingestAll(t, f, meterReading("M1", baseTime, 0, 230), vehicleReading("V1", baseTime, 50, 10, 20))
		mapPair(t, f, "M1", "V1")
		start, end := window()
		ratio, err := f.analytics.EfficiencyRatio(context.Background(), "V1", start, end)
		if !errors.Is(err, ErrDivisionUndefined) {
			t.Fatalf("expected division undefined, got ratio=%f err=%v", ratio, err)
		}
	})

	t.Run("meter without data", func(t *testing.T) {
		f := newFixture()
		ingestAll(t, f, vehicleReading("V1", baseTime, 50, 10, 20))
		mapPair(t, f, "M1", "V1")
		start, end := window()
		_, err := f.analytics.EfficiencyRatio(context.Background(), "V1", start, end)
		if !errors.Is(err, ErrDivisionUndefined) || !errors.Is(err, ErrNoDataInWindow) {
			t.Fatalf("expected division undefined wrapping no data, got %v", err)
		}
	})

	t.Run("vehicle without data", func(t *testing.T) {
		f := newFixture()
		ingestAll(t, f, meterReading("M1", baseTime, 5, 230))
		mapPair(t, f, "M1", "V1")
		start, end := window()
		_, err := f.analytics.EfficiencyRatio(context.Background(), "V1", start, end)
		if !errors.Is(err, ErrNoDataInWindow) || errors.Is(err, ErrDivisionUndefined) {
			t.Fatalf("expected no data in window, got %v", err)
		}
	})

	t.Run("no mapping", func(t *testing.T) {
		f := newFixture()
		ingestAll(t, f, vehicleReading("V1", baseTime, 50, 10, 20))
		start, end := window()
		_, err := f.analytics.EfficiencyRatio(context.Background(), "V1", start, end)
		if !errors.Is(err, ErrNoActiveMapping) {
			t.Fatalf("expected no active mapping, got %v", err)
		}
	})

	t.Run("ambiguous mapping", func(t *testing.T) {
		f := newFixture()
		f.edges.Put(models.CorrelationEdge{ID: "e1", MeterID: "M1", VehicleID: "V1", Active: true, ValidFrom: baseTime})
		f.edges.Put(models.CorrelationEdge{ID: "e2", MeterID: "M2", VehicleID: "V1", Active: true, ValidFrom: baseTime})
		start, end := window()
		_, err := f.analytics.EfficiencyRatio(context.Background(), "V1", start, end)
		if !errors.Is(err, ErrAmbiguousMapping) {
			t.Fatalf("expected ambiguous mapping, got %v", err)
		}
	})
}

func TestEfficiencyRatioUsesCurrentMapping(t *testing.T) {
	f := newFixture()
	ingestAll(t, f,
		meterReading("M1", baseTime, 10, 230),
		meterReading("M2", baseTime, 20, 230),
		vehicleReading("V1", baseTime, 50, 10, 20),
	)
	mapPair(t, f, "M1", "V1")
	if err := f.correlation.Deactivate(context.Background(), "M1", "V1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	mapPair(t, f, "M2", "V1")

	ratio, err := f.analytics.EfficiencyRatio(context.Background(), "V1", baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("efficiency ratio: %v", err)
	}
	if ratio != 0.5 {
		t.Fatalf("expected ratio against M2, got %f", ratio)
	}
}

func TestWindowedStats(t *testing.T) {
	f := newFixture()
	ingestAll(t, f,
		meterReading("M1", baseTime, 2, 230),
		meterReading("M1", baseTime.Add(10*time.Minute), 4, 232),
		meterReading("M1", baseTime.Add(20*time.Minute), 6, 228),
		meterReading("M1", baseTime.Add(30*time.Minute), 100, 240),
	)
	ctx := context.Background()

	stats, err := f.analytics.WindowedStats(ctx, "M1", models.ClassMeter, baseTime, baseTime.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("windowed stats: %v", err)
	}
	want := models.Stats{Sum: 12, Avg: 4, Min: 2, Max: 6, Count: 3}
	if stats != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}

	volts, err := f.analytics.WindowedMetricStats(ctx, "M1", models.ClassMeter, models.MetricVoltage, baseTime, baseTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("voltage stats: %v", err)
	}
	if volts.Min != 228 || volts.Max != 240 || volts.Count != 4 {
		t.Fatalf("unexpected voltage stats: %+v", volts)
	}
}

func TestWindowedStatsMergeMatchesWholeWindow(t *testing.T) {
	f := newFixture()
	for i := 0; i < 12; i++ {
		ingestAll(t, f, vehicleReading("V1", baseTime.Add(time.Duration(i)*5*time.Minute), 50, float64(i%5)+0.25, 20))
	}
	ctx := context.Background()
	delta := 30 * time.Minute

	first, err := f.analytics.WindowedStats(ctx, "V1", models.ClassVehicle, baseTime, baseTime.Add(delta))
	if err != nil {
		t.Fatalf("first window: %v", err)
	}
	second, err := f.analytics.WindowedStats(ctx, "V1", models.ClassVehicle, baseTime.Add(delta), baseTime.Add(2*delta))
	if err != nil {
		t.Fatalf("second window: %v", err)
	}
	whole, err := f.analytics.WindowedStats(ctx, "V1", models.ClassVehicle, baseTime, baseTime.Add(2*delta))
	if err != nil {
		t.Fatalf("whole window: %v", err)
	}

	merged := first.Merge(second)
	if merged.Count != whole.Count || merged.Min != whole.Min || merged.Max != whole.Max || math.Abs(merged.Sum-whole.Sum) > 1e-9 {
		t.Fatalf("merged %+v differs from whole %+v", merged, whole)
	}
}

func TestWindowedStatsErrors(t *testing.T) {
	f := newFixture()
	ingestAll(t, f, meterReading("M1", baseTime, 2, 230))
	ctx := context.Background()

	if _, err := f.analytics.WindowedStats(ctx, "M1", models.ClassMeter, baseTime.Add(time.Hour), baseTime.Add(2*time.Hour)); !errors.Is(err, ErrNoDataInWindow) {
		t.Fatalf("expected no data in window, got %v", err)
	}
	if _, err := f.analytics.WindowedStats(ctx, "M1", models.ClassMeter, baseTime, baseTime); !errors.Is(err, ErrValidationRejected) {
		t.Fatalf("expected empty window rejection, got %v", err)
	}
	if _, err := f.analytics.WindowedStats(ctx, "M1", "charger", baseTime, baseTime.Add(time.Hour)); !errors.Is(err, ErrValidationRejected) {
		t.Fatalf("expected class rejection, got %v", err)
	}
	if _, err := f.analytics.WindowedMetricStats(ctx, "M1", models.ClassMeter, models.MetricBatteryTemp, baseTime, baseTime.Add(time.Hour)); !errors.Is(err, ErrValidationRejected) {
		t.Fatalf("expected metric rejection, got %v", err)
	}
}

func TestCurrentStatusUnknownDevice(t *testing.T) {
	f := newFixture()
	ingestAll(t, f, meterReading("D1", baseTime, 1, 230))
	if _, err := f.analytics.CurrentStatus(context.Background(), models.ClassVehicle, "D1"); !errors.Is(err, ErrDeviceUnknown) {
		t.Fatalf("expected device unknown, got %v", err)
	}
}

func TestLowEfficiencyDevices(t *testing.T) {
	f := newFixture()
	ingestAll(t, f,
		meterReading("M1", baseTime, 10, 230),
		vehicleReading("V1", baseTime, 50, 5, 20), // 0.5
		meterReading("M2", baseTime, 10, 230),
		vehicleReading("V2", baseTime, 50, 9, 20), // 0.9
		meterReading("M3", baseTime, 0, 230),
		vehicleReading("V3", baseTime, 50, 1, 20), // undefined
		vehicleReading("V4", baseTime, 50, 1, 20), // unmapped
		meterReading("M5", baseTime, 10, 230),
		vehicleReading("V5", baseTime, 50, 8, 20), // 0.8
	)
	mapPair(t, f, "M1", "V1")
	mapPair(t, f, "M2", "V2")
	mapPair(t, f, "M3", "V3")
	mapPair(t, f, "M5", "V5")
	f.analytics.pageSize = 2

	cur := f.analytics.LowEfficiencyDevices(context.Background(), 0.85, baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	defer cur.Close()
	var got []VehicleRatio
	for cur.Next() {
		got = append(got, cur.Item())
	}
	if err := cur.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(got) != 2 || got[0].VehicleID != "V1" || got[1].VehicleID != "V5" {
		t.Fatalf("unexpected low efficiency set: %+v", got)
	}
	if got[0].Ratio != 0.5 || got[1].Ratio != 0.8 {
		t.Fatalf("unexpected ratios: %+v", got)
	}
	if cur.Next() {
		t.Fatalf("cursor must stay exhausted")
	}
}

func TestLowEfficiencyDevicesStopsOnStorageError(t *testing.T) {
	f := newFixture()
	mapPair(t, f, "M1", "V1")
	correlation := NewCorrelationService(failingEdges{CorrelationStore: f.edges, err: errStorageDown}, nil)
	analytics := NewAnalyticsService(f.history, f.current, correlation, nil)

	cur := analytics.LowEfficiencyDevices(context.Background(), 1, baseTime, baseTime.Add(time.Hour))
	if cur.Next() {
		t.Fatalf("expected no items")
	}
	if !errors.Is(cur.Err(), errStorageDown) {
		t.Fatalf("expected storage error, got %v", cur.Err())
	}
}

func TestLowEfficiencyDevicesCancelled(t *testing.T) {
	f := newFixture()
	mapPair(t, f, "M1", "V1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cur := f.analytics.LowEfficiencyDevices(ctx, 1, baseTime, baseTime.Add(time.Hour))
	if cur.Next() {
		t.Fatalf("expected no items")
	}
	if !errors.Is(cur.Err(), context.Canceled) {
		t.Fatalf("expected context canceled, got %v", cur.Err())
	}
}

func TestQueriesAreRecorded(t *testing.T) {
	f := newFixture()
	rec := newCountingRecorder()
	f.analytics.WithRecorder(rec)
	_, _ = f.analytics.CurrentStatus(context.Background(), models.ClassMeter, "M1")
	_, _ = f.analytics.EfficiencyRatio(context.Background(), "V1", baseTime, baseTime.Add(time.Hour))
	if rec.queries["current_status"] != 1 || rec.queries["efficiency_ratio"] != 1 {
		t.Fatalf("unexpected query observations: %v", rec.queries)
	}
}
