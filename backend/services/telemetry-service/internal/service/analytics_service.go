package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"voltlink/backend/services/telemetry-service/internal/models"
	"voltlink/backend/services/telemetry-service/internal/repository"
)

const defaultScanPageSize = 100

// AnalyticsService answers status and windowed queries over the stores.
type AnalyticsService struct {
	history     HistoryStore
	current     CurrentStateStore
	correlation *CorrelationService
	recorder    Recorder
	now         func() time.Time
	pageSize    int
	logger      *zap.Logger
}

// NewAnalyticsService builds the analytics engine.
func NewAnalyticsService(history HistoryStore, current CurrentStateStore, correlation *CorrelationService, logger *zap.Logger) *AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsService{
		history:     history,
		current:     current,
		correlation: correlation,
		recorder:    nopRecorder{},
		now:         time.Now,
		pageSize:    defaultScanPageSize,
		logger:      logger,
	}
}

// WithRecorder sets the metrics recorder.
func (s *AnalyticsService) WithRecorder(r Recorder) *AnalyticsService {
	if r != nil {
		s.recorder = r
	}
	return s
}

// CurrentStatus returns the latest state of a device.
func (s *AnalyticsService) CurrentStatus(ctx context.Context, class models.DeviceClass, deviceID string) (state models.CurrentState, err error) {
	defer s.observe("current_status", time.Now(), &err)
	if !class.Valid() || strings.TrimSpace(deviceID) == "" {
		return models.CurrentState{}, fmt.Errorf("%w: device class and id are required", ErrValidationRejected)
	}
	state, err = s.current.Get(ctx, models.DeviceKey{Class: class, ID: deviceID})
	if errors.Is(err, repository.ErrNotFound) {
		return models.CurrentState{}, fmt.Errorf("%w: %s/%s", ErrDeviceUnknown, class, deviceID)
	}
	if err != nil {
		return models.CurrentState{}, fmt.Errorf("load current state: %w", err)
	}
	return state, nil
}

// WindowedStats aggregates the class's energy metric over [start, end).
func (s *AnalyticsService) WindowedStats(ctx context.Context, deviceID string, class models.DeviceClass, start, end time.Time) (models.Stats, error) {
	return s.WindowedMetricStats(ctx, deviceID, class, models.PrimaryMetric(class), start, end)
}

// WindowedMetricStats aggregates any metric of the class over [start, end).
// A window without readings fails with ErrNoDataInWindow rather than returning zeros.
func (s *AnalyticsService) WindowedMetricStats(ctx context.Context, deviceID string, class models.DeviceClass, metric models.Metric, start, end time.Time) (stats models.Stats, err error) {
	defer s.observe("windowed_stats", time.Now(), &err)
	if err := checkWindow(class, deviceID, start, end); err != nil {
		return models.Stats{}, err
	}
	if err := models.CheckMetric(class, metric); err != nil {
		return models.Stats{}, fmt.Errorf("%w: %v", ErrValidationRejected, err)
	}
	stats, err = s.history.Aggregate(ctx, models.DeviceKey{Class: class, ID: deviceID}, metric, start.UTC(), end.UTC())
	if err != nil {
		return models.Stats{}, fmt.Errorf("aggregate history: %w", err)
	}
	if stats.Count == 0 {
		return models.Stats{}, fmt.Errorf("%w: %s/%s", ErrNoDataInWindow, class, deviceID)
	}
	return stats, nil
}

// EfficiencyRatio divides the energy the vehicle received by the energy its meter
// consumed over the same window. The meter is the one mapped at query time.
func (s *AnalyticsService) EfficiencyRatio(ctx context.Context, vehicleID string, start, end time.Time) (ratio float64, err error) {
	defer s.observe("efficiency_ratio", time.Now(), &err)
	meterID, err := s.correlation.ResolveMeterFor(ctx, vehicleID, s.now())
	if err != nil {
		return 0, err
	}

	delivered, err := s.WindowedStats(ctx, vehicleID, models.ClassVehicle, start, end)
	if err != nil {
		return 0, err
	}
	consumed, err := s.WindowedStats(ctx, meterID, models.ClassMeter, start, end)
	if errors.Is(err, ErrNoDataInWindow) {
		return 0, fmt.Errorf("%w: meter %s has no consumption in window: %w", ErrDivisionUndefined, meterID, err)
	}
	if err != nil {
		return 0, err
	}
	if consumed.Sum == 0 {
		return 0, fmt.Errorf("%w: meter %s consumed 0 kWh in window", ErrDivisionUndefined, meterID)
	}
	return delivered.Sum / consumed.Sum, nil
}

// LowEfficiencyDevices returns a cursor over mapped vehicles whose efficiency ratio in
// the window is below threshold. Vehicles without a resolvable mapping or a defined
// ratio are skipped. The cursor reads the registry lazily and cannot be rewound.
func (s *AnalyticsService) LowEfficiencyDevices(ctx context.Context, threshold float64, start, end time.Time) *LowEfficiencyCursor {
	return &LowEfficiencyCursor{
		ctx:       ctx,
		svc:       s,
		threshold: threshold,
		start:     start,
		end:       end,
	}
}

func (s *AnalyticsService) observe(op string, started time.Time, err *error) {
	s.recorder.ObserveQuery(op, *err, time.Since(started))
}

func checkWindow(class models.DeviceClass, deviceID string, start, end time.Time) error {
	if !class.Valid() {
		return fmt.Errorf("%w: unknown device class %q", ErrValidationRejected, class)
	}
	if strings.TrimSpace(deviceID) == "" {
		return fmt.Errorf("%w: device id is required", ErrValidationRejected)
	}
	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return fmt.Errorf("%w: window start must be before end", ErrValidationRejected)
	}
	return nil
}

// VehicleRatio is one entry of a low-efficiency scan.
type VehicleRatio struct {
	VehicleID string  `json:"vehicle_id"`
	Ratio     float64 `json:"ratio"`
}

// LowEfficiencyCursor iterates a low-efficiency scan. Use it like sql.Rows:
//
//	for cur.Next() { item := cur.Item() }
//	if err := cur.Err(); err != nil { ... }
type LowEfficiencyCursor struct {
	ctx       context.Context
	svc       *AnalyticsService
	threshold float64
	start     time.Time
	end       time.Time

	after string
	page  []string
	pos   int
	item  VehicleRatio
	err   error
	done  bool
	// exhausted is set once the registry returned a short page.
	exhausted bool
}

// Next advances to the next vehicle below threshold.
func (c *LowEfficiencyCursor) Next() bool {
	if c.done {
		return false
	}
	for {
		if c.pos >= len(c.page) {
			if c.exhausted || !c.fetch() {
				c.done = true
				return false
			}
			continue
		}
		vehicleID := c.page[c.pos]
		c.pos++

		ratio, err := c.svc.EfficiencyRatio(c.ctx, vehicleID, c.start, c.end)
		if err != nil {
			if skippable(err) {
				continue
			}
			c.err = fmt.Errorf("vehicle %s: %w", vehicleID, err)
			c.done = true
			return false
		}
		if ratio < c.threshold {
			c.item = VehicleRatio{VehicleID: vehicleID, Ratio: ratio}
			return true
		}
	}
}

func (c *LowEfficiencyCursor) fetch() bool {
	if err := c.ctx.Err(); err != nil {
		c.err = err
		return false
	}
	size := c.svc.pageSize
	ids, err := c.svc.correlation.ActiveVehicles(c.ctx, c.after, size)
	if err != nil {
		c.err = fmt.Errorf("list mapped vehicles: %w", err)
		return false
	}
	if len(ids) == 0 {
		return false
	}
	c.page, c.pos = ids, 0
	c.after = ids[len(ids)-1]
	c.exhausted = len(ids) < size
	return true
}

// Item returns the entry Next stopped on.
func (c *LowEfficiencyCursor) Item() VehicleRatio {
	return c.item
}

// Err returns the error that ended the scan, if any.
func (c *LowEfficiencyCursor) Err() error {
	return c.err
}

// Close stops the scan; later calls to Next return false.
func (c *LowEfficiencyCursor) Close() {
	c.done = true
	c.page = nil
}

func skippable(err error) bool {
	return errors.Is(err, ErrNoActiveMapping) ||
		errors.Is(err, ErrAmbiguousMapping) ||
		errors.Is(err, ErrDivisionUndefined) ||
		errors.Is(err, ErrNoDataInWindow)
}
