package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voltlink/backend/services/telemetry-service/internal/models"
	"voltlink/backend/services/telemetry-service/internal/repository"
)

// IngestOptions bounds the retries of the two ingestion writes.
type IngestOptions struct {
	HistoryAttempts       int
	HistoryBackoffInitial time.Duration
	HistoryBackoffMax     time.Duration
	CurrentStateAttempts  int
	BatchWorkers          int
}

// DefaultIngestOptions returns production defaults.
func DefaultIngestOptions() IngestOptions {
	return IngestOptions{
		HistoryAttempts:       4,
		HistoryBackoffInitial: 50 * time.Millisecond,
		HistoryBackoffMax:     time.Second,
		CurrentStateAttempts:  3,
		BatchWorkers:          8,
	}
}

func (o IngestOptions) withDefaults() IngestOptions {
	def := DefaultIngestOptions()
	if o.HistoryAttempts <= 0 {
		o.HistoryAttempts = def.HistoryAttempts
	}
	if o.HistoryBackoffInitial <= 0 {
		o.HistoryBackoffInitial = def.HistoryBackoffInitial
	}
	if o.HistoryBackoffMax < o.HistoryBackoffInitial {
		o.HistoryBackoffMax = o.HistoryBackoffInitial
	}
	if o.CurrentStateAttempts <= 0 {
		o.CurrentStateAttempts = def.CurrentStateAttempts
	}
	if o.BatchWorkers <= 0 {
		o.BatchWorkers = def.BatchWorkers
	}
	return o
}

// IngestResult describes what happened to one reading.
type IngestResult struct {
	DeviceID  string             `json:"device_id"`
	Class     models.DeviceClass `json:"device_class"`
	Timestamp time.Time          `json:"timestamp"`
	Outcome   models.Outcome     `json:"outcome"`
	// Replayed is set when an identical reading was already in history.
	Replayed bool `json:"replayed,omitempty"`
	// Superseded is set when a newer reading was already current, so the replace was a no-op.
	Superseded bool   `json:"superseded,omitempty"`
	Warning    string `json:"warning,omitempty"`
}

// BatchItem is the outcome of one reading of a batch.
type BatchItem struct {
	Index  int          `json:"index"`
	Result IngestResult `json:"result"`
	Error  string       `json:"error,omitempty"`
	Err    error        `json:"-"`
}

// BatchResult reports every item of a batch in submission order.
type BatchResult struct {
	Items    []BatchItem `json:"items"`
	Accepted int         `json:"accepted"`
	Degraded int         `json:"degraded"`
	Rejected int         `json:"rejected"`
	Failed   int         `json:"failed"`
}

// IngestService records readings in history and projects them onto the current state.
type IngestService struct {
	history  HistoryStore
	current  CurrentStateStore
	notifier Notifier
	recorder Recorder
	opts     IngestOptions
	now      func() time.Time
	logger   *zap.Logger
}

// NewIngestService builds the coordinator.
func NewIngestService(history HistoryStore, current CurrentStateStore, opts IngestOptions, logger *zap.Logger) *IngestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestService{
		history:  history,
		current:  current,
		notifier: nopNotifier{},
		recorder: nopRecorder{},
		opts:     opts.withDefaults(),
		now:      time.Now,
		logger:   logger,
	}
}

// WithNotifier sets the receiver of ingest events.
func (s *IngestService) WithNotifier(n Notifier) *IngestService {
	if n != nil {
		s.notifier = n
	}
	return s
}

// WithRecorder sets the metrics recorder.
func (s *IngestService) WithRecorder(r Recorder) *IngestService {
	if r != nil {
		s.recorder = r
	}
	return s
}

// Ingest appends the reading to history and, once that committed, replaces the
// device's current state. A failed replace degrades the result instead of failing it.
func (s *IngestService) Ingest(ctx context.Context, reading models.Reading) (IngestResult, error) {
	r := reading.Normalized()
	res := IngestResult{DeviceID: r.DeviceID, Class: r.Class, Timestamp: r.Timestamp}
	logger := s.logger.With(zap.String("device", r.Key().String()), zap.Time("ts", r.Timestamp))

	if err := r.Validate(); err != nil {
		res.Outcome = models.OutcomeRejected
		s.recorder.ObserveIngest(r.Class, res.Outcome)
		logger.Debug("reading rejected", zap.Error(err))
		return res, fmt.Errorf("%w: %v", ErrValidationRejected, err)
	}

	replayed, err := s.appendHistory(ctx, r, logger)
	if err != nil {
		res.Outcome = models.OutcomeDurabilityFailure
		if errors.Is(err, ErrValidationRejected) {
			res.Outcome = models.OutcomeRejected
			logger.Debug("reading rejected", zap.Error(err))
		} else {
			logger.Error("history append failed", zap.Error(err))
		}
		s.recorder.ObserveIngest(r.Class, res.Outcome)
		return res, err
	}
	res.Replayed = replayed

	applied, err := s.projectCurrent(ctx, r, logger)
	if err != nil {
		res.Outcome = models.OutcomeDegraded
		res.Warning = err.Error()
		logger.Warn("current state is stale until the next reading", zap.Error(err))
	} else {
		res.Outcome = models.OutcomeAccepted
		res.Superseded = !applied
	}

	s.recorder.ObserveIngest(r.Class, res.Outcome)
	s.notifier.Notify(ctx, models.IngestEvent{
		Reading:        r,
		Outcome:        res.Outcome,
		CurrentUpdated: err == nil && applied,
		Replayed:       replayed,
		At:             s.now().UTC(),
	})
	return res, nil
}

// IngestBatch ingests every reading with per-reading atomicity. Readings of one device
// keep their submission order; different devices run concurrently.
func (s *IngestService) IngestBatch(ctx context.Context, readings []models.Reading) BatchResult {
	items := make([]BatchItem, len(readings))
	groups := make(map[models.DeviceKey][]int)
	var order []models.DeviceKey
	for i, r := range readings {
		key := r.Key()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	var g errgroup.Group
	g.SetLimit(s.opts.BatchWorkers)
	for _, key := range order {
		indexes := groups[key]
		g.Go(func() error {
			for _, i := range indexes {
				res, err := s.Ingest(ctx, readings[i])
				items[i] = BatchItem{Index: i, Result: res, Err: err}
				if err != nil {
					items[i].Error = err.Error()
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	out := BatchResult{Items: items}
	for _, item := range items {
		switch item.Result.Outcome {
		case models.OutcomeAccepted:
			out.Accepted++
		case models.OutcomeDegraded:
			out.Degraded++
		case models.OutcomeRejected:
			out.Rejected++
		default:
			out.Failed++
		}
	}
	return out
}

// appendHistory reports whether the reading was an idempotent replay of a stored one.
func (s *IngestService) appendHistory(ctx context.Context, r models.Reading, logger *zap.Logger) (bool, error) {
	op := func() error {
		err := s.history.Append(ctx, r)
		if err == nil {
			return nil
		}
		if errors.Is(err, repository.ErrTransient) && ctx.Err() == nil {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		s.recorder.ObserveHistoryRetry(r.Class)
		logger.Warn("history append failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackoff(), uint64(s.opts.HistoryAttempts-1)), ctx)
	err := backoff.RetryNotify(op, policy, notify)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, repository.ErrDuplicate):
		existing, getErr := s.history.Get(ctx, r.Key(), r.Timestamp)
		if getErr != nil {
			return false, fmt.Errorf("%w: load duplicate: %w", ErrDurabilityFailure, getErr)
		}
		if existing.SamePayload(r) {
			logger.Debug("identical reading replayed")
			return true, nil
		}
		return false, fmt.Errorf("%w: %w: %s at %s", ErrValidationRejected, ErrDuplicateReading,
			r.Key(), r.Timestamp.Format(time.RFC3339Nano))
	default:
		return false, fmt.Errorf("%w: %w", ErrDurabilityFailure, err)
	}
}

// projectCurrent reports whether the row was written; false with a nil error means a
// newer reading already holds the row.
func (s *IngestService) projectCurrent(ctx context.Context, r models.Reading, logger *zap.Logger) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.CurrentStateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, fmt.Errorf("current state update skipped: %w", err)
		}
		applied, err := s.current.Upsert(ctx, r, s.now().UTC())
		if err == nil {
			return applied, nil
		}
		lastErr = err
		logger.Warn("current state update failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	return false, fmt.Errorf("current state update failed after %d attempts: %w", s.opts.CurrentStateAttempts, lastErr)
}

func (s *IngestService) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.HistoryBackoffInitial
	b.MaxInterval = s.opts.HistoryBackoffMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
