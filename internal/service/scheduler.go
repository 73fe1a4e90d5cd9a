package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/courier-notify/internal/domain"
	"github.com/kursadbilgin/courier-notify/internal/observability"
	"github.com/kursadbilgin/courier-notify/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSchedulerInterval    = time.Minute
	defaultSchedulerBatchSize   = 100
	defaultSchedulerConcurrency = 8
	maxSchedulerBatchSize       = 1000
)

// RecordError describes why one record of a run did not complete normally.
// Infrastructure is false for delivery failures recorded on the notification
// and true when the record could not be processed at all.
type RecordError struct {
	NotificationID string `json:"notificationId"`
	Message        string `json:"message"`
	Infrastructure bool   `json:"infrastructure"`
}

// RunStats summarizes one scheduler run. Failed counts delivery attempts that
// did not succeed; Exhausted is the subset that ended FAILED. Skipped counts
// records lost to another worker or no longer PENDING.
type RunStats struct {
	RunID     string        `json:"runId"`
	Status    string        `json:"status"`
	Selected  int           `json:"selected"`
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Exhausted int           `json:"exhausted"`
	Cancelled int           `json:"cancelled"`
	Skipped   int           `json:"skipped"`
	Errors    []RecordError `json:"errors"`
}

// RetryScheduler periodically dispatches eligible PENDING notifications in
// bounded batches.
type RetryScheduler struct {
	notifications repository.NotificationRepository
	runs          repository.RunRepository
	dispatcher    *Dispatcher
	policies      PolicySource
	logger        *zap.Logger
	metrics       *observability.Metrics
	interval      time.Duration
	batchSize     int
	concurrency   int
	now           func() time.Time
	newID         func() string
}

func NewRetryScheduler(
	notifications repository.NotificationRepository,
	runs repository.RunRepository,
	dispatcher *Dispatcher,
	policies PolicySource,
	interval time.Duration,
	batchSize int,
	concurrency int,
	logger *zap.Logger,
) (*RetryScheduler, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if policies == nil {
		return nil, fmt.Errorf("policy source is required")
	}
	if interval <= 0 {
		interval = defaultSchedulerInterval
	}
	if batchSize <= 0 {
		batchSize = defaultSchedulerBatchSize
	}
	if concurrency <= 0 {
		concurrency = defaultSchedulerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScheduler{
		notifications: notifications,
		runs:          runs,
		dispatcher:    dispatcher,
		policies:      policies,
		logger:        logger,
		interval:      interval,
		batchSize:     batchSize,
		concurrency:   concurrency,
		now:           time.Now,
		newID:         uuid.NewString,
	}, nil
}

func (s *RetryScheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start runs a sweep immediately and then on every tick until ctx ends.
func (s *RetryScheduler) Start(ctx context.Context) error {
	s.logger.Info("retry scheduler started",
		zap.Duration("interval", s.interval),
		zap.Int("batchSize", s.batchSize),
		zap.Int("concurrency", s.concurrency),
	)

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *RetryScheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx, 0); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler run failed", zap.Error(err))
	}
}

// RunOnce takes a fresh policy snapshot and runs one batch. A batchSize of
// zero uses the configured size. When no snapshot can be taken the run is
// skipped.
func (s *RetryScheduler) RunOnce(ctx context.Context, batchSize int) (*RunStats, error) {
	policy, err := s.policies.Snapshot(ctx)
	if err != nil {
		s.metrics.IncSchedulerRun("skipped")
		return nil, fmt.Errorf("policy snapshot unavailable, run skipped: %w", err)
	}
	if batchSize <= 0 {
		batchSize = s.batchSize
	}
	return s.RunBatch(ctx, policy, batchSize)
}

// RunBatch dispatches up to batchSize eligible records, oldest first, each
// exactly once. A failing record never stops the others.
func (s *RetryScheduler) RunBatch(ctx context.Context, policy domain.RetryPolicy, batchSize int) (*RunStats, error) {
	if batchSize <= 0 {
		batchSize = s.batchSize
	}
	batchSize = min(batchSize, maxSchedulerBatchSize)
	policy = policy.Clone()

	runID := s.newID()
	ctx = observability.WithRunID(ctx, runID)
	logger := observability.WithContextLogger(s.logger, ctx)

	startedAt := s.now()
	run := &domain.SchedulerRun{
		ID:        runID,
		BatchSize: batchSize,
		Status:    domain.RunStatusRunning,
		StartedAt: startedAt,
	}
	s.saveRunStart(ctx, run, logger)

	selected, err := s.notifications.ListEligible(ctx, startedAt, policy.Cooldown(), batchSize)
	if err != nil {
		s.metrics.IncSchedulerRun("error")
		s.finishRun(ctx, run, &RunStats{RunID: runID, Status: string(domain.RunStatusPartialFailure)}, logger)
		return nil, fmt.Errorf("select eligible notifications: %w", err)
	}

	stats := &RunStats{RunID: runID, Selected: len(selected), Errors: []RecordError{}}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range selected {
		record := selected[i]
		g.Go(func() error {
			result, err := s.dispatcher.Dispatch(ctx, record, policy)

			mu.Lock()
			defer mu.Unlock()
			stats.record(record.ID, result, err)
			return nil
		})
	}
	_ = g.Wait()

	stats.Status = string(domain.RunStatusCompleted)
	for _, recErr := range stats.Errors {
		if recErr.Infrastructure {
			stats.Status = string(domain.RunStatusPartialFailure)
			break
		}
	}

	s.metrics.IncSchedulerRun(stats.Status)
	s.finishRun(ctx, run, stats, logger)

	logger.Info("scheduler run finished",
		zap.Int("selected", stats.Selected),
		zap.Int("processed", stats.Processed),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Int("cancelled", stats.Cancelled),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errors", len(stats.Errors)),
		zap.Duration("duration", s.now().Sub(startedAt)),
	)

	return stats, nil
}

func (st *RunStats) record(id string, result *domain.Notification, err error) {
	if err != nil {
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotPending) || errors.Is(err, domain.ErrUnavailable) {
			st.Skipped++
			return
		}
		st.Errors = append(st.Errors, RecordError{
			NotificationID: id,
			Message:        err.Error(),
			Infrastructure: true,
		})
		return
	}

	st.Processed++
	switch result.Status {
	case domain.StatusSent, domain.StatusDelivered:
		st.Succeeded++
	case domain.StatusCancelled:
		st.Cancelled++
	case domain.StatusFailed:
		st.Failed++
		st.Exhausted++
		st.appendDeliveryError(result)
	default:
		st.Failed++
		st.appendDeliveryError(result)
	}
}

func (st *RunStats) appendDeliveryError(n *domain.Notification) {
	msg := "delivery failed"
	if n.LastError != nil {
		msg = *n.LastError
	}
	st.Errors = append(st.Errors, RecordError{NotificationID: n.ID, Message: msg})
}

func (s *RetryScheduler) saveRunStart(ctx context.Context, run *domain.SchedulerRun, logger *zap.Logger) {
	if s.runs == nil {
		return
	}
	if err := s.runs.Create(ctx, run); err != nil {
		logger.Warn("failed to record scheduler run start", zap.Error(err))
	}
}

func (s *RetryScheduler) finishRun(ctx context.Context, run *domain.SchedulerRun, stats *RunStats, logger *zap.Logger) {
	if s.runs == nil {
		return
	}

	finishedAt := s.now()
	run.Selected = stats.Selected
	run.Processed = stats.Processed
	run.Succeeded = stats.Succeeded
	run.Failed = stats.Failed
	run.Exhausted = stats.Exhausted
	run.Cancelled = stats.Cancelled
	run.Skipped = stats.Skipped
	run.ErrorCount = len(stats.Errors)
	run.Status = domain.RunStatus(stats.Status)
	run.FinishedAt = &finishedAt

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), PersistTimeout)
	defer cancel()

	if err := s.runs.Finish(finishCtx, run); err != nil {
		logger.Warn("failed to record scheduler run result", zap.Error(err))
	}
}
