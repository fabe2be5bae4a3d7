package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kursadbilgin/investor-mailer/internal/domain"
	"github.com/kursadbilgin/investor-mailer/internal/observability"
	"github.com/kursadbilgin/investor-mailer/internal/provider"
	"github.com/kursadbilgin/investor-mailer/internal/ratelimit"
	"github.com/kursadbilgin/investor-mailer/internal/repository"
	"go.uber.org/zap"
)

const defaultSchedulerInterval = time.Minute

// Failure reasons reported to metrics.
const (
	reasonNoCapability  = "no_capability"
	reasonUnsubscribed  = "unsubscribed"
	reasonDeliveryError = "delivery_error"
)

// ErrSchedulerRunning is returned by Start when the loop is already running.
var ErrSchedulerRunning = errors.New("scheduler already running")

type SchedulerConfig struct {
	// Interval between wakes. A due record is dispatched at most one
	// Interval (plus the time spent on earlier records) after its due time.
	Interval time.Duration
	// AcquireGrace keeps records due within this window pending when no
	// capability can be acquired. Zero fails the whole batch.
	AcquireGrace time.Duration
}

// Scheduler dispatches due scheduled sends. It only accepts an Acquirer, so
// it can never run on an interactive session.
type Scheduler struct {
	sends        repository.ScheduledSendRepository
	suppressions repository.SuppressionRepository
	acquirer     provider.Acquirer
	limiter      ratelimit.SendLimiter
	recorder     *HistoryRecorder
	metrics      *observability.Metrics
	logger       *zap.Logger
	interval     time.Duration
	acquireGrace time.Duration
	now          func() time.Time
	running      atomic.Bool
}

func NewScheduler(
	sends repository.ScheduledSendRepository,
	suppressions repository.SuppressionRepository,
	acquirer provider.Acquirer,
	limiter ratelimit.SendLimiter,
	recorder *HistoryRecorder,
	cfg SchedulerConfig,
	logger *zap.Logger,
) (*Scheduler, error) {
	if sends == nil || suppressions == nil {
		return nil, fmt.Errorf("scheduler repositories are required")
	}
	if acquirer == nil {
		return nil, fmt.Errorf("scheduler acquirer is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("scheduler send limiter is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("scheduler history recorder is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSchedulerInterval
	}
	if cfg.AcquireGrace < 0 {
		cfg.AcquireGrace = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		sends:        sends,
		suppressions: suppressions,
		acquirer:     acquirer,
		limiter:      limiter,
		recorder:     recorder,
		logger:       logger,
		interval:     cfg.Interval,
		acquireGrace: cfg.AcquireGrace,
		now:          time.Now,
	}, nil
}

func (s *Scheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start runs a wake immediately and then once per interval until ctx is
// cancelled. Cancellation is observed between wakes only; a wake in progress
// always finishes its batch.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrSchedulerRunning
	}
	defer s.running.Store(false)

	s.logger.Info("scheduler started",
		zap.Duration("interval", s.interval),
		zap.Duration("acquireGrace", s.acquireGrace),
	)

	if ctx.Err() != nil {
		return nil
	}
	s.runWake(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				s.logger.Info("scheduler stopped")
				return nil
			}
			s.runWake(ctx)
		}
	}
}

func (s *Scheduler) runWake(ctx context.Context) {
	if err := s.Wake(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("scheduler wake aborted", zap.Error(err))
	}
}

// Wake performs one poll-and-dispatch cycle. A storage or limiter fault stops
// the remaining iterations; records not yet handled stay pending.
func (s *Scheduler) Wake(ctx context.Context) error {
	now := s.now()

	due, err := s.sends.FetchDue(ctx, now, 0)
	if err != nil {
		s.metrics.IncSchedulerWake(observability.WakeAborted)
		return fmt.Errorf("failed to fetch due scheduled sends: %w", err)
	}
	if len(due) == 0 {
		s.metrics.IncSchedulerWake(observability.WakeIdle)
		return nil
	}

	s.metrics.ObserveDueBatch(len(due))
	s.logger.Info("scheduler wake", zap.Int("dueCount", len(due)))

	capability, ok := s.acquirer.Acquire(ctx)
	if !ok {
		s.logger.Warn("no delivery capability available", zap.Int("dueCount", len(due)))
		if err := s.failBatch(ctx, due, now); err != nil {
			s.metrics.IncSchedulerWake(observability.WakeAborted)
			return err
		}
		s.metrics.IncSchedulerWake(observability.WakeNoCapability)
		return nil
	}

	account := provider.AccountOf(capability)
	for i := range due {
		if err := s.dispatch(ctx, capability, account, due[i]); err != nil {
			s.metrics.IncSchedulerWake(observability.WakeAborted)
			return err
		}
	}

	s.metrics.IncSchedulerWake(observability.WakeDispatched)
	return nil
}

func (s *Scheduler) failBatch(ctx context.Context, due []domain.DueSend, now time.Time) error {
	for i := range due {
		send := due[i].ScheduledSend
		if s.acquireGrace > 0 && now.Sub(send.DueAt) < s.acquireGrace {
			s.logger.Info("scheduled send kept pending until a capability is available",
				zap.String("scheduledSendId", send.ID),
				zap.Time("dueAt", send.DueAt),
			)
			continue
		}
		if err := s.finalize(ctx, send, domain.Failed(domain.DetailNoCapability), false, reasonNoCapability); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context, capability provider.Capability, account string, due domain.DueSend) error {
	send := due.ScheduledSend

	current, err := s.sends.GetByID(ctx, send.ID)
	if err != nil {
		return fmt.Errorf("failed to reload scheduled send %s: %w", send.ID, err)
	}
	if current.Status != domain.StatusPending {
		s.logger.Info("scheduled send left pending before dispatch",
			zap.String("scheduledSendId", send.ID),
			zap.String("status", current.Status.String()),
		)
		return nil
	}

	address := due.ContactEmail
	if address == "" {
		address = send.RecipientEmail
	}

	suppressed, err := s.suppressions.IsSuppressed(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to check suppression for scheduled send %s: %w", send.ID, err)
	}
	if suppressed {
		return s.finalize(ctx, send, domain.Failed(domain.DetailUnsubscribed), false, reasonUnsubscribed)
	}

	// An early record must not consume daily quota.
	if now := s.now(); !send.IsDue(now) {
		s.logger.Warn("scheduled send not yet due, left pending",
			zap.String("scheduledSendId", send.ID),
			zap.Time("dueAt", send.DueAt),
			zap.Time("now", now),
		)
		return nil
	}

	if err := s.limiter.Wait(ctx, account); err != nil {
		return fmt.Errorf("send limiter refused scheduled send %s: %w", send.ID, err)
	}

	start := s.now()
	outcome := capability.Send(ctx, address, send.Subject, send.Body)
	s.metrics.ObserveMailSendDuration(observability.SourceScheduled, s.now().Sub(start))

	return s.finalize(ctx, send, outcome, true, reasonDeliveryError)
}

// finalize moves the record to its terminal status and logs the outcome.
// attempted marks outcomes that followed a real transport call; those are
// always written to history even when the record was changed concurrently.
func (s *Scheduler) finalize(
	ctx context.Context,
	send domain.ScheduledSend,
	outcome domain.DeliveryOutcome,
	attempted bool,
	failReason string,
) error {
	status := outcome.Status()

	updated, err := s.sends.MarkStatus(ctx, send.ID, status)
	if err != nil {
		return fmt.Errorf("failed to mark scheduled send %s as %s: %w", send.ID, status, err)
	}
	if !updated {
		s.logger.Warn("scheduled send changed state during dispatch",
			zap.String("scheduledSendId", send.ID),
			zap.String("outcome", status.String()),
		)
		if !attempted {
			return nil
		}
	}

	if outcome.Success {
		s.metrics.IncMailSent(observability.SourceScheduled)
		s.logger.Info("scheduled send delivered",
			zap.String("scheduledSendId", send.ID),
			zap.Int64("recipientId", send.RecipientID),
		)
	} else {
		s.metrics.IncMailFailed(observability.SourceScheduled, failReason)
		s.logger.Warn("scheduled send failed",
			zap.String("scheduledSendId", send.ID),
			zap.Int64("recipientId", send.RecipientID),
			zap.String("detail", outcome.Detail),
		)
	}

	if err := s.recorder.RecordScheduled(ctx, send, outcome); err != nil {
		return fmt.Errorf("failed to append sent history for %s: %w", send.ID, err)
	}
	return nil
}
