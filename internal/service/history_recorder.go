package service

import (
	"context"
	"time"

	"github.com/kursadbilgin/investor-mailer/internal/domain"
	"github.com/kursadbilgin/investor-mailer/internal/queue"
	"github.com/kursadbilgin/investor-mailer/internal/repository"
	"go.uber.org/zap"
)

// HistoryRecorder appends sent-history entries and announces scheduled-send
// outcomes on the broker. Publish failures are logged only.
type HistoryRecorder struct {
	history   repository.HistoryRepository
	publisher queue.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewHistoryRecorder(history repository.HistoryRepository, publisher queue.Publisher, logger *zap.Logger) *HistoryRecorder {
	if publisher == nil {
		publisher = queue.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryRecorder{
		history:   history,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordScheduled logs the terminal outcome of a scheduled send. When the
// append fails the event is still published and the entry is logged at
// error level before the error is returned.
func (r *HistoryRecorder) RecordScheduled(ctx context.Context, send domain.ScheduledSend, outcome domain.DeliveryOutcome) error {
	now := r.now().UTC()
	id := send.ID

	entry := historyEntry(send.RecipientID, send.TemplateID, send.Subject, outcome, now)
	entry.ScheduledSendID = &id
	appendErr := r.history.Append(ctx, entry)
	if appendErr != nil {
		r.logger.Error("failed to append sent history",
			zap.String("scheduledSendId", send.ID),
			zap.Int64("recipientId", send.RecipientID),
			zap.String("subject", send.Subject),
			zap.String("status", entry.Status.String()),
			zap.String("detail", outcome.Detail),
			zap.Time("sentAt", now),
			zap.Error(appendErr),
		)
	}

	event := queue.DeliveryEvent{
		ScheduledSendID: send.ID,
		RecipientID:     send.RecipientID,
		TemplateID:      send.TemplateID,
		Status:          outcome.Status(),
		Detail:          outcome.Detail,
		OccurredAt:      now,
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Error("failed to publish delivery event",
			zap.String("scheduledSendId", send.ID),
			zap.String("status", event.Status.String()),
			zap.Error(err),
		)
	}

	return appendErr
}

// RecordImmediate logs the outcome of a foreground send.
func (r *HistoryRecorder) RecordImmediate(
	ctx context.Context,
	recipientID int64,
	templateID *int64,
	subject string,
	outcome domain.DeliveryOutcome,
) error {
	return r.history.Append(ctx, historyEntry(recipientID, templateID, subject, outcome, r.now().UTC()))
}

func historyEntry(recipientID int64, templateID *int64, subject string, outcome domain.DeliveryOutcome, at time.Time) *domain.SentHistoryEntry {
	entry := &domain.SentHistoryEntry{
		RecipientID: recipientID,
		TemplateID:  templateID,
		Subject:     subject,
		Status:      outcome.Status(),
		SentAt:      at,
	}
	if !outcome.Success {
		detail := outcome.Detail
		entry.ErrorMessage = &detail
	}
	return entry
}
