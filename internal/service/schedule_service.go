package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/investor-mailer/internal/domain"
	"github.com/kursadbilgin/investor-mailer/internal/observability"
	"github.com/kursadbilgin/investor-mailer/internal/repository"
	"go.uber.org/zap"
)

// Renderer resolves template placeholders. RenderBody may decorate HTML
// bodies beyond plain substitution.
type Renderer interface {
	Render(tpl string, vars map[string]any) (string, error)
	RenderBody(tpl string, vars map[string]any) (string, error)
}

// ScheduleRequest asks for a templated mail to one contact at DueAt.
type ScheduleRequest struct {
	RecipientID     int64
	TemplateID      *int64
	SubjectTemplate string
	BodyTemplate    string
	// Context adds to or overrides the contact's own template variables.
	Context map[string]any
	DueAt   time.Time
}

type ScheduleService struct {
	sends    repository.ScheduledSendRepository
	contacts repository.ContactRepository
	renderer Renderer
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewScheduleService(
	sends repository.ScheduledSendRepository,
	contacts repository.ContactRepository,
	renderer Renderer,
	logger *zap.Logger,
) (*ScheduleService, error) {
	if sends == nil || contacts == nil {
		return nil, fmt.Errorf("schedule service repositories are required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("schedule service renderer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ScheduleService{
		sends:    sends,
		contacts: contacts,
		renderer: renderer,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (s *ScheduleService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// ScheduleSend renders the templates once and stores a pending record. The
// stored content is never re-rendered, later contact edits do not reach it.
func (s *ScheduleService) ScheduleSend(ctx context.Context, req ScheduleRequest) (*domain.ScheduledSend, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if req.DueAt.IsZero() {
		return nil, fmt.Errorf("%w: due time is required", domain.ErrValidation)
	}
	if now := s.now(); !req.DueAt.After(now) {
		return nil, fmt.Errorf("%w: due time %s is not in the future", domain.ErrValidation, req.DueAt.Format(time.RFC3339))
	}

	contact, err := s.loadRecipient(ctx, req.RecipientID)
	if err != nil {
		return nil, err
	}

	vars := renderContext(contact, req.Context)
	subject, err := s.renderer.Render(req.SubjectTemplate, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to render subject: %w", err)
	}
	body, err := s.renderer.RenderBody(req.BodyTemplate, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to render body: %w", err)
	}

	send := &domain.ScheduledSend{
		RecipientID:    contact.ID,
		TemplateID:     req.TemplateID,
		RecipientEmail: contact.Email,
		RecipientName:  contact.Name,
		Subject:        subject,
		Body:           body,
		DueAt:          req.DueAt,
	}
	if err := send.Validate(); err != nil {
		return nil, err
	}

	if err := s.sends.Enqueue(ctx, send); err != nil {
		return nil, fmt.Errorf("failed to enqueue scheduled send: %w", err)
	}

	s.metrics.IncScheduledSendCreated()
	observability.WithContextLogger(s.logger, ctx).Info("scheduled send created",
		zap.String("scheduledSendId", send.ID),
		zap.Int64("recipientId", send.RecipientID),
		zap.Time("dueAt", send.DueAt),
	)

	return send, nil
}

func (s *ScheduleService) GetByID(ctx context.Context, id string) (*domain.ScheduledSend, error) {
	return s.sends.GetByID(ctx, id)
}

func (s *ScheduleService) List(ctx context.Context, params repository.ListParams) ([]domain.ScheduledSend, int64, error) {
	return s.sends.List(ctx, params)
}

// Cancel withdraws a pending record. Records that already left pending
// report ErrConflict.
func (s *ScheduleService) Cancel(ctx context.Context, id string) (*domain.ScheduledSend, error) {
	if err := s.sends.Cancel(ctx, id); err != nil {
		return nil, err
	}

	observability.WithContextLogger(s.logger, ctx).Info("scheduled send cancelled", zap.String("scheduledSendId", id))
	return s.sends.GetByID(ctx, id)
}

func (s *ScheduleService) loadRecipient(ctx context.Context, recipientID int64) (*domain.Contact, error) {
	if recipientID <= 0 {
		return nil, fmt.Errorf("%w: recipient is required", domain.ErrValidation)
	}

	contact, err := s.contacts.GetByID(ctx, recipientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: recipient %d", domain.ErrNotFound, recipientID)
		}
		return nil, fmt.Errorf("failed to load recipient %d: %w", recipientID, err)
	}
	if !contact.IsActive {
		return nil, fmt.Errorf("%w: recipient %d is inactive", domain.ErrValidation, recipientID)
	}
	return contact, nil
}

func renderContext(contact *domain.Contact, extra map[string]any) map[string]any {
	vars := make(map[string]any, len(extra)+4)
	for k, v := range contact.TemplateContext() {
		vars[k] = v
	}
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}
