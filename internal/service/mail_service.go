package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/investor-mailer/internal/domain"
	"github.com/kursadbilgin/investor-mailer/internal/observability"
	"github.com/kursadbilgin/investor-mailer/internal/provider"
	"github.com/kursadbilgin/investor-mailer/internal/ratelimit"
	"github.com/kursadbilgin/investor-mailer/internal/repository"
	"go.uber.org/zap"
)

// SendRequest asks for a templated mail to one contact right now.
type SendRequest struct {
	RecipientID     int64
	TemplateID      *int64
	SubjectTemplate string
	BodyTemplate    string
	Context         map[string]any
}

// SendResult reports how a foreground send ended.
type SendResult struct {
	Outcome domain.DeliveryOutcome
	Account string
}

type smtpConnectFunc func(ctx context.Context, cfg provider.SMTPConfig) (provider.Capability, error)

// MailService performs foreground sends. It prefers an interactive SMTP
// session and falls back to the durable credential when none is open.
type MailService struct {
	contacts     repository.ContactRepository
	suppressions repository.SuppressionRepository
	renderer     Renderer
	limiter      ratelimit.SendLimiter
	recorder     *HistoryRecorder
	acquirer     provider.Acquirer
	metrics      *observability.Metrics
	logger       *zap.Logger
	connect      smtpConnectFunc
	now          func() time.Time

	mu      sync.RWMutex
	session provider.Capability
}

func NewMailService(
	contacts repository.ContactRepository,
	suppressions repository.SuppressionRepository,
	renderer Renderer,
	limiter ratelimit.SendLimiter,
	recorder *HistoryRecorder,
	acquirer provider.Acquirer,
	logger *zap.Logger,
) (*MailService, error) {
	if contacts == nil || suppressions == nil {
		return nil, fmt.Errorf("mail service repositories are required")
	}
	if renderer == nil || limiter == nil || recorder == nil {
		return nil, fmt.Errorf("mail service renderer, limiter and recorder are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MailService{
		contacts:     contacts,
		suppressions: suppressions,
		renderer:     renderer,
		limiter:      limiter,
		recorder:     recorder,
		acquirer:     acquirer,
		logger:       logger,
		connect: func(ctx context.Context, cfg provider.SMTPConfig) (provider.Capability, error) {
			return provider.Connect(ctx, cfg)
		},
		now: time.Now,
	}, nil
}

func (s *MailService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Connect opens the interactive SMTP session, replacing any previous one.
func (s *MailService) Connect(ctx context.Context, cfg provider.SMTPConfig) (string, error) {
	session, err := s.connect(ctx, cfg)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	account := provider.AccountOf(session)
	observability.WithContextLogger(s.logger, ctx).Info("smtp session connected", zap.String("account", account))
	return account, nil
}

func (s *MailService) Disconnect() {
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()
}

// Session reports the account of the open SMTP session, if any.
func (s *MailService) Session() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil {
		return "", false
	}
	return provider.AccountOf(s.session), true
}

func (s *MailService) SendNow(ctx context.Context, req SendRequest) (*SendResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.RecipientID <= 0 {
		return nil, fmt.Errorf("%w: recipient is required", domain.ErrValidation)
	}

	contact, err := s.contacts.GetByID(ctx, req.RecipientID)
	if err != nil {
		return nil, err
	}
	if !contact.IsActive {
		return nil, fmt.Errorf("%w: recipient %d is inactive", domain.ErrValidation, req.RecipientID)
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

	outcome, account, err := s.deliver(ctx, contact.Email, subject, body)
	if err != nil {
		return nil, err
	}

	if outcome.Success {
		s.metrics.IncMailSent(observability.SourceImmediate)
	} else {
		s.metrics.IncMailFailed(observability.SourceImmediate, failureReason(outcome))
	}

	if err := s.recorder.RecordImmediate(ctx, contact.ID, req.TemplateID, subject, outcome); err != nil {
		return nil, fmt.Errorf("failed to append sent history: %w", err)
	}

	observability.WithContextLogger(s.logger, ctx).Info("immediate send finished",
		zap.Int64("recipientId", contact.ID),
		zap.Bool("success", outcome.Success),
		zap.String("detail", outcome.Detail),
	)

	return &SendResult{Outcome: outcome, Account: account}, nil
}

func (s *MailService) deliver(ctx context.Context, to string, subject string, body string) (domain.DeliveryOutcome, string, error) {
	suppressed, err := s.suppressions.IsSuppressed(ctx, to)
	if err != nil {
		return domain.DeliveryOutcome{}, "", fmt.Errorf("failed to check suppression: %w", err)
	}
	if suppressed {
		return domain.Failed(domain.DetailUnsubscribed), "", nil
	}

	capability, ok := s.capability(ctx)
	if !ok {
		return domain.Failed(domain.DetailNoCapability), "", nil
	}
	account := provider.AccountOf(capability)

	if err := s.limiter.Wait(ctx, account); err != nil {
		if errors.Is(err, ratelimit.ErrDailyLimitReached) {
			return domain.DeliveryOutcome{}, account, fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
		}
		return domain.DeliveryOutcome{}, account, fmt.Errorf("failed to wait for send slot: %w", err)
	}

	start := s.now()
	outcome := capability.Send(ctx, to, subject, body)
	s.metrics.ObserveMailSendDuration(observability.SourceImmediate, s.now().Sub(start))

	return outcome, account, nil
}

func (s *MailService) capability(ctx context.Context) (provider.Capability, bool) {
	s.mu.RLock()
	session := s.session
	s.mu.RUnlock()

	if session != nil {
		return session, true
	}
	if s.acquirer == nil {
		return nil, false
	}
	return s.acquirer.Acquire(ctx)
}

func failureReason(outcome domain.DeliveryOutcome) string {
	switch outcome.Detail {
	case domain.DetailNoCapability:
		return reasonNoCapability
	case domain.DetailUnsubscribed:
		return reasonUnsubscribed
	default:
		return reasonDeliveryError
	}
}
