package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/investor-mailer/internal/domain"
	"gorm.io/gorm"
)

type ListParams struct {
	Status      *domain.Status
	RecipientID *int64
	Page        int
	PageSize    int
}

// ScheduledSendRepository is the durable store for deferred sends.
type ScheduledSendRepository interface {
	Enqueue(ctx context.Context, s *domain.ScheduledSend) error
	FetchDue(ctx context.Context, now time.Time, limit int) ([]domain.DueSend, error)
	MarkStatus(ctx context.Context, id string, status domain.Status) (bool, error)
	Cancel(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*domain.ScheduledSend, error)
	List(ctx context.Context, params ListParams) ([]domain.ScheduledSend, int64, error)
}

type GormScheduledSendRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormScheduledSendRepo(db *gorm.DB) *GormScheduledSendRepo {
	return &GormScheduledSendRepo{db: db, now: time.Now}
}

func (r *GormScheduledSendRepo) Enqueue(ctx context.Context, s *domain.ScheduledSend) error {
	if s == nil {
		return fmt.Errorf("%w: scheduled send is required", domain.ErrValidation)
	}

	now := r.now().UTC()
	s.ID = uuid.NewString()
	s.Status = domain.StatusPending
	s.CreatedAt = now
	s.UpdatedAt = now

	model := scheduledSendModelFromDomain(s)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*s = *scheduledSendModelToDomain(model)
	return nil
}

// FetchDue returns pending records due at or before now, joined with the
// recipient's current address. A non-positive limit returns the full due set.
func (r *GormScheduledSendRepo) FetchDue(ctx context.Context, now time.Time, limit int) ([]domain.DueSend, error) {
	query := r.db.WithContext(ctx).
		Table("scheduled_sends AS s").
		Select("s.*, c.email AS contact_email, c.name AS contact_name").
		Joins("JOIN contacts c ON c.id = s.recipient_id").
		Where("s.status = ? AND s.due_at <= ?", domain.StatusPending, now.UTC()).
		Order("s.due_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []dueSendRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}

	due := make([]domain.DueSend, 0, len(rows))
	for i := range rows {
		due = append(due, domain.DueSend{
			ScheduledSend: *scheduledSendModelToDomain(&rows[i].ScheduledSendModel),
			ContactEmail:  rows[i].ContactEmail,
			ContactName:   rows[i].ContactName,
		})
	}
	return due, nil
}

// MarkStatus moves a pending record to a terminal status. It reports false
// when the record has already left pending, so a record transitions at most once.
func (r *GormScheduledSendRepo) MarkStatus(ctx context.Context, id string, status domain.Status) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("%w: %q is not a terminal status", domain.ErrValidation, status)
	}

	result := r.db.WithContext(ctx).
		Model(&ScheduledSendModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]any{
			"status":     status,
			"updated_at": r.now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *GormScheduledSendRepo) Cancel(ctx context.Context, id string) error {
	updated, err := r.MarkStatus(ctx, id, domain.StatusCancelled)
	if err != nil {
		return err
	}
	if !updated {
		return fmt.Errorf("%w: scheduled send %s is no longer pending", domain.ErrConflict, id)
	}
	return nil
}

func (r *GormScheduledSendRepo) GetByID(ctx context.Context, id string) (*domain.ScheduledSend, error) {
	var model ScheduledSendModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return scheduledSendModelToDomain(&model), nil
}

func (r *GormScheduledSendRepo) List(ctx context.Context, params ListParams) ([]domain.ScheduledSend, int64, error) {
	query := r.db.WithContext(ctx).Model(&ScheduledSendModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.RecipientID != nil {
		query = query.Where("recipient_id = ?", *params.RecipientID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []ScheduledSendModel
	err := query.
		Order("due_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	sends := make([]domain.ScheduledSend, 0, len(models))
	for i := range models {
		sends = append(sends, *scheduledSendModelToDomain(&models[i]))
	}

	return sends, total, nil
}
