package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/investor-mailer/internal/domain"
	"gorm.io/gorm"
)

const defaultHistoryLimit = 50

// HistoryRepository is the sent-mail log.
type HistoryRepository interface {
	Append(ctx context.Context, e *domain.SentHistoryEntry) error
	ListRecent(ctx context.Context, limit int) ([]domain.SentHistoryEntry, error)
}

type GormHistoryRepo struct {
	db *gorm.DB
}

func NewGormHistoryRepo(db *gorm.DB) *GormHistoryRepo {
	return &GormHistoryRepo{db: db}
}

func (r *GormHistoryRepo) Append(ctx context.Context, e *domain.SentHistoryEntry) error {
	if e != nil && e.SentAt.IsZero() {
		e.SentAt = time.Now().UTC()
	}
	model := sentMailModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if e != nil {
		*e = *sentMailModelToDomain(model)
	}
	return nil
}

func (r *GormHistoryRepo) ListRecent(ctx context.Context, limit int) ([]domain.SentHistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var models []SentMailModel
	err := r.db.WithContext(ctx).
		Order("sent_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.SentHistoryEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *sentMailModelToDomain(&models[i]))
	}

	return entries, nil
}
