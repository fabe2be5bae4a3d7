package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kursadbilgin/investor-mailer/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ContactRepository is the slice of the CRM store the mailer reads.
type ContactRepository interface {
	Create(ctx context.Context, c *domain.Contact) error
	GetByID(ctx context.Context, id int64) (*domain.Contact, error)
}

type GormContactRepo struct {
	db *gorm.DB
}

func NewGormContactRepo(db *gorm.DB) *GormContactRepo {
	return &GormContactRepo{db: db}
}

func (r *GormContactRepo) Create(ctx context.Context, c *domain.Contact) error {
	if c != nil && c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	model := contactModelFromDomain(c)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return err
	}
	if c != nil {
		*c = *contactModelToDomain(model)
	}
	return nil
}

func (r *GormContactRepo) GetByID(ctx context.Context, id int64) (*domain.Contact, error) {
	var model ContactModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return contactModelToDomain(&model), nil
}

// SuppressionRepository tracks addresses that asked not to be mailed.
type SuppressionRepository interface {
	Add(ctx context.Context, email string, reason string) error
	IsSuppressed(ctx context.Context, email string) (bool, error)
}

type GormSuppressionRepo struct {
	db *gorm.DB
}

func NewGormSuppressionRepo(db *gorm.DB) *GormSuppressionRepo {
	return &GormSuppressionRepo{db: db}
}

func (r *GormSuppressionRepo) Add(ctx context.Context, email string, reason string) error {
	model := SuppressionModel{
		Email:          normalizeEmail(email),
		Reason:         reason,
		UnsubscribedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "email"}}, DoNothing: true}).
		Create(&model).Error
}

func (r *GormSuppressionRepo) IsSuppressed(ctx context.Context, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&SuppressionModel{}).
		Where("email = ?", normalizeEmail(email)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
