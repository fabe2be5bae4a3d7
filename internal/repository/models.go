package repository

import (
	"time"

	"github.com/kursadbilgin/investor-mailer/internal/domain"
)

// ScheduledSendModel is the persistence model for the scheduled_sends table.
type ScheduledSendModel struct {
	ID             string        `gorm:"type:varchar(36);primaryKey"`
	RecipientID    int64         `gorm:"not null;index"`
	TemplateID     *int64
	RecipientEmail string        `gorm:"type:varchar(320);not null"`
	RecipientName  string        `gorm:"type:varchar(255);not null"`
	Subject        string        `gorm:"type:text;not null"`
	Body           string        `gorm:"type:text;not null"`
	DueAt          time.Time     `gorm:"not null"`
	Status         domain.Status `gorm:"type:varchar(20);not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (ScheduledSendModel) TableName() string {
	return "scheduled_sends"
}

// ContactModel is the persistence model for the contacts table.
type ContactModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"type:varchar(255);not null"`
	Email     string `gorm:"type:varchar(320);not null;uniqueIndex"`
	Company   string `gorm:"type:varchar(255)"`
	Category  string `gorm:"type:varchar(64);not null"`
	IsActive  bool   `gorm:"not null"`
	CreatedAt time.Time
}

func (ContactModel) TableName() string {
	return "contacts"
}

// SentMailModel is the persistence model for the sent_mails history table.
type SentMailModel struct {
	ID              int64         `gorm:"primaryKey;autoIncrement"`
	RecipientID     int64         `gorm:"not null;index"`
	TemplateID      *int64
	ScheduledSendID *string       `gorm:"type:varchar(36)"`
	Subject         string        `gorm:"type:text"`
	Status          domain.Status `gorm:"type:varchar(20);not null"`
	ErrorMessage    *string       `gorm:"type:text"`
	SentAt          time.Time     `gorm:"not null;index"`
}

func (SentMailModel) TableName() string {
	return "sent_mails"
}

// SuppressionModel is the persistence model for the unsubscribes table.
type SuppressionModel struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	Email          string `gorm:"type:varchar(320);not null;uniqueIndex"`
	Reason         string `gorm:"type:text"`
	UnsubscribedAt time.Time
}

func (SuppressionModel) TableName() string {
	return "unsubscribes"
}

// dueSendRow is the scan target for the due-set join.
type dueSendRow struct {
	ScheduledSendModel `gorm:"embedded"`
	ContactEmail       string
	ContactName        string
}

func scheduledSendModelFromDomain(s *domain.ScheduledSend) *ScheduledSendModel {
	if s == nil {
		return nil
	}

	return &ScheduledSendModel{
		ID:             s.ID,
		RecipientID:    s.RecipientID,
		TemplateID:     s.TemplateID,
		RecipientEmail: s.RecipientEmail,
		RecipientName:  s.RecipientName,
		Subject:        s.Subject,
		Body:           s.Body,
		DueAt:          s.DueAt.UTC(),
		Status:         s.Status,
		CreatedAt:      s.CreatedAt.UTC(),
		UpdatedAt:      s.UpdatedAt.UTC(),
	}
}

func scheduledSendModelToDomain(m *ScheduledSendModel) *domain.ScheduledSend {
	if m == nil {
		return nil
	}

	return &domain.ScheduledSend{
		ID:             m.ID,
		RecipientID:    m.RecipientID,
		TemplateID:     m.TemplateID,
		RecipientEmail: m.RecipientEmail,
		RecipientName:  m.RecipientName,
		Subject:        m.Subject,
		Body:           m.Body,
		DueAt:          m.DueAt,
		Status:         m.Status,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func contactModelFromDomain(c *domain.Contact) *ContactModel {
	if c == nil {
		return nil
	}

	category := c.Category
	if category == "" {
		category = domain.DefaultCategory
	}

	return &ContactModel{
		ID:        c.ID,
		Name:      c.Name,
		Email:     c.Email,
		Company:   c.Company,
		Category:  category,
		IsActive:  c.IsActive,
		CreatedAt: c.CreatedAt,
	}
}

func contactModelToDomain(m *ContactModel) *domain.Contact {
	if m == nil {
		return nil
	}

	return &domain.Contact{
		ID:        m.ID,
		Name:      m.Name,
		Email:     m.Email,
		Company:   m.Company,
		Category:  m.Category,
		IsActive:  m.IsActive,
		CreatedAt: m.CreatedAt,
	}
}

func sentMailModelFromDomain(e *domain.SentHistoryEntry) *SentMailModel {
	if e == nil {
		return nil
	}

	return &SentMailModel{
		ID:              e.ID,
		RecipientID:     e.RecipientID,
		TemplateID:      e.TemplateID,
		ScheduledSendID: e.ScheduledSendID,
		Subject:         e.Subject,
		Status:          e.Status,
		ErrorMessage:    e.ErrorMessage,
		SentAt:          e.SentAt.UTC(),
	}
}

func sentMailModelToDomain(m *SentMailModel) *domain.SentHistoryEntry {
	if m == nil {
		return nil
	}

	return &domain.SentHistoryEntry{
		ID:              m.ID,
		RecipientID:     m.RecipientID,
		TemplateID:      m.TemplateID,
		ScheduledSendID: m.ScheduledSendID,
		Subject:         m.Subject,
		Status:          m.Status,
		ErrorMessage:    m.ErrorMessage,
		SentAt:          m.SentAt,
	}
}
