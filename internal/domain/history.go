package domain

import "time"

// SentHistoryEntry is one row of the sent-mail log rendered by the UI.
type SentHistoryEntry struct {
	ID              int64
	RecipientID     int64
	TemplateID      *int64
	ScheduledSendID *string
	Subject         string
	Status          Status
	ErrorMessage    *string
	SentAt          time.Time
}
