package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a scheduled send.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

const (
	MaxSubjectLength = 998
	MaxBodyLength    = 1 << 20
)

// ScheduledSend is a fully rendered email waiting for its due time.
// RecipientEmail and RecipientName are a display snapshot taken at enqueue time;
// delivery always uses the contact's current address.
type ScheduledSend struct {
	ID             string
	RecipientID    int64
	TemplateID     *int64
	RecipientEmail string
	RecipientName  string
	Subject        string
	Body           string
	DueAt          time.Time
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (s *ScheduledSend) Validate() error {
	if s.RecipientID <= 0 {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if strings.TrimSpace(s.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if strings.TrimSpace(s.Body) == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if s.DueAt.IsZero() {
		return fmt.Errorf("%w: due time is required", ErrValidation)
	}
	if n := len([]rune(s.Subject)); n > MaxSubjectLength {
		return fmt.Errorf("%w: subject exceeds %d characters (got %d)", ErrValidation, MaxSubjectLength, n)
	}
	if n := len(s.Body); n > MaxBodyLength {
		return fmt.Errorf("%w: body exceeds %d bytes (got %d)", ErrValidation, MaxBodyLength, n)
	}
	return nil
}

// IsDue reports whether the record may be dispatched at now.
func (s *ScheduledSend) IsDue(now time.Time) bool {
	return s.Status == StatusPending && !s.DueAt.After(now)
}

// DueSend is a pending scheduled send joined with the recipient's current contact data.
type DueSend struct {
	ScheduledSend
	ContactEmail string
	ContactName  string
}
