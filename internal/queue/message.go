package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/investor-mailer/internal/domain"
)

// DeliveryEvent is the broker payload describing a scheduled-send outcome.
type DeliveryEvent struct {
	ScheduledSendID string        `json:"scheduledSendId"`
	RecipientID     int64         `json:"recipientId"`
	TemplateID      *int64        `json:"templateId,omitempty"`
	Status          domain.Status `json:"status"`
	Detail          string        `json:"detail,omitempty"`
	OccurredAt      time.Time     `json:"occurredAt"`
}

func (e DeliveryEvent) Validate() error {
	if strings.TrimSpace(e.ScheduledSendID) == "" {
		return fmt.Errorf("scheduledSendId is required")
	}
	if !e.Status.IsTerminal() {
		return fmt.Errorf("invalid status %q", e.Status)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurredAt is required")
	}
	return nil
}
