package provider

import (
	"context"

	"github.com/kursadbilgin/investor-mailer/internal/domain"
)

// Capability is an established channel able to send one rendered email.
// Send never returns an error: every failure resolves to an unsuccessful
// outcome with a readable detail.
type Capability interface {
	Send(ctx context.Context, to string, subject string, htmlBody string) domain.DeliveryOutcome
}

// Acquirer produces a Capability from a durable credential. It reports false
// when no usable credential exists.
type Acquirer interface {
	Acquire(ctx context.Context) (Capability, bool)
}

// AccountNamer is implemented by capabilities that know the mailbox they send
// from.
type AccountNamer interface {
	Account() string
}

// DefaultAccount keys pacing when a capability does not name its mailbox.
const DefaultAccount = "default"

// AccountOf returns the sending mailbox of c, or DefaultAccount.
func AccountOf(c Capability) string {
	if named, ok := c.(AccountNamer); ok {
		if account := named.Account(); account != "" {
			return account
		}
	}
	return DefaultAccount
}

// ProviderResponse stores provider call metadata for logging.
type ProviderResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}
