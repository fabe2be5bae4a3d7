package queue

import (
	"context"
	"fmt"
)

// Publisher publishes delivery events for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event DeliveryEvent) error
	Close() error
}

const (
	// DeliveryQueue receives one event per terminal scheduled-send transition.
	DeliveryQueue = "mail.delivery"

	dlxExchangeName = "mail.dlx"
	dlqRoutingKey   = "delivery"
)

// DLQName returns the dead-letter queue name for a queue, e.g. dlq.mail.delivery.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// NopPublisher drops events. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, DeliveryEvent) error { return nil }
func (NopPublisher) Close() error                                 { return nil }
