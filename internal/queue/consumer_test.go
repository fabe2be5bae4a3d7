package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/kursadbilgin/investor-mailer/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

type recordingAcknowledger struct {
	acked    int
	nacked   int
	requeued bool
	rejected int
}

func (a *recordingAcknowledger) Ack(uint64, bool) error {
	a.acked++
	return nil
}

func (a *recordingAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeued = requeue
	return nil
}

func (a *recordingAcknowledger) Reject(uint64, bool) error {
	a.rejected++
	return nil
}

func TestHandleDelivery(t *testing.T) {
	t.Parallel()

	validBody := []byte(`{"scheduledSendId":"s1","recipientId":7,"status":"sent","occurredAt":"2026-03-01T12:00:00Z"}`)
	handlerErr := errors.New("audit store down")

	tests := []struct {
		name         string
		body         []byte
		handlerErr   error
		wantHandled  bool
		wantAcked    int
		wantNacked   int
		wantRejected int
	}{
		{name: "valid event is acked", body: validBody, wantHandled: true, wantAcked: 1},
		{name: "invalid json is rejected", body: []byte(`{`), wantRejected: 1},
		{name: "pending status is rejected", body: []byte(`{"scheduledSendId":"s1","status":"pending","occurredAt":"2026-03-01T12:00:00Z"}`), wantRejected: 1},
		{name: "handler failure requeues", body: validBody, handlerErr: handlerErr, wantHandled: true, wantNacked: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ack := &recordingAcknowledger{}
			consumer := NewRabbitMQConsumer(nil, 1, nil)

			var got *DeliveryEvent
			err := consumer.handleDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, Body: tt.body}, func(_ context.Context, event DeliveryEvent) error {
				got = &event
				return tt.handlerErr
			})
			if err != nil {
				t.Fatalf("handleDelivery() error = %v", err)
			}

			if (got != nil) != tt.wantHandled {
				t.Fatalf("handler called = %v, want %v", got != nil, tt.wantHandled)
			}
			if got != nil && got.Status != domain.StatusSent {
				t.Fatalf("event status = %s, want sent", got.Status)
			}
			if ack.acked != tt.wantAcked || ack.nacked != tt.wantNacked || ack.rejected != tt.wantRejected {
				t.Fatalf("ack/nack/reject = %d/%d/%d, want %d/%d/%d",
					ack.acked, ack.nacked, ack.rejected, tt.wantAcked, tt.wantNacked, tt.wantRejected)
			}
			if tt.wantNacked > 0 && !ack.requeued {
				t.Fatal("expected nack to requeue")
			}
		})
	}
}

func TestConsumeRequiresInitializedConsumer(t *testing.T) {
	t.Parallel()

	var consumer *RabbitMQConsumer
	if err := consumer.Consume(context.Background(), DeliveryQueue, func(context.Context, DeliveryEvent) error { return nil }); err == nil {
		t.Fatal("Consume() error = nil, want error")
	}
}
