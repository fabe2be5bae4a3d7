package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	connectTimeout   = 15 * time.Second
)

// Topology names a durable work queue and the dead-letter route behind it.
type Topology struct {
	Queue                string
	DeadLetterExchange   string
	DeadLetterRoutingKey string
}

// DeliveryTopology is the topology used for scheduled-send delivery events.
func DeliveryTopology() Topology {
	return Topology{
		Queue:                DeliveryQueue,
		DeadLetterExchange:   dlxExchangeName,
		DeadLetterRoutingKey: dlqRoutingKey,
	}
}

// DeadLetterQueue returns the queue that receives rejected messages.
func (t Topology) DeadLetterQueue() string {
	return DLQName(t.Queue)
}

func (t Topology) queueArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    t.DeadLetterExchange,
		"x-dead-letter-routing-key": t.DeadLetterRoutingKey,
	}
}

func (t Topology) declare(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(t.DeadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	dlq := t.DeadLetterQueue()
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlq %q: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, t.DeadLetterRoutingKey, t.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dlq %q: %w", dlq, err)
	}

	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, t.queueArgs()); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", t.Queue, err)
	}
	return nil
}

// RabbitMQ owns one broker connection, redials it with backoff when it drops
// and declares the delivery topology on every channel it hands out.
type RabbitMQ struct {
	url      string
	topology Topology
	dial     func(url string) (*amqp.Connection, error)

	mu          sync.RWMutex
	reconnectMu sync.Mutex
	conn        *amqp.Connection
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url, topology: DeliveryTopology(), dial: amqp.Dial}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := r.reconnect(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

func (r *RabbitMQ) current() *amqp.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn
}

func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	if err := r.reconnect(ctx); err != nil {
		return nil, err
	}

	ch, err := r.current().Channel()
	if err != nil {
		// The connection may have died between the check and the call.
		if err := r.reconnect(ctx); err != nil {
			return nil, err
		}
		if ch, err = r.current().Channel(); err != nil {
			return nil, fmt.Errorf("failed to create rabbitmq channel after reconnect: %w", err)
		}
	}

	if err := r.topology.declare(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

// reconnect is a no-op while the connection is open.
func (r *RabbitMQ) reconnect(ctx context.Context) error {
	if conn := r.current(); conn != nil && !conn.IsClosed() {
		return nil
	}

	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()

	if conn := r.current(); conn != nil && !conn.IsClosed() {
		return nil
	}

	wait := reconnectBackoff
	for {
		conn, err := r.dial(r.url)
		if err == nil {
			r.mu.Lock()
			r.conn = conn
			r.mu.Unlock()
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("rabbitmq reconnect canceled: %w (last error: %v)", ctx.Err(), err)
		case <-time.After(wait):
		}

		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}
