package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"lidar.app/internal/auth"
	"lidar.app/internal/obs"
)

// DefaultQueue receives audit records when no queue is configured.
const DefaultQueue = "lidar.audit"

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes audit records as persistent JSON messages to a durable
// RabbitMQ queue.
type AMQPSink struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	ch      publisher
	queue   string
	timeout time.Duration
}

// DialAMQP connects to url and declares queue.
func DialAMQP(url, queue string) (*AMQPSink, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: channel: %w", err)
	}
	// Durable so records survive broker restarts.
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: queue declare: %w", err)
	}
	sink := newAMQPSink(ch, queue)
	sink.conn = conn
	return sink, nil
}

func newAMQPSink(ch publisher, queue string) *AMQPSink {
	return &AMQPSink{ch: ch, queue: queue, timeout: 5 * time.Second}
}

func (s *AMQPSink) Record(ctx context.Context, rec auth.AuditRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     rec.OccurredAt.UTC(),
		MessageId:     rec.ID,
		CorrelationId: rec.RequestID,
		Type:          rec.Action,
		Body:          body,
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ch.PublishWithContext(ctx, "", s.queue, false, false, msg); err != nil {
		obs.Warn("audit_publish_failed", map[string]any{"audit_id": rec.ID, "queue": s.queue, "err": err})
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.ch.Close()
	if s.conn != nil {
		if cerr := s.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
