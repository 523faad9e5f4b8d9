package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cloudonlanapps/cl-server-compute/internal/telemetry"
)

// MessageType — тип события, совпадает с routing key.
type MessageType string

const (
	MessageTypeJobClaimed   MessageType = "job.claimed"
	MessageTypeJobRunning   MessageType = "job.running"
	MessageTypeJobSucceeded MessageType = "job.succeeded"
	MessageTypeJobFailed    MessageType = "job.failed"
)

// Message — конверт события в теле AMQP-сообщения.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Source    string      `json:"source,omitempty"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// JobEventPayload — событие жизненного цикла job.
type JobEventPayload struct {
	JobID     uuid.UUID `json:"job_id"`
	TaskType  string    `json:"task_type"`
	WorkerID  string    `json:"worker_id"`
	Status    string    `json:"status"`
	ErrorCode string    `json:"error_code,omitempty"`
	Error     string    `json:"error,omitempty"`

	// DurationMs заполняется только для succeeded/failed.
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewJobEventMessage заворачивает событие job в конверт.
func NewJobEventMessage(payload JobEventPayload) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      MessageType(JobRoutingKey(payload.Status)),
		Source:    payload.WorkerID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher отправляет события jobs в exchange compute.jobs.
type Publisher struct {
	conn   *Connection
	appID  string
	logger *slog.Logger
}

func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		appID:  fmt.Sprintf("compute-worker/%d", os.Getpid()),
		logger: logger.With("component", "mq_publisher"),
	}
}

// publishing собирает AMQP-сообщение: тип и источник дублируются в
// заголовках, чтобы их можно было фильтровать без разбора тела.
func (p *Publisher) publishing(msg *Message, body []byte) amqp.Publishing {
	headers := amqp.Table{"type": string(msg.Type)}
	if msg.Source != "" {
		headers["source"] = msg.Source
	}
	return amqp.Publishing{
		Headers:      headers,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         string(msg.Type),
		AppId:        p.appID,
		Timestamp:    msg.Timestamp,
		Body:         body,
	}
}

// Publish отправляет msg в exchange с routing key.
// Без открытого канала возвращает ErrNoChannel.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, key RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}

	err = p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		return ch.PublishWithContext(ctx, string(exchange), string(key), false, false, p.publishing(msg, body))
	})
	if err != nil {
		telemetry.JobEventsPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("publish %s/%s: %w", exchange, key, err)
	}

	telemetry.JobEventsPublished.WithLabelValues("ok").Inc()
	p.logger.Debug("event published", "routing_key", key, "message_id", msg.ID)
	return nil
}

// PublishJobEvent публикует событие job; его потребляет compute-server.
func (p *Publisher) PublishJobEvent(ctx context.Context, payload JobEventPayload) error {
	return p.Publish(ctx, ExchangeJobs, JobRoutingKey(payload.Status), NewJobEventMessage(payload))
}
