package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPermanent — повтор бессмысленен, сообщение уходит в DLQ.
var ErrPermanent = errors.New("permanent message error")

var errDeliveriesClosed = errors.New("deliveries channel closed")

// Handler обрабатывает одно сообщение. Ошибка возвращает сообщение
// в очередь, ошибка с ErrPermanent отправляет его в DLQ.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставленное сообщение.
type Delivery struct {
	Message Message
	Raw     amqp.Delivery
}

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	Queue   string
	Handler Handler

	// Prefetch — сообщений без ack на канал (default: 1).
	Prefetch int

	// Tag — consumer tag; пустой — сгенерирует брокер.
	Tag string
}

// Consumer читает очередь с ручным ack и переживает переподключения Connection.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	tag      string
	handler  Handler
	prefetch int
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Consumer{
		conn:     conn,
		logger:   logger.With("queue", cfg.Queue),
		queue:    cfg.Queue,
		tag:      cfg.Tag,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Run потребляет сообщения до отмены ctx и тогда возвращает nil.
// Потеря канала не ошибка: Run ждёт переподключения и подписывается заново.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		deliveries, err := c.subscribe()
		if err == nil {
			c.logger.Info("consumer started")
			err = c.drain(ctx, deliveries)
		}
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("consumer interrupted, waiting for reconnect", "error", err)

		select {
		case <-ctx.Done():
			return nil
		case <-c.conn.ReconnectNotify():
		}
	}
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	// autoAck=false: подтверждаем после обработчика
	deliveries, err := ch.Consume(c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}
	return deliveries, nil
}

func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			c.handleDelivery(ctx, raw)
		}
	}
}

// handleDelivery вызывает обработчик и подтверждает сообщение по результату:
// успех — ack, ошибка — nack с возвратом в очередь, ErrPermanent или
// нечитаемый конверт — nack в DLQ.
func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("malformed message, sending to DLQ", "error", err, "body_size", len(raw.Body))
		_ = raw.Nack(false, false)
		return
	}

	err := c.handler(ctx, &Delivery{Message: msg, Raw: raw})
	if err == nil {
		_ = raw.Ack(false)
		return
	}

	permanent := errors.Is(err, ErrPermanent)
	c.logger.Error("message handler failed",
		"message_id", msg.ID,
		"type", msg.Type,
		"permanent", permanent,
		"error", err,
	)
	_ = raw.Nack(false, !permanent)
}

// ParsePayload декодирует msg.Payload в T.
func ParsePayload[T any](msg *Message) (T, error) {
	var out T

	// после json.Unmarshal конверта Payload — map[string]any
	b, err := json.Marshal(msg.Payload)
	if err != nil {
		return out, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("unmarshal payload: %w", err)
	}
	return out, nil
}

// JobEventHandler адаптирует обработчик событий jobs к Handler.
// Событие без статуса или с нечитаемым payload уходит в DLQ.
func JobEventHandler(fn func(ctx context.Context, ev JobEventPayload) error) Handler {
	return func(ctx context.Context, d *Delivery) error {
		ev, err := ParsePayload[JobEventPayload](&d.Message)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		if ev.Status == "" {
			return fmt.Errorf("%w: job event without status", ErrPermanent)
		}
		return fn(ctx, ev)
	}
}
