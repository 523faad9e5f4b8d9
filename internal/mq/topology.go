package mq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

const (
	ExchangeJobs Exchange = "compute.jobs"
	ExchangeDLQ  Exchange = "compute.dlq"
)

const (
	QueueJobEvents    Queue = "compute.job_events"
	QueueDLQJobEvents Queue = "dlq.job_events"
)

const (
	// RoutingKeyJobAll — все события jobs.
	RoutingKeyJobAll RoutingKey = "job.#"

	RoutingKeyDLQJobs RoutingKey = "jobs"
)

// jobEventsTTL — события нужны только для метрик, старые не храним.
const jobEventsTTL = time.Hour

// JobRoutingKey возвращает routing key события: job.<status>.
func JobRoutingKey(status string) RoutingKey {
	return RoutingKey("job." + status)
}

type exchangeDecl struct {
	name Exchange
	kind string
}

type queueDecl struct {
	name Queue
	args amqp.Table
}

type bindingDecl struct {
	queue    Queue
	key      RoutingKey
	exchange Exchange
}

// topology описывает всё, что объявляет SetupTopology. Все объекты durable.
type topology struct {
	exchanges []exchangeDecl
	queues    []queueDecl
	bindings  []bindingDecl
}

func jobEventsTopology() topology {
	return topology{
		exchanges: []exchangeDecl{
			{ExchangeJobs, amqp.ExchangeTopic},
			{ExchangeDLQ, amqp.ExchangeDirect},
		},
		queues: []queueDecl{
			{QueueJobEvents, amqp.Table{
				"x-dead-letter-exchange":    string(ExchangeDLQ),
				"x-dead-letter-routing-key": string(RoutingKeyDLQJobs),
				"x-message-ttl":             jobEventsTTL.Milliseconds(),
			}},
			{QueueDLQJobEvents, nil},
		},
		bindings: []bindingDecl{
			{QueueJobEvents, RoutingKeyJobAll, ExchangeJobs},
			{QueueDLQJobEvents, RoutingKeyDLQJobs, ExchangeDLQ},
		},
	}
}

// SetupTopology объявляет exchanges, очереди и bindings событий jobs.
// Идемпотентна, вызывается и воркером, и сервером.
func SetupTopology(ctx context.Context, conn *Connection) error {
	t := jobEventsTopology()

	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range t.exchanges {
			if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}
		for _, q := range t.queues {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}
		for _, b := range t.bindings {
			if err := ch.QueueBind(string(b.queue), string(b.key), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}
