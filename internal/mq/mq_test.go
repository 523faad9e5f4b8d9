package mq

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeAcknowledger запоминает, как было подтверждено сообщение.
type fakeAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAcknowledger) Ack(uint64, bool) error {
	f.acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func delivery(t *testing.T, ack *fakeAcknowledger, msg any) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	return amqp.Delivery{Acknowledger: ack, Body: body}
}

func TestJobRoutingKey(t *testing.T) {
	if got := JobRoutingKey("succeeded"); got != "job.succeeded" {
		t.Errorf("expected job.succeeded, got %s", got)
	}
}

func TestNewJobEventMessage(t *testing.T) {
	id := uuid.New()
	msg := NewJobEventMessage(JobEventPayload{JobID: id, Status: "failed", ErrorCode: "task_error"})

	if msg.Type != MessageTypeJobFailed {
		t.Errorf("expected type %s, got %s", MessageTypeJobFailed, msg.Type)
	}
	if _, err := uuid.Parse(msg.ID); err != nil {
		t.Errorf("expected uuid message id, got %q", msg.ID)
	}

	payload, err := ParsePayload[JobEventPayload](msg)
	if err != nil {
		t.Fatal(err)
	}
	if payload.JobID != id || payload.ErrorCode != "task_error" {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestConsumer_HandleDelivery(t *testing.T) {
	var received []JobEventPayload
	handler := JobEventHandler(func(_ context.Context, ev JobEventPayload) error {
		if ev.Status == "running" {
			return errors.New("temporary failure")
		}
		received = append(received, ev)
		return nil
	})

	c := NewConsumer(nil, nil, ConsumerConfig{Queue: string(QueueJobEvents), Handler: handler})
	ctx := context.Background()

	t.Run("ack on success", func(t *testing.T) {
		ack := &fakeAcknowledger{}
		c.handleDelivery(ctx, delivery(t, ack, NewJobEventMessage(JobEventPayload{JobID: uuid.New(), Status: "succeeded"})))
		if !ack.acked {
			t.Error("expected ack")
		}
		if len(received) != 1 {
			t.Errorf("expected 1 event, got %d", len(received))
		}
	})

	t.Run("requeue on handler error", func(t *testing.T) {
		ack := &fakeAcknowledger{}
		c.handleDelivery(ctx, delivery(t, ack, NewJobEventMessage(JobEventPayload{JobID: uuid.New(), Status: "running"})))
		if !ack.nacked || !ack.requeue {
			t.Errorf("expected nack with requeue, got %+v", ack)
		}
	})

	t.Run("dlq on missing status", func(t *testing.T) {
		ack := &fakeAcknowledger{}
		msg := &Message{ID: "1", Type: "job.unknown", Payload: map[string]any{"job_id": uuid.New()}}
		c.handleDelivery(ctx, delivery(t, ack, msg))
		if !ack.nacked || ack.requeue {
			t.Errorf("expected nack without requeue, got %+v", ack)
		}
	})

	t.Run("dlq on malformed body", func(t *testing.T) {
		ack := &fakeAcknowledger{}
		c.handleDelivery(ctx, amqp.Delivery{Acknowledger: ack, Body: []byte("{")})
		if !ack.nacked || ack.requeue {
			t.Errorf("expected nack without requeue, got %+v", ack)
		}
	})
}

func TestConnection_WithChannelNoChannel(t *testing.T) {
	c := &Connection{closedCh: make(chan struct{}), reconnectCh: make(chan struct{}, 1)}
	err := c.WithChannel(context.Background(), func(*amqp.Channel) error { return nil })
	if !errors.Is(err, ErrNoChannel) {
		t.Errorf("expected ErrNoChannel, got %v", err)
	}
}

func TestConnection_CloseIdempotent(t *testing.T) {
	c := &Connection{
		logger:      slog.Default(),
		closedCh:    make(chan struct{}),
		reconnectCh: make(chan struct{}, 1),
	}

	if err := c.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if c.IsConnected() {
		t.Error("closed connection must not report connected")
	}
	select {
	case <-c.closedCh:
	default:
		t.Error("closedCh must be closed")
	}
}

func TestJobEventsTopology(t *testing.T) {
	topo := jobEventsTopology()

	declared := make(map[Queue]amqp.Table)
	for _, q := range topo.queues {
		declared[q.name] = q.args
	}
	exchanges := make(map[Exchange]bool)
	for _, ex := range topo.exchanges {
		exchanges[ex.name] = true
	}

	// Каждый binding ссылается на объявленные очередь и exchange
	for _, b := range topo.bindings {
		if _, ok := declared[b.queue]; !ok {
			t.Errorf("binding to undeclared queue %s", b.queue)
		}
		if !exchanges[b.exchange] {
			t.Errorf("binding to undeclared exchange %s", b.exchange)
		}
	}

	args := declared[QueueJobEvents]
	if args["x-dead-letter-exchange"] != string(ExchangeDLQ) {
		t.Errorf("job events queue must dead-letter to %s, got %v", ExchangeDLQ, args["x-dead-letter-exchange"])
	}
}

func TestPublisher_PublishingHeaders(t *testing.T) {
	p := NewPublisher(nil, slog.New(slog.DiscardHandler))
	msg := NewJobEventMessage(JobEventPayload{JobID: uuid.New(), WorkerID: "w1", Status: "claimed"})

	pub := p.publishing(msg, []byte("{}"))

	if pub.Type != string(MessageTypeJobClaimed) || pub.Headers["type"] != string(MessageTypeJobClaimed) {
		t.Errorf("unexpected type: %q / %v", pub.Type, pub.Headers["type"])
	}
	if pub.Headers["source"] != "w1" {
		t.Errorf("expected source header w1, got %v", pub.Headers["source"])
	}
	if pub.DeliveryMode != amqp.Persistent || pub.MessageId != msg.ID {
		t.Errorf("unexpected publishing: %+v", pub)
	}
}
