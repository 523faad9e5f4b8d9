package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) handle(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recorder) all() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"inference/workers/+", "inference/workers/w1", true},
		{"inference/workers/+", "inference/workers/w1/extra", false},
		{"inference/workers/+", "inference/other/w1", false},
		{"inference/#", "inference/workers/w1", true},
		{"#", "anything/at/all", true},
		{"a/b", "a/b", true},
		{"a/b/c", "a/b", false},
	}

	for _, tt := range tests {
		if got := Match(tt.pattern, tt.topic); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
		}
	}
}

func TestLastLevel(t *testing.T) {
	if got := LastLevel("inference/workers/w1"); got != "w1" {
		t.Errorf("expected w1, got %q", got)
	}
	if got := LastLevel("w1"); got != "w1" {
		t.Errorf("expected w1, got %q", got)
	}
}

func TestBroker_RetainedDeliveredToLateSubscriber(t *testing.T) {
	ctx := context.Background()
	b := NewBroker()

	pub := b.Client()
	if err := pub.Connect(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if err := pub.Publish(ctx, "inference/workers/w1", []byte(`{"id":"w1"}`), true); err != nil {
		t.Fatal(err)
	}

	sub := b.Client()
	_ = sub.Connect(ctx, nil)
	rec := &recorder{}
	if err := sub.Subscribe(ctx, "inference/workers/+", rec.handle); err != nil {
		t.Fatal(err)
	}

	msgs := rec.all()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 retained message, got %d", len(msgs))
	}
	if !msgs[0].Retained || string(msgs[0].Payload) != `{"id":"w1"}` {
		t.Errorf("unexpected message: %+v", msgs[0])
	}
}

func TestBroker_EmptyRetainedClears(t *testing.T) {
	ctx := context.Background()
	b := NewBroker()
	pub := b.Client()
	_ = pub.Connect(ctx, nil)

	_ = pub.Publish(ctx, "t/w1", []byte("x"), true)
	_ = pub.Publish(ctx, "t/w1", nil, true)

	if _, ok := b.Retained("t/w1"); ok {
		t.Error("expected retained message to be cleared")
	}
}

func TestBroker_WillOnDropOnly(t *testing.T) {
	ctx := context.Background()
	b := NewBroker()

	sub := b.Client()
	_ = sub.Connect(ctx, nil)
	rec := &recorder{}
	_ = sub.Subscribe(ctx, "t/+", rec.handle)

	will := &Will{Topic: "t/w1", Payload: []byte("offline"), Retained: true}

	clean := b.Client()
	_ = clean.Connect(ctx, will)
	_ = clean.Close()
	if n := len(rec.all()); n != 0 {
		t.Fatalf("clean close must not publish will, got %d messages", n)
	}

	crashed := b.Client()
	_ = crashed.Connect(ctx, will)
	crashed.Drop()

	msgs := rec.all()
	if len(msgs) != 1 || string(msgs[0].Payload) != "offline" {
		t.Fatalf("expected will message, got %+v", msgs)
	}
	if p, ok := b.Retained("t/w1"); !ok || string(p) != "offline" {
		t.Error("expected retained will")
	}
}

func TestMemoryTransport_NotConnected(t *testing.T) {
	tr := NewBroker().Client()
	err := tr.Publish(context.Background(), "t", []byte("x"), false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestMemoryTransport_CloseDetachesSubscriptions(t *testing.T) {
	ctx := context.Background()
	b := NewBroker()

	sub := b.Client()
	_ = sub.Connect(ctx, nil)
	rec := &recorder{}
	_ = sub.Subscribe(ctx, "t/#", rec.handle)
	_ = sub.Close()

	pub := b.Client()
	_ = pub.Connect(ctx, nil)
	_ = pub.Publish(ctx, "t/x", []byte("x"), false)

	if n := len(rec.all()); n != 0 {
		t.Errorf("expected no deliveries after close, got %d", n)
	}
}
