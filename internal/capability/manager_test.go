package capability

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/cloudonlanapps/cl-server-compute/internal/domain"
	"github.com/cloudonlanapps/cl-server-compute/internal/pubsub"
)

const testPrefix = "inference/workers"

// fakeClock — управляемые часы для проверок TTL.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(clock *fakeClock) *Manager {
	return NewManager(ManagerConfig{
		TTL:         15 * time.Second,
		TopicPrefix: testPrefix,
		QueueSize:   8,
		Clock:       clock.Now,
	})
}

// drain синхронно обрабатывает накопленные сообщения.
func drain(m *Manager) {
	for {
		select {
		case msg := <-m.queue:
			m.HandleMessage(msg)
		default:
			return
		}
	}
}

func TestManager_AggregateExample(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(clock)

	m.Ingest(domain.NewWorkerCapability("w1", []string{"A", "B"}, 1, clock.Now()))
	m.Ingest(domain.NewWorkerCapability("w2", []string{"A"}, 0, clock.Now()))

	agg := m.Aggregate()

	if agg.Idle["A"] != 1 {
		t.Errorf("expected A: 1 idle, got %d", agg.Idle["A"])
	}
	if agg.Idle["B"] != 1 {
		t.Errorf("expected B: 1 idle, got %d", agg.Idle["B"])
	}
	if !slices.Equal(agg.Workers, []string{"w1", "w2"}) {
		t.Errorf("expected workers [w1 w2], got %v", agg.Workers)
	}
	if agg.NumWorkers() != 2 {
		t.Errorf("expected 2 workers, got %d", agg.NumWorkers())
	}

	counts := m.WorkerCountByTask()
	if counts["A"] != 2 || counts["B"] != 1 {
		t.Errorf("unexpected worker counts: %v", counts)
	}
}

func TestManager_TTLEviction(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(clock)

	m.Ingest(domain.NewWorkerCapability("old", []string{"A"}, 1, clock.Now()))
	clock.Advance(10 * time.Second)
	m.Ingest(domain.NewWorkerCapability("fresh", []string{"A"}, 1, clock.Now()))
	clock.Advance(6 * time.Second)

	// Без sweep: устаревшая запись отфильтровывается при чтении
	agg := m.Aggregate()
	if !slices.Equal(agg.Workers, []string{"fresh"}) {
		t.Fatalf("expected only fresh worker, got %v", agg.Workers)
	}
	if agg.Idle["A"] != 1 {
		t.Errorf("expected A: 1, got %d", agg.Idle["A"])
	}

	if n := m.EvictStale(clock.Now()); n != 1 {
		t.Errorf("expected 1 evicted, got %d", n)
	}
	if n := m.EvictStale(clock.Now()); n != 0 {
		t.Errorf("expected 0 evicted on second sweep, got %d", n)
	}
}

func TestManager_TTLBoundary(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(clock)

	m.Ingest(domain.NewWorkerCapability("w1", []string{"A"}, 1, clock.Now()))
	clock.Advance(15 * time.Second)

	// now - lastSeen == ttl ещё не устарела
	if got := m.Aggregate().NumWorkers(); got != 1 {
		t.Errorf("expected worker at exact TTL to be live, got %d", got)
	}

	clock.Advance(time.Millisecond)
	if got := m.Aggregate().NumWorkers(); got != 0 {
		t.Errorf("expected worker past TTL to be absent, got %d", got)
	}
}

func TestManager_IdempotentIngest(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(clock)

	rec := domain.NewWorkerCapability("w1", []string{"A", "B"}, 1, clock.Now())

	if !m.Ingest(rec) {
		t.Fatal("first ingest should be accepted")
	}
	first := m.Snapshot()

	if !m.Ingest(rec) {
		t.Fatal("equal timestamp ingest should be accepted")
	}
	second := m.Snapshot()

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected single record, got %d and %d", len(first), len(second))
	}
	if first[0].Timestamp != second[0].Timestamp ||
		first[0].IdleCount != second[0].IdleCount ||
		!slices.Equal(first[0].TaskTypes, second[0].TaskTypes) {
		t.Errorf("state changed after duplicate ingest: %+v vs %+v", first[0], second[0])
	}
}

func TestManager_OutOfOrderRejected(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(clock)

	newer := domain.NewWorkerCapability("w1", []string{"A"}, 0, clock.Now())
	older := domain.NewWorkerCapability("w1", []string{"A", "B"}, 1, clock.Now().Add(-time.Second))

	m.Ingest(newer)
	if m.Ingest(older) {
		t.Error("older broadcast should be discarded")
	}

	snap := m.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 record, got %d", len(snap))
	}
	if snap[0].IdleCount != 0 || !slices.Equal(snap[0].TaskTypes, []string{"A"}) {
		t.Errorf("cached record was overwritten: %+v", snap[0])
	}
}

func TestManager_NegativeIdleClamped(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(clock)

	rec := domain.WorkerCapability{WorkerID: "w1", TaskTypes: []string{"A"}, IdleCount: -3, Timestamp: clock.Now(), LastSeen: clock.Now()}
	m.Ingest(rec)

	if got := m.Aggregate().Idle["A"]; got != 0 {
		t.Errorf("expected idle clamped to 0, got %d", got)
	}
}

func TestManager_HandleMessage(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(clock)
	topic := Topic(testPrefix, "w1")

	payload, _ := Encode(domain.NewWorkerCapability("w1", []string{"A"}, 1, clock.Now()))
	m.HandleMessage(pubsub.Message{Topic: topic, Payload: payload, Retained: true})
	if m.Aggregate().NumWorkers() != 1 {
		t.Fatal("expected worker after broadcast")
	}

	m.HandleMessage(pubsub.Message{Topic: topic, Payload: []byte("{not json")})
	if m.Aggregate().NumWorkers() != 1 {
		t.Fatal("malformed message must not change the cache")
	}

	m.HandleMessage(pubsub.Message{Topic: topic, Payload: nil, Retained: true})
	if m.Aggregate().NumWorkers() != 0 {
		t.Fatal("cleared message should remove worker")
	}

	m.HandleMessage(pubsub.Message{Topic: topic, Payload: payload})
	m.HandleMessage(pubsub.Message{Topic: topic, Payload: OfflinePayload("w1")})
	if m.Aggregate().NumWorkers() != 0 {
		t.Fatal("offline marker should remove worker")
	}
}

func TestManager_EnqueueDropsWhenFull(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(clock)

	for i := range 20 {
		payload, _ := Encode(domain.NewWorkerCapability(fmt.Sprintf("w%02d", i), []string{"A"}, 1, clock.Now()))
		m.Enqueue(pubsub.Message{Topic: Topic(testPrefix, fmt.Sprintf("w%02d", i)), Payload: payload})
	}

	if got := len(m.queue); got != 8 {
		t.Fatalf("expected queue capped at 8, got %d", got)
	}

	drain(m)
	if got := m.Aggregate().NumWorkers(); got != 8 {
		t.Errorf("expected 8 workers ingested, got %d", got)
	}
}

func TestManager_ConcurrentIngestAndRead(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(clock)

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("w%d", w)
			for i := range 200 {
				ts := clock.Now().Add(time.Duration(i) * time.Millisecond)
				m.Ingest(domain.NewWorkerCapability(id, []string{"A", "B"}, i%2, ts))
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 200 {
			agg := m.Aggregate()
			if agg.Idle["A"] < 0 || agg.Idle["A"] > 4 {
				t.Errorf("inconsistent idle count: %d", agg.Idle["A"])
				return
			}
		}
	}()

	wg.Wait()

	if got := m.Aggregate().NumWorkers(); got != 4 {
		t.Errorf("expected 4 workers, got %d", got)
	}
	for _, rec := range m.Snapshot() {
		want := clock.Now().Add(199 * time.Millisecond)
		if !rec.Timestamp.Equal(want) {
			t.Errorf("worker %s: expected latest timestamp %v, got %v", rec.WorkerID, want, rec.Timestamp)
		}
	}
}

func TestManager_RunProcessesQueue(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	payload, _ := Encode(domain.NewWorkerCapability("w1", []string{"A"}, 1, clock.Now()))
	m.Enqueue(pubsub.Message{Topic: Topic(testPrefix, "w1"), Payload: payload})

	deadline := time.After(2 * time.Second)
	for m.Aggregate().NumWorkers() == 0 {
		select {
		case <-deadline:
			t.Fatal("message was not processed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDecode(t *testing.T) {
	topic := Topic(testPrefix, "w9")

	ev, err := Decode(pubsub.Message{Topic: topic, Payload: []byte(`{"capabilities":["b","a","a"],"idle":true,"timestamp":1000}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind != EventUpdate || ev.WorkerID != "w9" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Record.IdleCount != 1 || !slices.Equal(ev.Record.TaskTypes, []string{"a", "b"}) {
		t.Errorf("unexpected record: %+v", ev.Record)
	}
	if ev.Record.Timestamp.UnixMilli() != 1000 {
		t.Errorf("unexpected timestamp: %v", ev.Record.Timestamp)
	}

	if _, err := Decode(pubsub.Message{Topic: topic, Payload: []byte(`{"id":"w9"}`)}); err == nil {
		t.Error("expected error for missing timestamp")
	}

	for _, payload := range []string{"", " ", "\n\t "} {
		ev, err := Decode(pubsub.Message{Topic: topic, Payload: []byte(payload), Retained: true})
		if err != nil || ev.Kind != EventCleared || ev.WorkerID != "w9" {
			t.Errorf("payload %q: expected cleared w9, got %+v, %v", payload, ev, err)
		}
	}
}

func TestManager_SubscribeReceivesRetainedAndWill(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(clock)
	broker := pubsub.NewBroker()

	// Воркер публикует до того, как сервер подписался
	worker := broker.Client()
	b := NewBroadcaster(worker, BroadcasterConfig{
		WorkerID:    "w1",
		TaskTypes:   []string{"A"},
		TopicPrefix: testPrefix,
		Clock:       clock.Now,
	})
	ctx := context.Background()
	if err := b.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case <-m.Ready():
		t.Fatal("Ready must not fire before Subscribe")
	default:
	}

	server := broker.Client()
	if err := server.Connect(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if err := m.Subscribe(ctx, server); err != nil {
		t.Fatal(err)
	}

	select {
	case <-m.Ready():
	default:
		t.Fatal("Ready must fire after Subscribe")
	}

	drain(m)
	if got := m.Aggregate().NumWorkers(); got != 1 {
		t.Fatalf("expected retained capability to be ingested, got %d workers", got)
	}

	// Нечистый разрыв: брокер публикует offline marker
	worker.Drop()
	drain(m)
	if got := m.Aggregate().NumWorkers(); got != 0 {
		t.Errorf("expected worker removed by last will, got %d workers", got)
	}
}
