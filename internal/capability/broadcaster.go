package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudonlanapps/cl-server-compute/internal/domain"
	"github.com/cloudonlanapps/cl-server-compute/internal/pubsub"
	"github.com/cloudonlanapps/cl-server-compute/internal/telemetry"
)

const defaultHeartbeatInterval = 5 * time.Second

// IdleFunc возвращает текущее количество свободных слотов воркера.
type IdleFunc func() int

// BroadcasterConfig — конфигурация Broadcaster.
type BroadcasterConfig struct {
	WorkerID    string
	TaskTypes   []string
	TopicPrefix string

	// Interval — период heartbeat (default: 5s).
	Interval time.Duration

	// Idle читает состояние воркера. nil — воркер всегда свободен.
	Idle IdleFunc

	// Clock — источник времени для timestamp (default: time.Now).
	Clock func() time.Time

	Logger *slog.Logger
}

// Broadcaster публикует capability воркера.
//
// Жизненный цикл:
//
//	Connect → Run (тикер + Trigger) → Clear → Close
//
// При нечистом разрыве брокер сам публикует last will (offline marker).
type Broadcaster struct {
	transport pubsub.Transport
	workerID  string
	taskTypes []string
	topic     string
	interval  time.Duration
	idle      IdleFunc
	clock     func() time.Time
	logger    *slog.Logger

	trigger chan struct{}

	mu     sync.Mutex
	lastTS int64
}

// NewBroadcaster создаёт Broadcaster.
func NewBroadcaster(t pubsub.Transport, cfg BroadcasterConfig) *Broadcaster {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}

	idle := cfg.Idle
	if idle == nil {
		idle = func() int { return 1 }
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Broadcaster{
		transport: t,
		workerID:  cfg.WorkerID,
		taskTypes: domain.NormalizeTaskTypes(cfg.TaskTypes),
		topic:     Topic(cfg.TopicPrefix, cfg.WorkerID),
		interval:  interval,
		idle:      idle,
		clock:     clock,
		logger:    telemetry.WithWorkerID(logger, cfg.WorkerID),
		trigger:   make(chan struct{}, 1),
	}
}

// Topic возвращает топик воркера.
func (b *Broadcaster) Topic() string {
	return b.topic
}

// Connect подключает транспорт с last will в топике воркера.
func (b *Broadcaster) Connect(ctx context.Context) error {
	will := &pubsub.Will{
		Topic:    b.topic,
		Payload:  OfflinePayload(b.workerID),
		Retained: true,
	}
	if err := b.transport.Connect(ctx, will); err != nil {
		return fmt.Errorf("connect broadcaster: %w", err)
	}

	b.logger.Info("broadcaster connected", "topic", b.topic, "interval", b.interval)
	return nil
}

// Run публикует capability сразу, затем каждый интервал и по Trigger.
// Ошибки публикации не завершают цикл.
func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.publishLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.publishLogged(ctx)
		case <-b.trigger:
			b.publishLogged(ctx)
		}
	}
}

// Trigger запрашивает внеочередную публикацию (смена idle/busy).
// Несколько вызовов до публикации схлопываются в один.
func (b *Broadcaster) Trigger() {
	select {
	case b.trigger <- struct{}{}:
	default:
	}
}

// Publish публикует текущий снимок capability как retained-сообщение.
func (b *Broadcaster) Publish(ctx context.Context) error {
	rec := domain.NewWorkerCapability(b.workerID, b.taskTypes, b.idle(), b.nextTimestamp())

	payload, err := Encode(rec)
	if err != nil {
		return fmt.Errorf("encode capability: %w", err)
	}

	if err := b.transport.Publish(ctx, b.topic, payload, true); err != nil {
		return err
	}

	b.logger.Debug("capability published", "idle_count", rec.IdleCount)
	return nil
}

// Clear удаляет retained-сообщение воркера (штатное завершение).
func (b *Broadcaster) Clear(ctx context.Context) error {
	if err := b.transport.Publish(ctx, b.topic, nil, true); err != nil {
		return fmt.Errorf("clear capability: %w", err)
	}
	b.logger.Info("capability cleared", "topic", b.topic)
	return nil
}

// Close чисто закрывает транспорт.
func (b *Broadcaster) Close() error {
	return b.transport.Close()
}

// Shutdown выполняет Clear и Close. Close вызывается, даже если Clear не удался.
func (b *Broadcaster) Shutdown(ctx context.Context) error {
	return errors.Join(b.Clear(ctx), b.Close())
}

func (b *Broadcaster) publishLogged(ctx context.Context) {
	if err := b.Publish(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		telemetry.BroadcastsPublished.WithLabelValues("error").Inc()
		b.logger.Warn("failed to publish capability", "error", err)
		return
	}
	telemetry.BroadcastsPublished.WithLabelValues("ok").Inc()
}

// nextTimestamp возвращает строго возрастающее время в миллисекундах,
// даже если часы не сдвинулись или пошли назад.
func (b *Broadcaster) nextTimestamp() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	ms := b.clock().UnixMilli()
	if ms <= b.lastTS {
		ms = b.lastTS + 1
	}
	b.lastTS = ms
	return time.UnixMilli(ms).UTC()
}
