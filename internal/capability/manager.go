package capability

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cloudonlanapps/cl-server-compute/internal/domain"
	"github.com/cloudonlanapps/cl-server-compute/internal/pubsub"
	"github.com/cloudonlanapps/cl-server-compute/internal/telemetry"
)

// Default configuration values.
const (
	defaultTTL       = 15 * time.Second
	defaultQueueSize = 256
)

// Aggregate — агрегированное представление живых воркеров.
type Aggregate struct {
	// Idle — сумма свободных слотов по типу задачи.
	Idle map[string]int `json:"capabilities"`

	// Workers — отсортированные ID живых воркеров.
	Workers []string `json:"workers"`
}

// NumWorkers возвращает количество живых воркеров.
func (a Aggregate) NumWorkers() int {
	return len(a.Workers)
}

// ManagerConfig — конфигурация Manager.
type ManagerConfig struct {
	// TTL — максимальный возраст записи (default: 15s).
	TTL time.Duration

	// TopicPrefix — префикс топиков воркеров.
	TopicPrefix string

	// QueueSize — ёмкость очереди входящих сообщений (default: 256).
	QueueSize int

	// Clock — источник текущего времени (default: time.Now).
	Clock func() time.Time

	Logger *slog.Logger
}

// Manager — серверный кэш возможностей воркеров.
//
// Записи неизменяемы и заменяются целиком под мьютексом.
// Все чтения возвращают копии, поэтому безопасны параллельно с ingestion.
type Manager struct {
	ttl    time.Duration
	prefix string
	clock  func() time.Time
	logger *slog.Logger

	mu      sync.RWMutex
	workers map[string]domain.WorkerCapability

	queue     chan pubsub.Message
	ready     chan struct{}
	readyOnce sync.Once
}

// NewManager создаёт Manager.
func NewManager(cfg ManagerConfig) *Manager {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		ttl:     ttl,
		prefix:  cfg.TopicPrefix,
		clock:   clock,
		logger:  logger.With("component", "capability_manager"),
		workers: make(map[string]domain.WorkerCapability),
		queue:   make(chan pubsub.Message, queueSize),
		ready:   make(chan struct{}),
	}
}

// TTL возвращает время жизни записи.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Ingest применяет broadcast.
//
// Запись заменяется, если её timestamp не старше сохранённого.
// Равный timestamp принимается повторно без изменения состояния.
// Возвращает false, если сообщение отброшено как устаревшее.
func (m *Manager) Ingest(rec domain.WorkerCapability) bool {
	rec.IdleCount = max(rec.IdleCount, 0)

	m.mu.Lock()
	cur, ok := m.workers[rec.WorkerID]
	if ok && rec.Timestamp.Before(cur.Timestamp) {
		m.mu.Unlock()
		m.logger.Debug("discarding out-of-order broadcast",
			"worker_id", rec.WorkerID,
			"timestamp", rec.Timestamp,
			"cached_timestamp", cur.Timestamp,
		)
		return false
	}
	m.workers[rec.WorkerID] = rec
	n := len(m.workers)
	m.mu.Unlock()

	telemetry.LiveWorkers.Set(float64(n))
	if !ok {
		m.logger.Info("worker discovered",
			"worker_id", rec.WorkerID,
			"task_types", rec.TaskTypes,
			"idle_count", rec.IdleCount,
		)
	}
	return true
}

// Remove удаляет запись воркера (clear или last will).
func (m *Manager) Remove(workerID, reason string) bool {
	m.mu.Lock()
	_, ok := m.workers[workerID]
	delete(m.workers, workerID)
	n := len(m.workers)
	m.mu.Unlock()

	if ok {
		telemetry.LiveWorkers.Set(float64(n))
		m.logger.Info("worker removed", "worker_id", workerID, "reason", reason)
	}
	return ok
}

// EvictStale удаляет записи с now - LastSeen > TTL.
// Возвращает количество удалённых записей.
func (m *Manager) EvictStale(now time.Time) int {
	m.mu.Lock()
	var evicted []string
	for id, rec := range m.workers {
		if rec.IsStale(now, m.ttl) {
			delete(m.workers, id)
			evicted = append(evicted, id)
		}
	}
	n := len(m.workers)
	m.mu.Unlock()

	if len(evicted) > 0 {
		telemetry.LiveWorkers.Set(float64(n))
		telemetry.EvictedWorkers.Add(float64(len(evicted)))
		slices.Sort(evicted)
		m.logger.Info("evicted stale workers", "workers", evicted, "ttl", m.ttl)
	}
	return len(evicted)
}

// Snapshot возвращает копии живых записей, отсортированные по WorkerID.
// Устаревшие записи отфильтровываются, даже если sweep ещё не прошёл.
func (m *Manager) Snapshot() []domain.WorkerCapability {
	now := m.clock()

	m.mu.RLock()
	out := make([]domain.WorkerCapability, 0, len(m.workers))
	for _, rec := range m.workers {
		if rec.IsStale(now, m.ttl) {
			continue
		}
		rec.TaskTypes = slices.Clone(rec.TaskTypes)
		out = append(out, rec)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.WorkerCapability) int {
		if a.WorkerID < b.WorkerID {
			return -1
		}
		if a.WorkerID > b.WorkerID {
			return 1
		}
		return 0
	})
	return out
}

// Aggregate возвращает свободные слоты по типам задач и список живых воркеров.
//
// Тип задачи присутствует в результате, если его поддерживает хотя бы один
// живой воркер, даже когда все они заняты (значение 0).
func (m *Manager) Aggregate() Aggregate {
	snap := m.Snapshot()

	agg := Aggregate{
		Idle:    make(map[string]int),
		Workers: make([]string, 0, len(snap)),
	}
	for _, rec := range snap {
		agg.Workers = append(agg.Workers, rec.WorkerID)
		for _, t := range rec.TaskTypes {
			agg.Idle[t] += rec.IdleCount
		}
	}
	return agg
}

// WorkerCountByTask возвращает количество живых воркеров по типу задачи
// независимо от занятости.
func (m *Manager) WorkerCountByTask() map[string]int {
	out := make(map[string]int)
	for _, rec := range m.Snapshot() {
		for _, t := range rec.TaskTypes {
			out[t]++
		}
	}
	return out
}

// HandleMessage разбирает и применяет одно сообщение.
// Ошибки разбора логируются и не возвращаются.
func (m *Manager) HandleMessage(msg pubsub.Message) {
	ev, err := Decode(msg)
	if err != nil {
		telemetry.CapabilityMessages.WithLabelValues("malformed").Inc()
		m.logger.Warn("dropping malformed capability message",
			"topic", msg.Topic,
			"error", err,
		)
		return
	}

	switch ev.Kind {
	case EventCleared:
		telemetry.CapabilityMessages.WithLabelValues("cleared").Inc()
		m.Remove(ev.WorkerID, "cleared")
	case EventOffline:
		telemetry.CapabilityMessages.WithLabelValues("offline").Inc()
		m.Remove(ev.WorkerID, "offline")
	case EventUpdate:
		if m.Ingest(ev.Record) {
			telemetry.CapabilityMessages.WithLabelValues("accepted").Inc()
		} else {
			telemetry.CapabilityMessages.WithLabelValues("stale").Inc()
		}
	}
}

// Enqueue кладёт сообщение в очередь обработки, не блокируясь.
// Используется как pubsub.Handler: при переполнении сообщение отбрасывается,
// следующий broadcast воркера восстановит состояние.
func (m *Manager) Enqueue(msg pubsub.Message) {
	select {
	case m.queue <- msg:
	default:
		telemetry.CapabilityMessages.WithLabelValues("dropped").Inc()
		m.logger.Warn("capability queue full, dropping message", "topic", msg.Topic)
	}
}

// Subscribe подписывает Manager на топики всех воркеров.
func (m *Manager) Subscribe(ctx context.Context, t pubsub.Transport) error {
	pattern := SubscriptionPattern(m.prefix)
	if err := t.Subscribe(ctx, pattern, m.Enqueue); err != nil {
		return err
	}

	m.readyOnce.Do(func() { close(m.ready) })
	m.logger.Info("subscribed to capability topics", "pattern", pattern)
	return nil
}

// Ready закрывается после установки подписки.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Run обрабатывает очередь сообщений до отмены ctx.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-m.queue:
			m.HandleMessage(msg)
		}
	}
}
