package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики воркера.
var (
	// ClaimAttempts — результаты циклов polling: claimed, empty, conflict, error.
	ClaimAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compute_worker_claim_attempts_total",
		Help: "Job claim attempts by outcome",
	}, []string{"outcome"})

	// JobsProcessed — завершённые jobs по финальному статусу.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compute_worker_jobs_processed_total",
		Help: "Jobs processed by task type and final status",
	}, []string{"task_type", "status"})

	// JobDuration — длительность выполнения executor'а.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "compute_worker_job_duration_seconds",
		Help:    "Task execution duration",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"task_type"})

	// StoreWriteRetries — повторные попытки записи в хранилище.
	StoreWriteRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "compute_worker_store_write_retries_total",
		Help: "Job store write retries",
	})

	// BroadcastsPublished — публикации capability по результату: ok, error.
	BroadcastsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compute_worker_broadcasts_total",
		Help: "Capability broadcasts by result",
	}, []string{"result"})
)

// Метрики сервера.
var (
	// CapabilityMessages — входящие capability-сообщения по результату:
	// accepted, stale, cleared, offline, malformed, dropped.
	CapabilityMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compute_server_capability_messages_total",
		Help: "Capability messages by ingestion result",
	}, []string{"result"})

	// LiveWorkers — количество воркеров в кэше.
	LiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "compute_server_live_workers",
		Help: "Workers currently present in the capability cache",
	})

	// EvictedWorkers — воркеры, удалённые по TTL.
	EvictedWorkers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "compute_server_evicted_workers_total",
		Help: "Workers evicted from the capability cache by TTL",
	})

	// JobEvents — события жизненного цикла jobs, полученные из RabbitMQ.
	JobEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compute_server_job_events_total",
		Help: "Job lifecycle events consumed by status",
	}, []string{"status"})
)

// HTTPRequestDuration — длительность запросов API по маршруту и коду ответа.
var HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "compute_server_http_request_duration_seconds",
	Help:    "API request duration by route and status code",
	Buckets: prometheus.DefBuckets,
}, []string{"route", "code"})

// AMQPReconnects — восстановления соединения с RabbitMQ.
var AMQPReconnects = promauto.NewCounter(prometheus.CounterOpts{
	Name: "compute_amqp_reconnects_total",
	Help: "RabbitMQ connection re-establishments",
})

// JobEventsPublished — попытки публикации событий jobs воркером.
var JobEventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "compute_worker_job_events_published_total",
	Help: "Job lifecycle events published to RabbitMQ by result",
}, []string{"result"})
