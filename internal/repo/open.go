package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cloudonlanapps/cl-server-compute/internal/domain"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Store — общий интерфейс хранилищ jobs.
type Store interface {
	Ping(ctx context.Context) error
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	ClaimNext(ctx context.Context, workerID string, taskTypes []string) (*domain.Job, error)
	UpdateStatus(ctx context.Context, u domain.StatusUpdate) error
}

var (
	_ Store = (*JobRepo)(nil)
	_ Store = (*RedisJobRepo)(nil)
	_ Store = (*MemoryJobRepo)(nil)
)

// Options — параметры открытия хранилища.
type Options struct {
	Backend     string
	DatabaseURL string
	RedisURL    string
	Ordering    Ordering

	// EnsureSchema создаёт таблицу jobs в Postgres (сервер).
	EnsureSchema bool
}

// Open открывает хранилище выбранного backend.
// Возвращённый close освобождает соединения.
func Open(ctx context.Context, opts Options) (Store, func(), error) {
	switch opts.Backend {
	case BackendPostgres, "":
		pool, err := NewPool(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if opts.EnsureSchema {
			if err := EnsureSchema(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return NewJobRepo(pool, opts.Ordering), pool.Close, nil

	case BackendRedis:
		redisOpts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(redisOpts)
		return NewRedisJobRepo(client, opts.Ordering), func() { client.Close() }, nil

	case BackendMemory:
		return NewMemoryJobRepo(opts.Ordering), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
