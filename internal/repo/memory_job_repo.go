package repo

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudonlanapps/cl-server-compute/internal/domain"
)

// MemoryJobRepo — хранилище jobs в памяти процесса.
//
// Claim устроен как в распределённом хранилище: выборка кандидатов и условное
// обновление (compare-and-set по статусу) — два отдельных шага. Если все
// кандидаты перехвачены между ними, возвращается ErrClaimConflict.
type MemoryJobRepo struct {
	ordering Ordering

	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job
}

// NewMemoryJobRepo создаёт пустое хранилище.
func NewMemoryJobRepo(ordering Ordering) *MemoryJobRepo {
	if ordering == "" {
		ordering = OrderOldestFirst
	}
	return &MemoryJobRepo{
		ordering: ordering,
		jobs:     make(map[uuid.UUID]*domain.Job),
	}
}

// Ping всегда успешен.
func (r *MemoryJobRepo) Ping(context.Context) error {
	return nil
}

// Create сохраняет копию job.
func (r *MemoryJobRepo) Create(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; ok {
		return ErrAlreadyExists
	}
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetByID возвращает копию job.
func (r *MemoryJobRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

// ClaimNext захватывает следующий pending job одного из типов.
func (r *MemoryJobRepo) ClaimNext(ctx context.Context, workerID string, taskTypes []string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := r.candidates(taskTypes)
	if len(candidates) == 0 {
		return nil, nil
	}

	for _, c := range candidates {
		if job, ok := r.compareAndClaim(c.ID, workerID); ok {
			return job, nil
		}
	}
	return nil, ErrClaimConflict
}

// candidates возвращает снимок подходящих pending jobs в порядке захвата.
func (r *MemoryJobRepo) candidates(taskTypes []string) []*domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.Job
	for _, job := range r.jobs {
		if job.Status == domain.JobStatusPending && slices.Contains(taskTypes, job.TaskType) {
			out = append(out, cloneJob(job))
		}
	}

	slices.SortFunc(out, func(a, b *domain.Job) int {
		switch {
		case r.ordering.Less(a, b):
			return -1
		case r.ordering.Less(b, a):
			return 1
		default:
			return 0
		}
	})
	return out
}

// compareAndClaim переводит job в claimed, только если он всё ещё pending.
func (r *MemoryJobRepo) compareAndClaim(id uuid.UUID, workerID string) (*domain.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || job.Status != domain.JobStatusPending {
		return nil, false
	}

	now := time.Now().UTC()
	job.Status = domain.JobStatusClaimed
	job.ClaimedBy = workerID
	job.ClaimedAt = &now
	job.UpdatedAt = now
	return cloneJob(job), true
}

// UpdateStatus записывает обновление от владельца claim.
func (r *MemoryJobRepo) UpdateStatus(ctx context.Context, u domain.StatusUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[u.JobID]
	if !ok {
		return ErrNotFound
	}
	if job.ClaimedBy != u.WorkerID {
		return ErrNotOwner
	}
	if !job.Status.CanTransitionTo(u.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, job.Status, u.Status)
	}

	job.Apply(u, time.Now().UTC())
	return nil
}

// List возвращает копии всех jobs в порядке создания.
func (r *MemoryJobRepo) List() []*domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, cloneJob(job))
	}
	slices.SortFunc(out, func(a, b *domain.Job) int {
		if OrderOldestFirst.Less(a, b) {
			return -1
		}
		return 1
	})
	return out
}

func cloneJob(j *domain.Job) *domain.Job {
	c := *j
	c.Params = maps.Clone(j.Params)
	c.Result = maps.Clone(j.Result)
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	return &c
}
