package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloudonlanapps/cl-server-compute/internal/domain"
)

const jobColumns = `
	id, task_type, status, priority, claimed_by, claimed_at, progress,
	params, result, error, started_at, finished_at, created_at, updated_at`

// JobRepo — хранилище jobs в Postgres.
//
// Claim атомарен за счёт SELECT ... FOR UPDATE SKIP LOCKED внутри UPDATE:
// конкурирующие воркеры пропускают заблокированные строки и берут следующие.
type JobRepo struct {
	pool     *pgxpool.Pool
	ordering Ordering
}

// NewJobRepo создаёт новый JobRepo.
func NewJobRepo(pool *pgxpool.Pool, ordering Ordering) *JobRepo {
	if ordering == "" {
		ordering = OrderOldestFirst
	}
	return &JobRepo{pool: pool, ordering: ordering}
}

// Ping проверяет доступность БД.
func (r *JobRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Create создаёт новый job.
func (r *JobRepo) Create(ctx context.Context, job *domain.Job) error {
	paramsJSON, err := marshalNullable(job.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	query := `
		INSERT INTO compute_jobs (id, task_type, status, priority, progress, params, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.TaskType,
		job.Status,
		job.Priority,
		job.Progress,
		paramsJSON,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID возвращает job по ID.
func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM compute_jobs WHERE id = $1`
	return scanJob(r.pool.QueryRow(ctx, query, id))
}

// ClaimNext атомарно захватывает следующий pending job одного из типов.
// Возвращает nil, nil, если подходящих jobs нет.
func (r *JobRepo) ClaimNext(ctx context.Context, workerID string, taskTypes []string) (*domain.Job, error) {
	if len(taskTypes) == 0 {
		return nil, nil
	}

	// Соединение берётся на время одной операции и возвращается на любом пути.
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Release()

	query := `
		UPDATE compute_jobs
		SET status = 'claimed', claimed_by = $1, claimed_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id FROM compute_jobs
			WHERE status = 'pending'
			  AND task_type = ANY($2)
			ORDER BY ` + r.ordering.orderBy() + `
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		  AND status = 'pending'
		RETURNING ` + jobColumns

	job, err := scanJob(conn.QueryRow(ctx, query, workerID, taskTypes))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// UpdateStatus записывает обновление от владельца claim.
//
// Обновление применяется, только если job принадлежит u.WorkerID и переход
// допустим из текущего статуса. Иначе возвращается ErrNotFound, ErrNotOwner
// или ErrInvalidState.
func (r *JobRepo) UpdateStatus(ctx context.Context, u domain.StatusUpdate) error {
	sources := claimSources(u.Status)
	if len(sources) == 0 {
		return fmt.Errorf("%w: cannot write status %s", ErrInvalidState, u.Status)
	}

	resultJSON, err := marshalNullable(u.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	var errorJSON []byte
	if u.Error != nil {
		if errorJSON, err = json.Marshal(u.Error); err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
	}
	var progress *float64
	if u.Progress != nil {
		p := domain.ClampProgress(*u.Progress)
		progress = &p
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Release()

	query := `
		UPDATE compute_jobs
		SET status      = $3::text,
		    progress    = COALESCE($4::double precision, progress),
		    result      = COALESCE($5::jsonb, result),
		    error       = COALESCE($6::jsonb, error),
		    started_at  = CASE WHEN $3::text = 'running' AND started_at IS NULL THEN NOW() ELSE started_at END,
		    finished_at = CASE WHEN $3::text IN ('succeeded', 'failed') THEN NOW() ELSE finished_at END,
		    updated_at  = NOW()
		WHERE id = $1
		  AND claimed_by = $2
		  AND status = ANY($7)
	`
	tag, err := conn.Exec(ctx, query,
		u.JobID,
		u.WorkerID,
		string(u.Status),
		progress,
		resultJSON,
		errorJSON,
		statusStrings(sources),
	)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	return r.diagnose(ctx, conn, u)
}

// diagnose определяет, почему условное обновление не затронуло строк.
func (r *JobRepo) diagnose(ctx context.Context, conn *pgxpool.Conn, u domain.StatusUpdate) error {
	var status domain.JobStatus
	var claimedBy *string
	err := conn.QueryRow(ctx,
		`SELECT status, claimed_by FROM compute_jobs WHERE id = $1`, u.JobID,
	).Scan(&status, &claimedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read job state: %w", err)
	}

	if claimedBy == nil || *claimedBy != u.WorkerID {
		return ErrNotOwner
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidState, status, u.Status)
}

// --- Helpers ---

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var claimedBy *string
	var paramsJSON, resultJSON, errorJSON []byte

	err := row.Scan(
		&job.ID,
		&job.TaskType,
		&job.Status,
		&job.Priority,
		&claimedBy,
		&job.ClaimedAt,
		&job.Progress,
		&paramsJSON,
		&resultJSON,
		&errorJSON,
		&job.StartedAt,
		&job.FinishedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if claimedBy != nil {
		job.ClaimedBy = *claimedBy
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &job.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &job.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if len(errorJSON) > 0 {
		job.Error = &domain.JobError{}
		if err := json.Unmarshal(errorJSON, job.Error); err != nil {
			return nil, fmt.Errorf("unmarshal error: %w", err)
		}
	}
	return &job, nil
}

// marshalNullable возвращает nil для пустой map, чтобы в БД записался NULL.
func marshalNullable(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func statusStrings(statuses []domain.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
