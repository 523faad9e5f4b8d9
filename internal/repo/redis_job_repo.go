package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cloudonlanapps/cl-server-compute/internal/domain"
)

// Ключи Redis. Все ключи с префиксом "compute:".
const redisKeyPrefix = "compute:"

// jobKey — Hash с полями job: compute:job:{id}
func jobKey(id string) string { return redisKeyPrefix + "job:" + id }

// pendingKey — Sorted Set pending jobs типа задачи: compute:pending:{task_type}
func pendingKey(taskType string) string { return redisKeyPrefix + "pending:" + taskType }

// claimScript выбирает голову с минимальным score среди pending-очередей
// и переводит job в claimed. Весь скрипт выполняется атомарно.
//
// При равном score побеждает меньший ID: внутри ZSET элементы с одинаковым
// score упорядочены лексикографически, между очередями сравниваем явно.
var claimScript = redis.NewScript(`
while true do
	local best_key, best_id, best_score
	for _, key in ipairs(KEYS) do
		local head = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
		if head[1] then
			local score = tonumber(head[2])
			if best_score == nil or score < best_score or (score == best_score and head[1] < best_id) then
				best_key, best_id, best_score = key, head[1], score
			end
		end
	end
	if not best_id then
		return false
	end

	redis.call('ZREM', best_key, best_id)
	local jk = ARGV[3] .. best_id
	if redis.call('HGET', jk, 'status') == 'pending' then
		redis.call('HSET', jk, 'status', 'claimed', 'claimed_by', ARGV[1], 'claimed_at', ARGV[2], 'updated_at', ARGV[2])
		return best_id
	end
end
`)

// updateScript применяет обновление владельца claim с проверкой
// владельца и допустимости перехода.
var updateScript = redis.NewScript(`
local jk = KEYS[1]
local cur = redis.call('HMGET', jk, 'status', 'claimed_by')
if not cur[1] then
	return redis.error_reply('NOT_FOUND')
end
if cur[2] ~= ARGV[1] then
	return redis.error_reply('NOT_OWNER')
end

local allowed = false
for s in string.gmatch(ARGV[7], '[^,]+') do
	if s == cur[1] then
		allowed = true
	end
end
if not allowed then
	return redis.error_reply('INVALID_STATE ' .. cur[1])
end

redis.call('HSET', jk, 'status', ARGV[2], 'updated_at', ARGV[6])
if ARGV[3] ~= '' then
	redis.call('HSET', jk, 'progress', ARGV[3])
end
if ARGV[4] ~= '' then
	redis.call('HSET', jk, 'result', ARGV[4])
end
if ARGV[5] ~= '' then
	redis.call('HSET', jk, 'error', ARGV[5])
end
if ARGV[2] == 'running' and redis.call('HEXISTS', jk, 'started_at') == 0 then
	redis.call('HSET', jk, 'started_at', ARGV[6])
end
if ARGV[2] == 'succeeded' or ARGV[2] == 'failed' then
	redis.call('HSET', jk, 'finished_at', ARGV[6])
end
return 1
`)

// RedisJobRepo — хранилище jobs в Redis.
//
// Job хранится как Hash, pending jobs каждого типа задачи — в Sorted Set.
// Claim и обновления выполняются Lua-скриптами и потому атомарны.
type RedisJobRepo struct {
	client   redis.Cmdable
	ordering Ordering
}

// NewRedisJobRepo создаёт RedisJobRepo. Жизненным циклом клиента владеет вызывающий.
func NewRedisJobRepo(client redis.Cmdable, ordering Ordering) *RedisJobRepo {
	if ordering == "" {
		ordering = OrderOldestFirst
	}
	return &RedisJobRepo{client: client, ordering: ordering}
}

// Ping проверяет доступность Redis.
func (r *RedisJobRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Create сохраняет pending job и ставит его в очередь его типа.
func (r *RedisJobRepo) Create(ctx context.Context, job *domain.Job) error {
	id := job.ID.String()
	key := jobKey(id)

	fields, err := jobToMap(job)
	if err != nil {
		return err
	}

	created, err := r.client.HSetNX(ctx, key, "id", id).Result()
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if !created {
		return ErrAlreadyExists
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if job.Status == domain.JobStatusPending {
		pipe.ZAdd(ctx, pendingKey(job.TaskType), redis.Z{Score: r.score(job), Member: id})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// GetByID возвращает job по ID.
func (r *RedisJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	vals, err := r.client.HGetAll(ctx, jobKey(id.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	return mapToJob(vals)
}

// ClaimNext атомарно захватывает следующий pending job одного из типов.
func (r *RedisJobRepo) ClaimNext(ctx context.Context, workerID string, taskTypes []string) (*domain.Job, error) {
	if len(taskTypes) == 0 {
		return nil, nil
	}

	keys := make([]string, len(taskTypes))
	for i, t := range taskTypes {
		keys[i] = pendingKey(t)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	id, err := claimScript.Run(ctx, r.client, keys, workerID, now, jobKey("")).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	jobID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse claimed id %q: %w", id, err)
	}
	return r.GetByID(ctx, jobID)
}

// UpdateStatus записывает обновление от владельца claim.
func (r *RedisJobRepo) UpdateStatus(ctx context.Context, u domain.StatusUpdate) error {
	sources := claimSources(u.Status)
	if len(sources) == 0 {
		return fmt.Errorf("%w: cannot write status %s", ErrInvalidState, u.Status)
	}

	var progress, result, jobErr string
	if u.Progress != nil {
		progress = strconv.FormatFloat(domain.ClampProgress(*u.Progress), 'f', -1, 64)
	}
	if u.Result != nil {
		b, err := json.Marshal(u.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		result = string(b)
	}
	if u.Error != nil {
		b, err := json.Marshal(u.Error)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		jobErr = string(b)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := updateScript.Run(ctx, r.client,
		[]string{jobKey(u.JobID.String())},
		u.WorkerID, string(u.Status), progress, result, jobErr, now,
		strings.Join(statusStrings(sources), ","),
	).Err()

	switch {
	case err == nil:
		return nil
	case strings.HasPrefix(err.Error(), "NOT_FOUND"):
		return ErrNotFound
	case strings.HasPrefix(err.Error(), "NOT_OWNER"):
		return ErrNotOwner
	case strings.HasPrefix(err.Error(), "INVALID_STATE"):
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, strings.TrimPrefix(err.Error(), "INVALID_STATE "), u.Status)
	default:
		return fmt.Errorf("update job status: %w", err)
	}
}

// score — меньший score захватывается первым.
//
// Для OrderPriority приоритет сдвигается на 1e13 (больше любого unix ms),
// float64 точно представляет такие целые при |priority| < 900.
func (r *RedisJobRepo) score(job *domain.Job) float64 {
	ms := float64(job.CreatedAt.UnixMilli())
	if r.ordering == OrderPriority {
		return float64(-job.Priority)*1e13 + ms
	}
	return ms
}

// --- Helpers ---

func jobToMap(j *domain.Job) (map[string]any, error) {
	m := map[string]any{
		"id":         j.ID.String(),
		"task_type":  j.TaskType,
		"status":     string(j.Status),
		"priority":   strconv.Itoa(j.Priority),
		"progress":   strconv.FormatFloat(j.Progress, 'f', -1, 64),
		"claimed_by": j.ClaimedBy,
		"created_at": j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.Params != nil {
		b, err := json.Marshal(j.Params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		m["params"] = string(b)
	}
	return m, nil
}

func mapToJob(m map[string]string) (*domain.Job, error) {
	id, err := uuid.Parse(m["id"])
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}

	j := &domain.Job{
		ID:        id,
		TaskType:  m["task_type"],
		Status:    domain.JobStatus(m["status"]),
		ClaimedBy: m["claimed_by"],
		CreatedAt: parseTime(m["created_at"]),
		UpdatedAt: parseTime(m["updated_at"]),
	}
	j.Priority, _ = strconv.Atoi(m["priority"])
	j.Progress, _ = strconv.ParseFloat(m["progress"], 64)
	j.ClaimedAt = parseTimePtr(m["claimed_at"])
	j.StartedAt = parseTimePtr(m["started_at"])
	j.FinishedAt = parseTimePtr(m["finished_at"])

	if v := m["params"]; v != "" {
		if err := json.Unmarshal([]byte(v), &j.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	if v := m["result"]; v != "" {
		if err := json.Unmarshal([]byte(v), &j.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if v := m["error"]; v != "" {
		j.Error = &domain.JobError{}
		if err := json.Unmarshal([]byte(v), j.Error); err != nil {
			return nil, fmt.Errorf("unmarshal error: %w", err)
		}
	}
	return j, nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}
