package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudonlanapps/cl-server-compute/internal/backoff"
	"github.com/cloudonlanapps/cl-server-compute/internal/domain"
	"github.com/cloudonlanapps/cl-server-compute/internal/repo"
	"github.com/cloudonlanapps/cl-server-compute/internal/telemetry"
)

// write записывает обновление статуса с повторными попытками.
//
// Отказы хранилища по существу (нет job, чужой claim, недопустимый переход)
// и отмена ctx не повторяются. Исчерпание попыток возвращает ErrStoreWrite.
func (c *Coordinator) write(ctx context.Context, u domain.StatusUpdate) error {
	var lastErr error

	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		if attempt > 1 {
			telemetry.StoreWriteRetries.Inc()
			if err := backoff.Sleep(ctx, c.backoff.Delay(attempt-1)); err != nil {
				return err
			}
		}

		err := c.store.UpdateStatus(ctx, u)
		if err == nil {
			return nil
		}
		if !retryable(ctx, err) {
			return err
		}

		lastErr = err
		c.logger.Debug("status write failed, retrying",
			"job_id", u.JobID,
			"status", u.Status,
			"attempt", attempt,
			"error", err,
		)
	}

	return fmt.Errorf("%w: %s after %d attempts: %v", ErrStoreWrite, u.Status, c.retryAttempts, lastErr)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch {
	case errors.Is(err, repo.ErrNotFound),
		errors.Is(err, repo.ErrNotOwner),
		errors.Is(err, repo.ErrInvalidState),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}
