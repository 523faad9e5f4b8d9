// Package backoff вычисляет задержки между повторными попытками.
//
// Используется для retry записи в хранилище и для переподключения к RabbitMQ.
// Все стратегии stateless и безопасны для конкурентного использования.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy вычисляет задержку перед попыткой attempt (начиная с 1).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Exponential удваивает задержку на каждой попытке.
// delay = min(Initial * 2^(attempt-1), Max)
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay возвращает Initial * 2^(attempt-1), ограниченную Max.
func (e Exponential) Delay(attempt int) time.Duration {
	return capped(e.Initial, e.Max, attempt)
}

// ExponentialWithJitter — exponential с full jitter:
// случайное значение в [0, min(Initial * 2^(attempt-1), Max)].
// Разносит retry разных воркеров во времени.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay возвращает случайную задержку в [0, exponential(attempt)].
func (e ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := capped(e.Initial, e.Max, attempt)
	return time.Duration(rand.Float64() * float64(base)) //nolint:gosec // jitter не требует crypto rand
}

func capped(initial, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if initial <= 0 {
		initial = time.Second
	}

	d := float64(initial) * math.Pow(2, float64(attempt-1))
	if maxDelay > 0 && d > float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(d)
}

// Default — стратегия по умолчанию: 200ms .. 5s с jitter.
func Default() Strategy {
	return ExponentialWithJitter{Initial: 200 * time.Millisecond, Max: 5 * time.Second}
}

// Sleep ждёт d с учётом context.
// Возвращает ctx.Err(), если context отменён раньше.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
