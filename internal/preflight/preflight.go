// Package preflight выполняет проверки окружения перед стартом воркера.
//
// Любая неудачная проверка — FatalStartupError: main печатает диагностику
// в stderr и завершает процесс с кодом 1, не начиная захват jobs.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultCheckTimeout = 5 * time.Second

// FatalStartupError — окружение не готово к запуску.
type FatalStartupError struct {
	// Check — имя проверки ("server", "data_dir", "store", "broker").
	Check string

	Err error

	// Hint — подсказка, как исправить.
	Hint string
}

func (e *FatalStartupError) Error() string {
	return fmt.Sprintf("preflight %s: %v", e.Check, e.Err)
}

func (e *FatalStartupError) Unwrap() error {
	return e.Err
}

// Diagnostic возвращает многострочное сообщение для stderr.
func (e *FatalStartupError) Diagnostic() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ERROR: %s check failed: %v\n", e.Check, e.Err)
	if e.Hint != "" {
		fmt.Fprintf(&b, "%s\n", e.Hint)
	}
	return b.String()
}

// Check — одна проверка.
type Check struct {
	Name string
	Hint string
	Run  func(ctx context.Context) error
}

// Pinger — зависимость, доступность которой проверяется через Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Run выполняет проверки по порядку и возвращает первую неудачу
// как *FatalStartupError. Каждая проверка ограничена timeout (default: 5s).
func Run(ctx context.Context, logger *slog.Logger, timeout time.Duration, checks ...Check) error {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}

	for _, c := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := c.Run(checkCtx)
		cancel()

		if err != nil {
			return &FatalStartupError{Check: c.Name, Err: err, Hint: c.Hint}
		}
		logger.Debug("preflight check passed", "check", c.Name)
	}
	return nil
}

// Server проверяет, что compute-сервер отвечает 200 на GET {baseURL}/healthz.
func Server(client *http.Client, baseURL string) Check {
	if client == nil {
		client = http.DefaultClient
	}

	return Check{
		Name: "server",
		Hint: fmt.Sprintf("Ensure the compute server is started and reachable at %s (compute-server --addr ...).", baseURL),
		Run: func(ctx context.Context) error {
			url := strings.TrimRight(baseURL, "/") + "/healthz"
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}

			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("compute server is not reachable: %w", err)
			}
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, resp.Body)

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("GET %s returned %d", url, resp.StatusCode)
			}
			return nil
		},
	}
}

// DataDir проверяет, что общий каталог существует и доступен на чтение и запись.
// Воркер каталог не создаёт: это делает сервер.
func DataDir(path string) Check {
	return Check{
		Name: "data_dir",
		Hint: "Start the compute server at least once or create the directory manually, and check permissions (CL_SERVER_DIR).",
		Run: func(context.Context) error {
			if path == "" {
				return errors.New("data directory is not configured")
			}

			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("data directory %s: %w", path, err)
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", path)
			}

			if _, err := os.ReadDir(path); err != nil {
				return fmt.Errorf("data directory %s is not readable: %w", path, err)
			}

			f, err := os.CreateTemp(path, ".preflight-*")
			if err != nil {
				return fmt.Errorf("data directory %s is not writable: %w", path, err)
			}
			name := f.Name()
			return errors.Join(f.Close(), os.Remove(name))
		},
	}
}

// Store проверяет доступность хранилища jobs.
func Store(p Pinger) Check {
	return Check{
		Name: "store",
		Hint: "Check store.backend and the database/redis URL (DB_URL, REDIS_URL).",
		Run: func(ctx context.Context) error {
			if err := p.Ping(ctx); err != nil {
				return fmt.Errorf("job store is not reachable: %w", err)
			}
			return nil
		},
	}
}

// Broker проверяет доступность MQTT брокера через connect.
func Broker(url string, connect func(ctx context.Context) error) Check {
	return Check{
		Name: "broker",
		Hint: fmt.Sprintf("Ensure the MQTT broker is running at %s (MQTT_URL).", url),
		Run: func(ctx context.Context) error {
			if err := connect(ctx); err != nil {
				return fmt.Errorf("broker is not reachable: %w", err)
			}
			return nil
		},
	}
}
