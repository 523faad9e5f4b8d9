package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ParseLevel переводит DEBUG, INFO, WARN, ERROR (без учёта регистра)
// в slog.Level. Неизвестное значение — INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger создаёт логгер в stdout и делает его глобальным.
// format "text" — для локальной разработки, иначе JSON.
func SetupLogger(level, format string) *slog.Logger {
	return setupLogger(os.Stdout, level, format)
}

func setupLogger(w io.Writer, level, format string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   lvl == slog.LevelDebug,
		ReplaceAttr: durationMillis,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// durationMillis пишет time.Duration как миллисекунды (float),
// а не наносекунды, как делает JSON handler по умолчанию.
func durationMillis(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindDuration {
		return slog.Float64(a.Key+"_ms", float64(a.Value.Duration())/float64(time.Millisecond))
	}
	return a
}

// WithJobID добавляет job_id и task_type.
func WithJobID(logger *slog.Logger, jobID, taskType string) *slog.Logger {
	return logger.With("job_id", jobID, "task_type", taskType)
}

// WithWorkerID добавляет worker_id.
func WithWorkerID(logger *slog.Logger, workerID string) *slog.Logger {
	return logger.With("worker_id", workerID)
}
