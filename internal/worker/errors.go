package worker

import (
	"errors"
	"fmt"

	"github.com/cloudonlanapps/cl-server-compute/internal/domain"
)

// Ошибки воркера.
var (
	// ErrUnknownTaskType — нет executor'а для типа задачи.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrStoreWrite — запись в хранилище не удалась после всех попыток.
	ErrStoreWrite = errors.New("job store write failed")

	// ErrNoExecutors — в реестре нет ни одного executor'а.
	ErrNoExecutors = errors.New("no compute executors registered")

	// ErrNoMatchingTasks — ни один из запрошенных типов задач не зарегистрирован.
	ErrNoMatchingTasks = errors.New("no matching executors")

	// ErrNoTasksSpecified — не задано ни одного типа задачи.
	ErrNoTasksSpecified = errors.New("no task types specified")

	// ErrForcedShutdown — процесс завершён вторым сигналом, очистка не выполнялась.
	ErrForcedShutdown = errors.New("forced shutdown")

	// ErrHTTPRequest — HTTP-запрос завершился ошибкой.
	ErrHTTPRequest = errors.New("http request failed")
)

// Коды ошибок, записываемые в job.
const (
	CodeTaskError        = "task_error"
	CodePanic            = "panic"
	CodeUnknownTaskType  = "unknown_task_type"
	CodeStoreWriteFailed = "store_write_failed"
	CodeInvalidParams    = "invalid_params"
	CodeHTTPStatus       = "http_status"
)

// TaskExecutionError — ошибка выполнения задачи executor'ом.
//
// Записывается в job как структурированная ошибка и никогда не
// прерывает цикл воркера.
type TaskExecutionError struct {
	Code    string
	Message string
	Details map[string]any
	Err     error
}

// NewTaskError создаёт TaskExecutionError с кодом и сообщением.
func NewTaskError(code, format string, args ...any) *TaskExecutionError {
	return &TaskExecutionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *TaskExecutionError) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *TaskExecutionError) Unwrap() error {
	return e.Err
}

// JobError преобразует ошибку в формат хранилища.
func (e *TaskExecutionError) JobError() *domain.JobError {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return &domain.JobError{Code: e.Code, Message: msg, Details: e.Details}
}

// asTaskError приводит произвольную ошибку executor'а к TaskExecutionError.
func asTaskError(err error) *TaskExecutionError {
	var te *TaskExecutionError
	if errors.As(err, &te) {
		return te
	}
	return &TaskExecutionError{Code: CodeTaskError, Message: err.Error(), Err: err}
}
