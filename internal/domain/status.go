package domain

// JobStatus — статус выполнения job.
//
// Жизненный цикл:
//
//	pending → claimed → running → succeeded
//	                            ↘ failed
//
// Переход из pending выполняется только через атомарный claim в хранилище.
// Все остальные переходы делает воркер, владеющий claim.
type JobStatus string

const (
	// JobStatusPending — job создан и ожидает воркера.
	JobStatusPending JobStatus = "pending"

	// JobStatusClaimed — job захвачен воркером, выполнение ещё не началось.
	JobStatusClaimed JobStatus = "claimed"

	// JobStatusRunning — job выполняется воркером.
	JobStatusRunning JobStatus = "running"

	// JobStatusSucceeded — job успешно завершён.
	JobStatusSucceeded JobStatus = "succeeded"

	// JobStatusFailed — job завершился с ошибкой.
	JobStatusFailed JobStatus = "failed"
)

// IsTerminal возвращает true, если статус финальный.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что статус известен.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusClaimed, JobStatusRunning, JobStatusSucceeded, JobStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo проверяет допустимость перехода, выполняемого владельцем claim.
//
// running → running разрешён: так записываются progress-обновления.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusClaimed:
		return next == JobStatusRunning || next == JobStatusFailed
	case JobStatusRunning:
		return next == JobStatusRunning || next == JobStatusSucceeded || next == JobStatusFailed
	default:
		return false
	}
}

// String возвращает строковое представление JobStatus.
func (s JobStatus) String() string {
	return string(s)
}
