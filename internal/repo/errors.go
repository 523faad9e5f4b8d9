package repo

import "errors"

// Общие ошибки хранилищ jobs.
var (
	// ErrNotFound — job не найден.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — job с таким ID уже существует.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState — переход недопустим из текущего статуса
	// (в том числе любые обновления финального job).
	ErrInvalidState = errors.New("invalid state")

	// ErrNotOwner — job захвачен другим воркером.
	ErrNotOwner = errors.New("job claimed by another worker")

	// ErrClaimConflict — все кандидаты захвачены конкурентами между выборкой
	// и условным обновлением. Ожидаемый исход гонки, не ошибка воркера.
	ErrClaimConflict = errors.New("claim conflict")
)
