// Package api содержит HTTP API compute-сервера.
//
// Структура:
//   - handler.go            — Handler с DI (кэш возможностей, хранилище jobs, logger)
//   - routes.go             — регистрация маршрутов
//   - middleware.go         — middleware (logging, recovery)
//   - response.go           — унифицированные JSON-ответы и обработка ошибок
//   - dto.go                — Data Transfer Objects
//   - capability_handler.go — обработчики для /capabilities и /workers
//   - job_handler.go        — обработчики для /jobs
//
// API только читает состояние: jobs создаются и обновляются вне сервера.
package api
