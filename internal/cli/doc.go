// Package cli реализует инструмент командной строки для compute-сервера.
//
// CLI работает через HTTP API и не импортирует внутренние пакеты системы.
// Используется для просмотра живых воркеров, свободных слотов и статуса jobs.
//
// Client — HTTP-клиент API: разбирает DataResponse, ListResponse и
// ErrorResponse. Output печатает таблицу (text/tabwriter) или JSON (--json);
// данные идут в stdout, сообщения в stderr:
//
//	compute-cli workers list --task-type clip_embedding --json | jq .
//
// Команды:
//   - capabilities: свободные слоты по типам задач
//   - workers: list, show
//   - job: show
//
// Фабрики команд (NewWorkersCmd и т.д.) принимают clientFn и outputFn —
// замыкания, создающие Client и Output после разбора PersistentFlags.
package cli
