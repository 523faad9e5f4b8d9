// Package telemetry — логирование и метрики compute-worker и compute-server.
//
// SetupLogger настраивает глобальный slog (JSON или text), длительности
// пишутся в миллисекундах с суффиксом _ms. Метрики объявлены на уровне
// пакета через promauto и отдаются на /metrics обоих процессов:
// compute_worker_* у воркера, compute_server_* у сервера.
package telemetry
