// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Используется для событий жизненного цикла jobs: воркер публикует,
// сервер потребляет и ведёт счётчики. Доставка best effort: источник
// истины о статусе job — хранилище, события только дублируют переходы.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - job.claimed    — воркер захватил job
//   - job.running    — выполнение началось
//   - job.succeeded  — job завершён успешно
//   - job.failed     — job завершён с ошибкой
//
// Exchanges:
//   - compute.jobs   — события jobs (topic)
//   - compute.dlq    — dead letter queue
package mq
