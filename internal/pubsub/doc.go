// Package pubsub — транспорт publish/subscribe для capability broadcast.
//
// Структура:
//   - transport.go — интерфейс Transport, Message, Will, сопоставление топиков
//   - mqtt.go      — реализация поверх MQTT (retained messages, last will)
//   - memory.go    — in-process брокер с той же семантикой (тесты, локальный режим)
//
// Семантика, на которую опираются воркер и сервер:
//   - retained-сообщение сразу доставляется новым подписчикам
//   - retained-сообщение с пустым payload удаляет сохранённое
//   - last will публикуется брокером только при нечистом разрыве;
//     Close() отключается чисто, и will не публикуется
package pubsub
