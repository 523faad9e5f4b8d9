package pubsub

import (
	"context"
	"errors"
	"strings"
)

// ErrTransient — временная ошибка транспорта (нет соединения, таймаут publish).
// Транспорт переподключается сам, вызывающий код только логирует.
var ErrTransient = errors.New("transient transport error")

// ErrNotConnected — операция до Connect или после Close.
var ErrNotConnected = errors.New("transport not connected")

// Message — доставленное сообщение.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Handler обрабатывает входящее сообщение.
// Вызывается из горутины транспорта и не должен блокироваться.
type Handler func(msg Message)

// Will — last will сообщение, регистрируемое при подключении.
type Will struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Transport — соединение с pub/sub брокером.
type Transport interface {
	// Connect устанавливает соединение. will может быть nil.
	Connect(ctx context.Context, will *Will) error

	// Publish публикует сообщение.
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error

	// Subscribe подписывается на топики по шаблону (поддерживаются + и #).
	Subscribe(ctx context.Context, pattern string, h Handler) error

	// Close чисто закрывает соединение. Last will не публикуется.
	Close() error
}

// Match проверяет соответствие топика шаблону подписки MQTT.
//
//	Match("inference/workers/+", "inference/workers/w1") == true
//	Match("inference/#", "inference/workers/w1")        == true
func Match(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")

	for i, level := range p {
		if level == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(p) == len(t)
}

// LastLevel возвращает последний уровень топика ("a/b/w1" → "w1").
func LastLevel(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
