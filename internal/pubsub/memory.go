package pubsub

import (
	"context"
	"slices"
	"sync"
)

// Broker — in-process брокер с семантикой retained и last will.
//
// Тестовая замена MQTT-брокера для capability и worker. Доставка синхронная:
// handler вызывается в горутине того, кто публикует.
type Broker struct {
	mu       sync.Mutex
	retained map[string][]byte
	subs     []*memorySub
}

type memorySub struct {
	owner   *MemoryTransport
	pattern string
	handler Handler
}

// NewBroker создаёт пустой брокер.
func NewBroker() *Broker {
	return &Broker{retained: make(map[string][]byte)}
}

// Client создаёт транспорт, подключаемый к брокеру.
func (b *Broker) Client() *MemoryTransport {
	return &MemoryTransport{broker: b}
}

// Retained возвращает сохранённое сообщение топика.
func (b *Broker) Retained(topic string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.retained[topic]
	return p, ok
}

func (b *Broker) publish(topic string, payload []byte, retained bool) {
	b.mu.Lock()
	if retained {
		if len(payload) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = slices.Clone(payload)
		}
	}

	var targets []Handler
	for _, s := range b.subs {
		if Match(s.pattern, topic) {
			targets = append(targets, s.handler)
		}
	}
	b.mu.Unlock()

	msg := Message{Topic: topic, Payload: slices.Clone(payload), Retained: retained}
	for _, h := range targets {
		h(msg)
	}
}

func (b *Broker) subscribe(s *memorySub) {
	b.mu.Lock()
	b.subs = append(b.subs, s)

	var replay []Message
	for topic, payload := range b.retained {
		if Match(s.pattern, topic) {
			replay = append(replay, Message{Topic: topic, Payload: slices.Clone(payload), Retained: true})
		}
	}
	b.mu.Unlock()

	for _, m := range replay {
		s.handler(m)
	}
}

func (b *Broker) detach(t *MemoryTransport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(s *memorySub) bool { return s.owner == t })
}

// MemoryTransport — Transport поверх Broker.
type MemoryTransport struct {
	broker *Broker

	mu        sync.Mutex
	connected bool
	will      *Will
}

// Connect регистрирует клиента и его last will.
func (t *MemoryTransport) Connect(_ context.Context, will *Will) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	t.will = will
	return nil
}

// Publish публикует сообщение через брокер.
func (t *MemoryTransport) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !t.isConnected() {
		return ErrNotConnected
	}
	t.broker.publish(topic, payload, retained)
	return nil
}

// Subscribe подписывается на шаблон; сохранённые сообщения доставляются сразу.
func (t *MemoryTransport) Subscribe(_ context.Context, pattern string, h Handler) error {
	if !t.isConnected() {
		return ErrNotConnected
	}
	t.broker.subscribe(&memorySub{owner: t, pattern: pattern, handler: h})
	return nil
}

// Close чисто отключается: will отбрасывается.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	t.connected = false
	t.will = nil
	t.mu.Unlock()

	t.broker.detach(t)
	return nil
}

// Drop имитирует нечистый разрыв: брокер публикует will от имени клиента.
func (t *MemoryTransport) Drop() {
	t.mu.Lock()
	will := t.will
	t.connected = false
	t.will = nil
	t.mu.Unlock()

	t.broker.detach(t)
	if will != nil {
		t.broker.publish(will.Topic, will.Payload, will.Retained)
	}
}

func (t *MemoryTransport) isConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}
