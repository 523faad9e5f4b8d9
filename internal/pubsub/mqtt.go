package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// qosAtLeastOnce — QoS для всех publish и подписок.
const qosAtLeastOnce byte = 1

// MQTTConfig — конфигурация MQTT транспорта.
type MQTTConfig struct {
	// BrokerURL — адрес брокера, например tcp://localhost:1883.
	BrokerURL string

	// ClientID — идентификатор клиента (уникален для брокера).
	ClientID string

	// ConnectTimeout — таймаут первого подключения и ожидания publish (default: 10s).
	ConnectTimeout time.Duration

	// MaxReconnectInterval — потолок backoff при переподключении (default: 30s).
	MaxReconnectInterval time.Duration

	Logger *slog.Logger
}

// MQTTTransport — Transport поверх MQTT.
//
// Особенности:
//   - Автоматическое переподключение с экспоненциальной задержкой (внутри paho)
//   - Повторная подписка после переподключения (clean session)
//   - Last will регистрируется при Connect
type MQTTTransport struct {
	cfg    MQTTConfig
	logger *slog.Logger

	mu     sync.RWMutex
	client mqtt.Client
	subs   map[string]Handler
}

// NewMQTTTransport создаёт транспорт. Соединение устанавливается в Connect.
func NewMQTTTransport(cfg MQTTConfig) *MQTTTransport {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.MaxReconnectInterval <= 0 {
		cfg.MaxReconnectInterval = 30 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &MQTTTransport{
		cfg:    cfg,
		logger: logger.With("broker", cfg.BrokerURL, "client_id", cfg.ClientID),
		subs:   make(map[string]Handler),
	}
}

// Connect подключается к брокеру и регистрирует last will.
func (t *MQTTTransport) Connect(ctx context.Context, will *Will) error {
	opts := mqtt.NewClientOptions().
		AddBroker(t.cfg.BrokerURL).
		SetClientID(t.cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectTimeout(t.cfg.ConnectTimeout).
		SetMaxReconnectInterval(t.cfg.MaxReconnectInterval).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			t.logger.Warn("mqtt connection lost", "error", err)
		}).
		SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
			t.logger.Info("attempting to reconnect to mqtt broker")
		})

	if will != nil {
		opts.SetBinaryWill(will.Topic, will.Payload, qosAtLeastOnce, will.Retained)
	}

	client := mqtt.NewClient(opts)
	if err := t.wait(ctx, client.Connect()); err != nil {
		return fmt.Errorf("connect mqtt %s: %w", t.cfg.BrokerURL, err)
	}

	t.mu.Lock()
	t.client = client
	t.mu.Unlock()

	t.logger.Info("connected to mqtt broker")
	return nil
}

// onConnect восстанавливает подписки после (пере)подключения.
func (t *MQTTTransport) onConnect(c mqtt.Client) {
	t.mu.RLock()
	subs := make(map[string]Handler, len(t.subs))
	for pattern, h := range t.subs {
		subs[pattern] = h
	}
	t.mu.RUnlock()

	for pattern, h := range subs {
		tok := c.Subscribe(pattern, qosAtLeastOnce, wrapHandler(h))
		if !tok.WaitTimeout(t.cfg.ConnectTimeout) || tok.Error() != nil {
			t.logger.Warn("failed to restore subscription", "pattern", pattern, "error", tok.Error())
			continue
		}
		t.logger.Debug("subscription restored", "pattern", pattern)
	}
}

// Publish публикует сообщение с QoS 1.
func (t *MQTTTransport) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	client, err := t.connected()
	if err != nil {
		return err
	}

	if err := t.wait(ctx, client.Publish(topic, qosAtLeastOnce, retained, payload)); err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrTransient, topic, err)
	}
	return nil
}

// Subscribe подписывается на шаблон и запоминает его для переподключений.
func (t *MQTTTransport) Subscribe(ctx context.Context, pattern string, h Handler) error {
	client, err := t.connected()
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.subs[pattern] = h
	t.mu.Unlock()

	if err := t.wait(ctx, client.Subscribe(pattern, qosAtLeastOnce, wrapHandler(h))); err != nil {
		return fmt.Errorf("%w: subscribe %s: %v", ErrTransient, pattern, err)
	}
	return nil
}

// Close чисто отключается от брокера. Брокер отбрасывает last will.
func (t *MQTTTransport) Close() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()

	if client == nil {
		return nil
	}

	// 250ms на отправку незавершённых сообщений
	client.Disconnect(250)
	t.logger.Info("mqtt connection closed")
	return nil
}

// IsConnected проверяет, установлено ли соединение.
func (t *MQTTTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.client != nil && t.client.IsConnected()
}

func (t *MQTTTransport) connected() (mqtt.Client, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.client == nil {
		return nil, ErrNotConnected
	}
	return t.client, nil
}

// wait ждёт завершения token с учётом context и ConnectTimeout.
func (t *MQTTTransport) wait(ctx context.Context, tok mqtt.Token) error {
	timer := time.NewTimer(t.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-timer.C:
		return fmt.Errorf("timeout after %s", t.cfg.ConnectTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func wrapHandler(h Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		h(Message{
			Topic:    m.Topic(),
			Payload:  m.Payload(),
			Retained: m.Retained(),
		})
	}
}
