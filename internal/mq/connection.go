package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cloudonlanapps/cl-server-compute/internal/backoff"
	"github.com/cloudonlanapps/cl-server-compute/internal/telemetry"
)

const heartbeat = 10 * time.Second

// reconnectBackoff — 1s, 2s, 4s ... 30s.
var reconnectBackoff backoff.Strategy = backoff.Exponential{Initial: time.Second, Max: 30 * time.Second}

// ErrNoChannel — канал не открыт или соединение потеряно.
var ErrNoChannel = errors.New("no amqp channel available")

// Connection держит одно AMQP соединение с одним каналом и
// восстанавливает их после разрыва. После каждого восстановления
// в ReconnectNotify приходит сигнал, по которому consumer
// заново подписывается на очередь.
type Connection struct {
	url    string
	name   string
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel

	closeOnce   sync.Once
	closedCh    chan struct{}
	reconnectCh chan struct{}
}

// NewConnection подключается к RabbitMQ по url.
// Первое подключение синхронное: ошибка возвращается вызывающему.
func NewConnection(url string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}

	host, _ := os.Hostname()
	c := &Connection{
		url:         url,
		name:        fmt.Sprintf("cl-server-compute@%s/%d", host, os.Getpid()),
		logger:      logger.With("component", "amqp"),
		closedCh:    make(chan struct{}),
		reconnectCh: make(chan struct{}, 1),
	}

	closed, err := c.dial()
	if err != nil {
		return nil, err
	}

	go c.maintain(closed)
	return c, nil
}

// dial открывает соединение и канал и возвращает уведомление о разрыве.
func (c *Connection) dial() (<-chan *amqp.Error, error) {
	conn, err := amqp.DialConfig(c.url, amqp.Config{
		Heartbeat:  heartbeat,
		Properties: amqp.Table{"connection_name": c.name},
	})
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	c.mu.Lock()
	c.conn, c.channel = conn, ch
	c.mu.Unlock()

	c.logger.Info("connected to RabbitMQ", "connection_name", c.name)
	return conn.NotifyClose(make(chan *amqp.Error, 1)), nil
}

// maintain ждёт разрыва и переподключается до Close.
func (c *Connection) maintain(closed <-chan *amqp.Error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.closedCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case amqpErr := <-closed:
			c.logger.Warn("connection lost", "error", amqpErr)
		}

		c.mu.Lock()
		c.conn, c.channel = nil, nil
		c.mu.Unlock()

		for attempt := 1; ; attempt++ {
			delay := reconnectBackoff.Delay(attempt)
			if err := backoff.Sleep(ctx, delay); err != nil {
				return
			}

			var err error
			closed, err = c.dial()
			if err == nil {
				break
			}
			c.logger.Warn("reconnect failed", "attempt", attempt, "next_delay", reconnectBackoff.Delay(attempt+1), "error", err)
		}

		telemetry.AMQPReconnects.Inc()
		select {
		case c.reconnectCh <- struct{}{}:
		default:
		}
	}
}

// Channel возвращает текущий канал или nil, пока соединения нет.
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// ReconnectNotify сигналит после каждого успешного переподключения.
func (c *Connection) ReconnectNotify() <-chan struct{} {
	return c.reconnectCh
}

// IsConnected сообщает, открыто ли соединение сейчас.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// WithChannel вызывает fn с текущим каналом.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ch := c.Channel()
	if ch == nil {
		return ErrNoChannel
	}
	return fn(ch)
}

// Close останавливает переподключение и закрывает канал и соединение.
// Повторные вызовы ничего не делают.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closedCh)

		c.mu.Lock()
		defer c.mu.Unlock()

		if c.channel != nil {
			err = errors.Join(err, c.channel.Close())
		}
		if c.conn != nil {
			err = errors.Join(err, c.conn.Close())
		}
		c.conn, c.channel = nil, nil

		c.logger.Info("connection closed")
	})
	return err
}
