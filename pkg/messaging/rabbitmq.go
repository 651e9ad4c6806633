// Package messaging wraps the brokers this service talks to: RabbitMQ for the
// delivery-task queue and Kafka for the outcome event stream.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitConfig holds connection settings for the RabbitMQ client.
type RabbitConfig struct {
	URL               string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	HeartbeatTimeout  time.Duration
}

// DefaultRabbitConfig returns production defaults.
func DefaultRabbitConfig(url string) RabbitConfig {
	return RabbitConfig{
		URL:               url,
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: time.Minute,
		HeartbeatTimeout:  10 * time.Second,
	}
}

// RabbitMQClient manages a connection and channel with automatic reconnect.
// Callers needing breaker protection around Publish wrap it in a resilience
// executor; the client itself only handles connectivity.
type RabbitMQClient struct {
	config RabbitConfig
	logger *slog.Logger

	mu              sync.RWMutex
	conn            *amqp.Connection
	ch              *amqp.Channel
	notifyConnClose chan *amqp.Error
	isReconnecting  bool
	isClosed        bool
}

func NewRabbitMQClient(config RabbitConfig, logger *slog.Logger) (*RabbitMQClient, error) {
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = time.Second
	}
	if config.MaxReconnectDelay == 0 {
		config.MaxReconnectDelay = time.Minute
	}
	if config.HeartbeatTimeout == 0 {
		config.HeartbeatTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := &RabbitMQClient{config: config, logger: logger}
	if err := client.connect(); err != nil {
		return nil, err
	}
	go client.handleReconnect()
	return client, nil
}

func (r *RabbitMQClient) connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Info("connecting to rabbitmq", "url", maskURL(r.config.URL))

	conn, err := amqp.DialConfig(r.config.URL, amqp.Config{
		Heartbeat: r.config.HeartbeatTimeout,
	})
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	r.conn = conn
	r.ch = ch
	r.notifyConnClose = make(chan *amqp.Error)
	r.conn.NotifyClose(r.notifyConnClose)
	r.isReconnecting = false
	return nil
}

func (r *RabbitMQClient) handleReconnect() {
	r.mu.RLock()
	if r.isClosed {
		r.mu.RUnlock()
		return
	}
	notifyClose := r.notifyConnClose
	r.mu.RUnlock()

	err := <-notifyClose
	if err != nil {
		r.logger.Warn("rabbitmq connection closed, reconnecting", "error", err)
		r.reconnect()
	}
}

func (r *RabbitMQClient) reconnect() {
	r.mu.Lock()
	r.isReconnecting = true
	r.mu.Unlock()

	delay := r.config.ReconnectDelay
	for {
		r.mu.RLock()
		if r.isClosed {
			r.mu.RUnlock()
			return
		}
		r.mu.RUnlock()

		if err := r.connect(); err == nil {
			r.logger.Info("rabbitmq reconnected")
			go r.handleReconnect()
			return
		}

		r.logger.Warn("reconnect failed, backing off", "delay", delay)
		time.Sleep(delay)
		delay *= 2
		if delay > r.config.MaxReconnectDelay {
			delay = r.config.MaxReconnectDelay
		}
	}
}

// DeclareQueueWithDLQ declares a durable queue whose rejected messages route
// to <name>.dlq.
func (r *RabbitMQClient) DeclareQueueWithDLQ(name string) (amqp.Queue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.ch == nil {
		return amqp.Queue{}, fmt.Errorf("channel is not initialized")
	}

	dlqName := name + ".dlq"
	if _, err := r.ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return amqp.Queue{}, fmt.Errorf("declare dlq: %w", err)
	}

	return r.ch.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlqName,
	})
}

// Publish sends body to the named queue.
func (r *RabbitMQClient) Publish(ctx context.Context, queueName string, body []byte) error {
	r.mu.RLock()
	if r.isReconnecting || r.ch == nil {
		r.mu.RUnlock()
		return fmt.Errorf("connection is not available")
	}
	ch := r.ch
	r.mu.RUnlock()

	return ch.PublishWithContext(ctx,
		"", queueName, false, false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
}

// Consume delivers queue messages to handler until ctx is cancelled. A
// handler error nacks the message without requeue, routing it to the queue's
// DLQ; nil acks it. Handlers that want another attempt republish the message
// themselves, since a broker redelivery would carry the same immutable body
// forever.
func (r *RabbitMQClient) Consume(ctx context.Context, queueName string, handler func(ctx context.Context, body []byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		r.mu.RLock()
		if r.isReconnecting || r.ch == nil {
			r.mu.RUnlock()
			time.Sleep(time.Second)
			continue
		}
		ch := r.ch
		r.mu.RUnlock()

		msgs, err := ch.Consume(queueName, "", false, false, false, false, nil)
		if err != nil {
			r.logger.Warn("consumer registration failed", "queue", queueName, "error", err)
			time.Sleep(2 * time.Second)
			continue
		}

	deliveries:
		for {
			select {
			case <-ctx.Done():
				return nil
			case d, ok := <-msgs:
				if !ok {
					// Channel closed, likely connection lost.
					r.logger.Warn("consumer channel closed, waiting for reconnection", "queue", queueName)
					time.Sleep(r.config.ReconnectDelay)
					break deliveries
				}
				if err := handler(ctx, d.Body); err != nil {
					r.logger.Warn("message handling failed, dead-lettering", "queue", queueName, "error", err)
					d.Nack(false, false)
				} else {
					d.Ack(false)
				}
			}
		}
	}
}

func (r *RabbitMQClient) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.isClosed = true
	if r.ch != nil {
		r.ch.Close()
	}
	if r.conn != nil {
		r.conn.Close()
	}
}

func (r *RabbitMQClient) IsHealthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn != nil && !r.conn.IsClosed() && !r.isReconnecting
}

// QueuePublisher binds a client to one queue so callers that only ever
// publish to a single destination don't carry the queue name around.
type QueuePublisher struct {
	client *RabbitMQClient
	queue  string
}

func NewQueuePublisher(client *RabbitMQClient, queue string) *QueuePublisher {
	return &QueuePublisher{client: client, queue: queue}
}

func (p *QueuePublisher) Publish(ctx context.Context, body []byte) error {
	return p.client.Publish(ctx, p.queue, body)
}

func maskURL(url string) string {
	if parts := strings.Split(url, "@"); len(parts) > 1 {
		prefixParts := strings.Split(parts[0], "://")
		if len(prefixParts) == 2 {
			return prefixParts[0] + "://***:***@" + parts[1]
		}
	}
	return url
}
