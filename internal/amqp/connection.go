package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/koios/openmatrix/internal/config"
	"github.com/koios/openmatrix/internal/mirror"
	"github.com/koios/openmatrix/pkg/models"
)

// Connection wraps the AMQP connection and channel for one device. Routing
// keys on the topic exchange are <device>.command, <device>.state and
// <device>.result.
type Connection struct {
	config config.AMQPConfig
	device string
	logger *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewConnection creates a new AMQP connection and declares the exchange and
// the device's command queue
func NewConnection(cfg config.AMQPConfig, device string, logger *zap.Logger) (*Connection, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "openmatrix"
	}
	c := &Connection{
		config: cfg,
		device: routingName(device),
		logger: logger,
	}
	if err := c.dial(); err != nil {
		return nil, err
	}
	return c, nil
}

// routingName makes a device name safe to use as one routing key word
func routingName(device string) string {
	name := strings.ToLower(strings.TrimSpace(device))
	name = strings.NewReplacer(".", "_", "*", "_", "#", "_", " ", "_").Replace(name)
	if name == "" {
		return "openmatrix"
	}
	return name
}

// CommandQueue is the durable queue commands for the device are read from
func (c *Connection) CommandQueue() string { return fmt.Sprintf("openmatrix.%s.commands", c.device) }

// CommandKey routes commands to the device
func (c *Connection) CommandKey() string { return c.device + ".command" }

// StateKey routes state snapshots
func (c *Connection) StateKey() string { return c.device + ".state" }

// ResultKey routes command results
func (c *Connection) ResultKey() string { return c.device + ".result" }

func (c *Connection) dial() error {
	conn, err := amqp.Dial(c.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	// Set QoS for fair distribution across multiple consumers
	err = ch.Qos(
		c.config.PrefetchCount, // prefetch count
		0,                      // prefetch size (0 = no limit on message size)
		false,                  // global (false = apply to current consumer only)
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		c.config.Exchange, // name
		"topic",           // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Declare command queue
	_, err = ch.QueueDeclare(
		c.CommandQueue(), // name
		true,             // durable
		false,            // delete when unused
		false,            // exclusive
		false,            // no-wait
		nil,              // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	// Bind queue to exchange
	err = ch.QueueBind(
		c.CommandQueue(),  // queue name
		c.CommandKey(),    // routing key
		c.config.Exchange, // exchange
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	c.logger.Info("Connected to AMQP broker",
		zap.String("exchange", c.config.Exchange),
		zap.String("queue", c.CommandQueue()))
	return nil
}

// EnsureConnection reconnects when the connection or channel was closed
func (c *Connection) EnsureConnection() error {
	c.mu.Lock()
	healthy := c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed()
	c.mu.Unlock()
	if healthy {
		return nil
	}

	c.logger.Info("Reconnecting to AMQP broker")
	c.forceClose()
	return c.dial()
}

// Consume registers a consumer on the command queue
func (c *Connection) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return nil, fmt.Errorf("channel not open")
	}

	return ch.Consume(
		c.CommandQueue(), // queue
		consumerTag,      // consumer tag (unique identifier for this consumer)
		false,            // auto-ack (disabled for manual acknowledgment)
		false,            // exclusive (allow multiple consumers)
		false,            // no-local
		false,            // no-wait
		nil,              // args
	)
}

// forceClose drops the current connection so the next EnsureConnection dials
func (c *Connection) forceClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close closes the AMQP connection and channel
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// PublishState publishes a snapshot on the state routing key. State is
// transient; only the latest value matters.
func (c *Connection) PublishState(ctx context.Context, snap mirror.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	return c.publish(ctx, c.StateKey(), body, amqp.Transient)
}

// PublishResult publishes a command result on the result routing key
func (c *Connection) PublishResult(ctx context.Context, result *models.CommandResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := c.publish(ctx, c.ResultKey(), body, amqp.Persistent); err != nil {
		return err
	}

	c.logger.Debug("Published command result",
		zap.String("uuid", result.UUID),
		zap.String("action", result.Action),
		zap.String("routing_key", c.ResultKey()))
	return nil
}

func (c *Connection) publish(ctx context.Context, key string, body []byte, mode uint8) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("failed to publish to %s: channel not open", key)
	}

	err := ch.PublishWithContext(
		ctx,
		c.config.Exchange, // exchange
		key,               // routing key
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: mode,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", key, err)
	}
	return nil
}

// RunStatePublisher publishes every mirror change until ctx is cancelled
func (c *Connection) RunStatePublisher(ctx context.Context, m *mirror.Mirror) {
	updates, unsubscribe := m.Subscribe()
	defer unsubscribe()

	if err := c.PublishState(ctx, m.Snapshot()); err != nil {
		c.logger.Warn("Failed to publish initial state", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := c.PublishState(ctx, snap); err != nil {
				c.logger.Warn("Failed to publish state", zap.Error(err))
			}
		}
	}
}
