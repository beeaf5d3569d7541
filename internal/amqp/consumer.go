package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/koios/openmatrix/pkg/models"
)

// CommandHandler defines the interface for handling commands
type CommandHandler interface {
	Handle(ctx context.Context, cmd *models.Command) (*models.CommandResult, error)
}

// source is the part of Connection the consumer uses
type source interface {
	EnsureConnection() error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	PublishResult(ctx context.Context, result *models.CommandResult) error
	forceClose()
}

// Consumer handles consuming commands from AMQP
type Consumer struct {
	conn          source
	handler       CommandHandler
	logger        *zap.Logger
	retryDelay    time.Duration
	maxRetryDelay time.Duration
}

// NewConsumer creates a new consumer
func NewConsumer(conn *Connection, handler CommandHandler, logger *zap.Logger) *Consumer {
	return newConsumer(conn, handler, logger)
}

func newConsumer(conn source, handler CommandHandler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		conn:          conn,
		handler:       handler,
		logger:        logger,
		retryDelay:    time.Second,
		maxRetryDelay: 30 * time.Second,
	}
}

// Start consumes commands until ctx is cancelled, reconnecting with
// exponential backoff
func (c *Consumer) Start(ctx context.Context) error {
	retryDelay := c.retryDelay
	retryCount := 0

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("AMQP consumer stopped")
			return nil
		default:
		}

		err := c.startConsuming(ctx)
		if err == nil || ctx.Err() != nil {
			// Reset retry delay after a clean session
			retryDelay = c.retryDelay
			retryCount = 0
			continue
		}

		retryCount++
		c.logger.Error("Consumer failed, will retry after delay",
			zap.Error(err),
			zap.Int("retry_count", retryCount),
			zap.Duration("retry_delay", retryDelay))

		select {
		case <-ctx.Done():
		case <-time.After(retryDelay):
			retryDelay = time.Duration(float64(retryDelay) * 1.5)
			if retryDelay > c.maxRetryDelay {
				retryDelay = c.maxRetryDelay
			}
		}
	}
}

// startConsuming handles a single consumption session. Commands are handled
// in delivery order.
func (c *Consumer) startConsuming(ctx context.Context) error {
	if err := c.conn.EnsureConnection(); err != nil {
		return fmt.Errorf("failed to ensure connection: %w", err)
	}

	hostname, _ := os.Hostname()
	consumerTag := fmt.Sprintf("openmatrix-%s-%d", hostname, time.Now().Unix())

	msgs, err := c.conn.Consume(consumerTag)
	if err != nil {
		// Force a reconnection on the next attempt
		c.conn.forceClose()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Started consuming commands", zap.String("consumer_tag", consumerTag))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("Message channel closed, will reconnect")
				return errors.New("message channel closed")
			}
			c.handleMessage(ctx, msg)
		}
	}
}

// handleMessage processes a single delivery
func (c *Consumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	c.logger.Debug("Received command",
		zap.String("routing_key", msg.RoutingKey),
		zap.String("correlation_id", msg.CorrelationId))

	var cmd models.Command
	if err := json.Unmarshal(msg.Body, &cmd); err != nil {
		c.logger.Error("Failed to unmarshal command",
			zap.Error(err),
			zap.String("correlation_id", msg.CorrelationId))
		c.nack(msg, false, msg.CorrelationId)
		return
	}
	if cmd.UUID == "" {
		cmd.UUID = msg.CorrelationId
	}
	if cmd.UUID == "" {
		cmd.UUID = uuid.NewString()
	}
	if cmd.Type == "" {
		cmd.Type = "command"
	}

	result, err := c.handler.Handle(ctx, &cmd)
	if err != nil {
		c.logger.Warn("Command failed",
			zap.Error(err),
			zap.String("uuid", cmd.UUID),
			zap.String("action", cmd.Action))
	}
	if result == nil {
		c.ack(msg, cmd.UUID)
		return
	}

	if publishErr := c.conn.PublishResult(ctx, result); publishErr != nil {
		c.logger.Error("Failed to publish result",
			zap.Error(publishErr),
			zap.String("uuid", cmd.UUID))

		// Failed commands are acked anyway to avoid retrying them forever
		if err == nil {
			c.nack(msg, true, cmd.UUID)
		} else {
			c.ack(msg, cmd.UUID)
		}
		return
	}

	c.ack(msg, cmd.UUID)
}

func (c *Consumer) ack(msg amqp.Delivery, id string) {
	if ackErr := msg.Ack(false); ackErr != nil {
		c.logger.Error("Failed to acknowledge message",
			zap.Error(ackErr),
			zap.String("uuid", id))
	}
}

func (c *Consumer) nack(msg amqp.Delivery, requeue bool, id string) {
	if nackErr := msg.Nack(false, requeue); nackErr != nil {
		c.logger.Error("Failed to reject message",
			zap.Error(nackErr),
			zap.Bool("requeue", requeue),
			zap.String("uuid", id))
	}
}
