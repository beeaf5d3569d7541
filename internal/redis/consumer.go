package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/koios/openmatrix/pkg/models"
)

// Stream is the part of Client the consumer needs
type Stream interface {
	ReadCommands(ctx context.Context, count int64, block time.Duration) ([]redis.XMessage, error)
	AcknowledgeMessage(ctx context.Context, messageID string) error
	PublishResult(ctx context.Context, result *models.CommandResult) error
	IsHealthy(ctx context.Context) bool
}

// CommandHandler executes a decoded command
type CommandHandler interface {
	Handle(ctx context.Context, cmd *models.Command) (*models.CommandResult, error)
}

// Consumer reads remote commands from the device's Redis stream
type Consumer struct {
	stream     Stream
	handler    CommandHandler
	logger     *zap.Logger
	block      time.Duration
	retryDelay time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewConsumer creates a new Redis consumer
func NewConsumer(stream Stream, handler CommandHandler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		stream:     stream,
		handler:    handler,
		logger:     logger,
		block:      5 * time.Second,
		retryDelay: 5 * time.Second,
	}
}

// Start consumes commands until ctx is cancelled or Stop is called
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	c.logger.Info("Starting Redis consumer for commands")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Redis consumer stopped")
			return nil
		default:
		}

		if err := c.consumeMessages(ctx); err != nil {
			c.logger.Error("Error consuming messages, will retry",
				zap.Error(err),
				zap.Duration("retry_delay", c.retryDelay))
			select {
			case <-ctx.Done():
			case <-time.After(c.retryDelay):
			}
		}
	}
}

// Stop stops the consumer
func (c *Consumer) Stop() {
	c.logger.Info("Stopping Redis consumer")
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// consumeMessages reads batches from the stream until an unhealthy
// connection or ctx ends it
func (c *Consumer) consumeMessages(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		messages, err := c.stream.ReadCommands(ctx, 10, c.block)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !c.stream.IsHealthy(ctx) {
				return fmt.Errorf("redis connection unhealthy: %w", err)
			}
			c.logger.Error("Error reading from stream", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, message := range messages {
			c.handleStreamMessage(ctx, message)
		}
	}
}

// handleStreamMessage processes a single Redis Stream message
func (c *Consumer) handleStreamMessage(ctx context.Context, msg redis.XMessage) {
	c.logger.Debug("Received command from stream",
		zap.String("message_id", msg.ID),
		zap.Int("fields_count", len(msg.Values)))

	payload, ok := msg.Values["payload"].(string)
	if !ok {
		c.logger.Error("Failed to extract payload from stream message",
			zap.String("message_id", msg.ID))
		// Acknowledge the message anyway to prevent reprocessing
		_ = c.stream.AcknowledgeMessage(ctx, msg.ID)
		return
	}

	var cmd models.Command
	if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
		c.logger.Error("Failed to unmarshal command",
			zap.Error(err),
			zap.String("message_id", msg.ID),
			zap.String("payload", payload))
		_ = c.stream.AcknowledgeMessage(ctx, msg.ID)
		return
	}
	if cmd.UUID == "" {
		cmd.UUID = msg.ID
	}

	// The handler fills in the error on failure
	result, err := c.handler.Handle(ctx, &cmd)
	if err != nil {
		c.logger.Warn("Command failed",
			zap.Error(err),
			zap.String("message_id", msg.ID),
			zap.String("action", cmd.Action))
	}

	if result != nil {
		if err := c.stream.PublishResult(ctx, result); err != nil {
			c.logger.Error("Failed to publish command result",
				zap.Error(err),
				zap.String("message_id", msg.ID),
				zap.String("action", cmd.Action))
			// Don't acknowledge if we failed to publish - allow retry
			return
		}
	}

	if err := c.stream.AcknowledgeMessage(ctx, msg.ID); err != nil {
		c.logger.Error("Failed to acknowledge message",
			zap.Error(err),
			zap.String("message_id", msg.ID))
	} else {
		c.logger.Debug("Message processed and acknowledged",
			zap.String("message_id", msg.ID),
			zap.String("action", cmd.Action))
	}
}
