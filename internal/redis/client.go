package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/koios/openmatrix/internal/config"
	"github.com/koios/openmatrix/internal/mirror"
	"github.com/koios/openmatrix/pkg/models"
)

// Client wraps the Redis client for one device's state fan-out and command
// stream
type Client struct {
	client *redis.Client
	config config.RedisConfig
	device string
	logger *zap.Logger
}

// NewClient creates a new Redis client for device
func NewClient(cfg config.RedisConfig, device string, logger *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Test the connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c := NewClientFromRedis(rdb, cfg, device, logger)

	logger.Info("Connected to Redis",
		zap.String("addr", cfg.Addr),
		zap.String("device", c.device),
		zap.String("consumer_group", c.config.ConsumerGroup),
		zap.String("consumer_name", c.config.ConsumerName))

	return c, nil
}

// NewClientFromRedis wraps an existing connection
func NewClientFromRedis(rdb *redis.Client, cfg config.RedisConfig, device string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if device == "" {
		device = "openmatrix"
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "openmatrix-bridge"
	}
	// Generate consumer name if not provided
	if cfg.ConsumerName == "" {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "unknown"
		}
		cfg.ConsumerName = fmt.Sprintf("%s-%d", hostname, time.Now().UnixNano())
	}
	return &Client{client: rdb, config: cfg, device: device, logger: logger}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) key(suffix string) string {
	return "openmatrix:" + strings.ToLower(c.device) + ":" + suffix
}

// StateChannel is the pub/sub channel snapshots are published to
func (c *Client) StateChannel() string { return c.key("state") }

// LastStateKey holds the most recent snapshot
func (c *Client) LastStateKey() string { return c.key("last_state") }

// CommandStream is the stream remote commands are read from
func (c *Client) CommandStream() string { return c.key("commands") }

// ResultChannel is the pub/sub channel command results are published to
func (c *Client) ResultChannel() string { return c.key("results") }

// PublishState stores snap as the last state and publishes it
func (c *Client) PublishState(ctx context.Context, snap mirror.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.LastStateKey(), body, 0)
		pipe.Publish(ctx, c.StateChannel(), body)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish state to %s: %w", c.StateChannel(), err)
	}

	c.logger.Debug("Published state",
		zap.String("channel", c.StateChannel()),
		zap.Int("bytes", len(body)))
	return nil
}

// LastState returns the stored snapshot, or nil when none was published
func (c *Client) LastState(ctx context.Context) (*mirror.Snapshot, error) {
	body, err := c.client.Get(ctx, c.LastStateKey()).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last state: %w", err)
	}

	var snap mirror.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode last state: %w", err)
	}
	return &snap, nil
}

// RunStatePublisher publishes every mirror change until ctx is cancelled
func (c *Client) RunStatePublisher(ctx context.Context, m *mirror.Mirror) {
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

// PublishResult publishes a command result to the device's result channel
func (c *Client) PublishResult(ctx context.Context, result *models.CommandResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal command result: %w", err)
	}

	if err := c.client.Publish(ctx, c.ResultChannel(), body).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis channel %s: %w", c.ResultChannel(), err)
	}

	c.logger.Debug("Published command result",
		zap.String("channel", c.ResultChannel()),
		zap.String("action", result.Action),
		zap.String("uuid", result.UUID))
	return nil
}

// EnqueueCommand adds cmd to the command stream and returns its message id
func (c *Client) EnqueueCommand(ctx context.Context, cmd *models.Command) (string, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("failed to marshal command: %w", err)
	}
	id, err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.CommandStream(),
		Values: map[string]interface{}{"payload": string(body)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to add command to %s: %w", c.CommandStream(), err)
	}
	return id, nil
}

// InitializeConsumerGroup creates the consumer group for the command stream
func (c *Client) InitializeConsumerGroup(ctx context.Context) error {
	// "$" skips commands queued while no bridge was running
	err := c.client.XGroupCreateMkStream(ctx, c.CommandStream(), c.config.ConsumerGroup, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Consumer group initialized",
		zap.String("stream", c.CommandStream()),
		zap.String("group", c.config.ConsumerGroup))
	return nil
}

// ReadCommands reads new messages from the command stream using the
// consumer group
func (c *Client) ReadCommands(ctx context.Context, count int64, block time.Duration) ([]redis.XMessage, error) {
	// ">" means only new messages not yet delivered to other consumers
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.config.ConsumerGroup,
		Consumer: c.config.ConsumerName,
		Streams:  []string{c.CommandStream(), ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var messages []redis.XMessage
	for _, stream := range streams {
		messages = append(messages, stream.Messages...)
	}
	return messages, nil
}

// AcknowledgeMessage acknowledges a message from the command stream
func (c *Client) AcknowledgeMessage(ctx context.Context, messageID string) error {
	err := c.client.XAck(ctx, c.CommandStream(), c.config.ConsumerGroup, messageID).Err()
	if err != nil {
		return fmt.Errorf("failed to acknowledge message %s: %w", messageID, err)
	}
	return nil
}

// IsHealthy checks if Redis connection is healthy
func (c *Client) IsHealthy(ctx context.Context) bool {
	return c.client.Ping(ctx).Err() == nil
}
