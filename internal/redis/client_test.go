package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/koios/openmatrix/internal/config"
	"github.com/koios/openmatrix/internal/mirror"
	"github.com/koios/openmatrix/pkg/models"
)

func TestKeys(t *testing.T) {
	c := NewClientFromRedis(redis.NewClient(&redis.Options{Addr: "localhost:0"}), config.RedisConfig{}, "Desk", zap.NewNop())
	defer c.Close()

	tests := map[string]string{
		c.StateChannel():  "openmatrix:desk:state",
		c.LastStateKey():  "openmatrix:desk:last_state",
		c.CommandStream(): "openmatrix:desk:commands",
		c.ResultChannel(): "openmatrix:desk:results",
	}
	for got, want := range tests {
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
	if c.config.ConsumerGroup != "openmatrix-bridge" {
		t.Errorf("consumer group = %q", c.config.ConsumerGroup)
	}
	if c.config.ConsumerName == "" {
		t.Error("consumer name should be generated")
	}
}

// connect returns a client on a test database or skips
func connect(t *testing.T, device string) *Client {
	t.Helper()

	// This test requires a running Redis instance
	cfg := config.RedisConfig{
		Addr: "localhost:6379",
		DB:   1, // Use a test database
	}
	c, err := NewClient(cfg, device, zap.NewNop())
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		c.client.Del(ctx, c.LastStateKey(), c.CommandStream())
		c.Close()
	})
	return c
}

func TestPublishState(t *testing.T) {
	c := connect(t, "test-publish")
	ctx := context.Background()

	sub := c.client.Subscribe(ctx, c.StateChannel())
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	snap := mirror.Snapshot{
		State:  models.DeviceState{Brightness: models.Int(55)},
		Images: []models.ImageDescriptor{{ID: 1, Name: "cat", Size: 10}},
	}
	if err := c.PublishState(ctx, snap); err != nil {
		t.Fatalf("Failed to publish state: %v", err)
	}

	msgCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(msgCtx)
	if err != nil {
		t.Fatalf("No state message: %v", err)
	}
	var published mirror.Snapshot
	if err := json.Unmarshal([]byte(msg.Payload), &published); err != nil {
		t.Fatalf("Invalid payload: %v", err)
	}
	if *published.State.Brightness != 55 || len(published.Images) != 1 {
		t.Errorf("unexpected snapshot: %+v", published)
	}

	last, err := c.LastState(ctx)
	if err != nil {
		t.Fatalf("Failed to read last state: %v", err)
	}
	if last == nil || *last.State.Brightness != 55 {
		t.Errorf("unexpected last state: %+v", last)
	}
}

func TestLastState_Missing(t *testing.T) {
	c := connect(t, "test-missing")
	last, err := c.LastState(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last != nil {
		t.Errorf("expected no state, got %+v", last)
	}
}

func TestCommandStream(t *testing.T) {
	c := connect(t, "test-stream")
	ctx := context.Background()

	if err := c.InitializeConsumerGroup(ctx); err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}
	// Creating it twice is fine
	if err := c.InitializeConsumerGroup(ctx); err != nil {
		t.Fatalf("Second create failed: %v", err)
	}

	cmd := &models.Command{Type: "command", Action: models.ActionPower, Value: json.RawMessage(`true`)}
	id, err := c.EnqueueCommand(ctx, cmd)
	if err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	messages, err := c.ReadCommands(ctx, 10, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if len(messages) != 1 || messages[0].ID != id {
		t.Fatalf("unexpected messages: %+v", messages)
	}

	var got models.Command
	if err := json.Unmarshal([]byte(messages[0].Values["payload"].(string)), &got); err != nil {
		t.Fatalf("Invalid payload: %v", err)
	}
	if got.Action != models.ActionPower {
		t.Errorf("action = %q", got.Action)
	}

	if err := c.AcknowledgeMessage(ctx, id); err != nil {
		t.Fatalf("Failed to ack: %v", err)
	}

	// Nothing new after the ack
	messages, err = c.ReadCommands(ctx, 10, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("expected no messages, got %d", len(messages))
	}
}
