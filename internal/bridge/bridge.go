// Package bridge mirrors the device state onto MQTT and turns messages on
// <prefix>/<action>/set topics into device commands.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/koios/openmatrix/internal/mirror"
	"github.com/koios/openmatrix/pkg/models"
)

// queueSize bounds commands waiting for the device
const queueSize = 16

// CommandActions are the actions accepted on <prefix>/<action>/set
var CommandActions = []string{
	models.ActionPower,
	models.ActionAutoBrightness,
	models.ActionBrightness,
	models.ActionMode,
	models.ActionEffect,
	models.ActionImage,
	models.ActionText,
	models.ActionRefresh,
}

// CommandHandler executes a decoded command
type CommandHandler interface {
	Handle(ctx context.Context, cmd *models.Command) (*models.CommandResult, error)
}

// Bridge publishes mirror snapshots and forwards commands
type Bridge struct {
	broker  Broker
	prefix  string
	mirror  *mirror.Mirror
	handler CommandHandler
	logger  *zap.Logger
	queue   chan *models.Command

	// last retained payloads, to skip republishing unchanged state
	last map[string][]byte
}

// New creates a bridge. prefix defaults to "openmatrix".
func New(broker Broker, prefix string, m *mirror.Mirror, handler CommandHandler, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		broker:  broker,
		prefix:  normalizePrefix(prefix),
		mirror:  m,
		handler: handler,
		logger:  logger,
		queue:   make(chan *models.Command, queueSize),
		last:    make(map[string][]byte),
	}
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return "openmatrix"
	}
	return prefix
}

// AvailabilityTopic returns the availability topic under prefix. It is the
// will topic to pass to Dial.
func AvailabilityTopic(prefix string) string { return normalizePrefix(prefix) + "/available" }

// StateTopic carries the retained device state
func (b *Bridge) StateTopic() string { return b.prefix + "/state" }

// ImagesTopic carries the retained image list
func (b *Bridge) ImagesTopic() string { return b.prefix + "/images" }

// AvailabilityTopic is "online" while the device answers polls
func (b *Bridge) AvailabilityTopic() string { return AvailabilityTopic(b.prefix) }

// ResultTopic receives a result for every forwarded command
func (b *Bridge) ResultTopic() string { return b.prefix + "/result" }

// CommandTopic is where commands for action are published
func (b *Bridge) CommandTopic(action string) string { return b.prefix + "/" + action + "/set" }

// Run subscribes to the command topics and publishes snapshots until ctx is
// cancelled. Commands are executed one at a time on this goroutine.
func (b *Bridge) Run(ctx context.Context) error {
	for _, action := range CommandActions {
		action := action
		if err := b.broker.Subscribe(b.CommandTopic(action), func(topic string, payload []byte) {
			b.enqueue(action, payload)
		}); err != nil {
			return err
		}
	}

	updates, unsubscribe := b.mirror.Subscribe()
	defer unsubscribe()

	b.logger.Info("MQTT bridge running",
		zap.String("prefix", b.prefix),
		zap.Strings("actions", CommandActions))
	b.publishSnapshot(b.mirror.Snapshot())

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("MQTT bridge stopped")
			return nil
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			b.publishSnapshot(snap)
		case cmd := <-b.queue:
			b.execute(ctx, cmd)
		}
	}
}

// enqueue runs on the broker's goroutine and must not block
func (b *Bridge) enqueue(action string, payload []byte) {
	cmd := &models.Command{
		Type:   "command",
		UUID:   uuid.NewString(),
		Action: action,
		Value:  models.CommandValue(bytes.TrimSpace(payload)),
	}
	select {
	case b.queue <- cmd:
	default:
		b.logger.Warn("Command queue full, dropping command",
			zap.String("action", action),
			zap.String("uuid", cmd.UUID))
	}
}

func (b *Bridge) execute(ctx context.Context, cmd *models.Command) {
	result, err := b.handler.Handle(ctx, cmd)
	if err != nil {
		b.logger.Warn("MQTT command failed",
			zap.String("action", cmd.Action),
			zap.Error(err))
	}
	if result == nil {
		return
	}
	body, err := json.Marshal(result)
	if err != nil {
		b.logger.Error("Failed to marshal command result", zap.Error(err))
		return
	}
	if err := b.broker.Publish(b.ResultTopic(), false, body); err != nil {
		b.logger.Warn("Failed to publish command result", zap.Error(err))
	}
}

func (b *Bridge) publishSnapshot(snap mirror.Snapshot) {
	availability := "online"
	if snap.State.IsEmpty() {
		availability = "offline"
	}
	if err := b.publishRetained(b.AvailabilityTopic(), []byte(availability)); err != nil {
		b.logger.Warn("Failed to publish availability", zap.Error(err))
	}

	// An empty state means the device is unreachable; keep the last known
	// state retained rather than clearing it
	if !snap.State.IsEmpty() {
		if err := b.publishJSON(b.StateTopic(), snap.State); err != nil {
			b.logger.Warn("Failed to publish state", zap.Error(err))
		}
	}
	if err := b.publishJSON(b.ImagesTopic(), snap.Images); err != nil {
		b.logger.Warn("Failed to publish image list", zap.Error(err))
	}
}

func (b *Bridge) publishJSON(topic string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", topic, err)
	}
	return b.publishRetained(topic, body)
}

func (b *Bridge) publishRetained(topic string, body []byte) error {
	if prev, ok := b.last[topic]; ok && bytes.Equal(prev, body) {
		return nil
	}
	if err := b.broker.Publish(topic, true, body); err != nil {
		return err
	}
	b.last[topic] = body
	return nil
}
