package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/koios/openmatrix/internal/device"
	"github.com/koios/openmatrix/pkg/models"
)

var (
	// ErrInvalidCommand is returned for commands that fail validation
	ErrInvalidCommand = errors.New("invalid command")
	// ErrRejected is returned when the device does not answer 200
	ErrRejected = errors.New("command rejected by device")
)

// Commander is the device API commands are forwarded to
type Commander interface {
	SetPower(ctx context.Context, on bool) (*device.Response, error)
	SetAutoBrightness(ctx context.Context, on bool) (*device.Response, error)
	SetBrightness(ctx context.Context, level int) (*device.Response, error)
	SetMode(ctx context.Context, mode models.Mode) (*device.Response, error)
	SelectEffect(ctx context.Context, effect int) (*device.Response, error)
	UpdateEffectSettings(ctx context.Context, effectID int, settings models.EffectSettings) (*device.Response, error)
	SelectImage(ctx context.Context, ref models.ImageRef) (*device.Response, error)
	PreviewImage(ctx context.Context, ref models.ImageRef) (*device.Response, error)
	DeleteImage(ctx context.Context, name string) (*device.Response, error)
	SetText(ctx context.Context, payload string, size models.TextSize) (*device.Response, error)
	UpdateMQTTSettings(ctx context.Context, settings models.MQTTSettings) (*device.Response, error)
	UpdateDMXSettings(ctx context.Context, settings models.EDMXSettings) (*device.Response, error)
	UpdateHASSSettings(ctx context.Context, settings models.HASSSettings) (*device.Response, error)
}

// CommandHandler validates remote commands and forwards them to the device
type CommandHandler struct {
	device   Commander
	deviceID string
	refresh  func()
	validate *validator.Validate
	logger   *zap.Logger
}

// NewCommandHandler creates a command handler. refresh, when set, is called
// for the refresh action.
func NewCommandHandler(dev Commander, deviceID string, refresh func(), logger *zap.Logger) *CommandHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandHandler{
		device:   dev,
		deviceID: deviceID,
		refresh:  refresh,
		validate: validator.New(),
		logger:   logger,
	}
}

// Handle processes a command. The result is returned even when err is set.
func (h *CommandHandler) Handle(ctx context.Context, cmd *models.Command) (*models.CommandResult, error) {
	h.logger.Info("Processing command",
		zap.String("action", cmd.Action),
		zap.String("uuid", cmd.UUID))

	result := &models.CommandResult{
		Type:     "command_result",
		UUID:     cmd.UUID,
		DeviceID: h.deviceID,
		Action:   cmd.Action,
	}

	if cmd.Type != "" && cmd.Type != "command" {
		h.logger.Error("Invalid command type", zap.String("type", cmd.Type))
		return h.fail(result, fmt.Errorf("%w: type %q", ErrInvalidCommand, cmd.Type))
	}
	if cmd.Action == "" {
		h.logger.Error("Missing action")
		return h.fail(result, fmt.Errorf("%w: action is required", ErrInvalidCommand))
	}

	if cmd.Action == models.ActionRefresh {
		if h.refresh != nil {
			h.refresh()
		}
		result.ProcessedAt = time.Now()
		return result, nil
	}

	resp, err := h.dispatch(ctx, cmd)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			h.logger.Warn("Command failed validation",
				zap.String("action", cmd.Action),
				zap.String("field", verr.Field),
				zap.String("code", verr.Code))
			return h.fail(result, fmt.Errorf("%w: %v", ErrInvalidCommand, err))
		}
		h.logger.Error("Command failed",
			zap.String("action", cmd.Action),
			zap.Error(err))
		return h.fail(result, err)
	}

	result.StatusCode = resp.StatusCode
	if !resp.OK() {
		return h.fail(result, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode))
	}

	h.logger.Info("Command completed",
		zap.String("action", cmd.Action),
		zap.String("uuid", cmd.UUID))
	result.ProcessedAt = time.Now()
	return result, nil
}

func (h *CommandHandler) fail(result *models.CommandResult, err error) (*models.CommandResult, error) {
	result.Error = err.Error()
	result.ProcessedAt = time.Now()
	return result, err
}

func (h *CommandHandler) dispatch(ctx context.Context, cmd *models.Command) (*device.Response, error) {
	raw := cmd.Value
	if isNull(raw) {
		return nil, invalid("value", "required", "value is required")
	}

	switch cmd.Action {
	case models.ActionPower:
		on, err := decodeBool(raw)
		if err != nil {
			return nil, err
		}
		return h.device.SetPower(ctx, on)

	case models.ActionAutoBrightness:
		on, err := decodeBool(raw)
		if err != nil {
			return nil, err
		}
		return h.device.SetAutoBrightness(ctx, on)

	case models.ActionBrightness:
		level, err := decodeInt(raw, "value", 0, 100)
		if err != nil {
			return nil, err
		}
		return h.device.SetBrightness(ctx, level)

	case models.ActionMode:
		mode, err := decodeMode(raw)
		if err != nil {
			return nil, err
		}
		return h.device.SetMode(ctx, mode)

	case models.ActionEffect:
		effect, err := decodeInt(raw, "value", 0, 1<<16)
		if err != nil {
			return nil, err
		}
		return h.device.SelectEffect(ctx, effect)

	case models.ActionEffectSettings:
		id, settings, err := decodeEffectSettings(raw, h.validate)
		if err != nil {
			return nil, err
		}
		return h.device.UpdateEffectSettings(ctx, id, settings)

	case models.ActionImage, models.ActionPreview:
		ref, err := decodeImageRef(raw)
		if err != nil {
			return nil, err
		}
		if cmd.Action == models.ActionPreview {
			return h.device.PreviewImage(ctx, ref)
		}
		return h.device.SelectImage(ctx, ref)

	case models.ActionDeleteImage:
		name, err := decodeImageName(raw)
		if err != nil {
			return nil, err
		}
		return h.device.DeleteImage(ctx, name)

	case models.ActionText:
		payload, size, err := decodeText(raw, h.validate)
		if err != nil {
			return nil, err
		}
		return h.device.SetText(ctx, payload, size)

	case models.ActionMQTTSettings:
		var s models.MQTTSettings
		if err := decodeStruct(raw, &s, h.validate); err != nil {
			return nil, err
		}
		return h.device.UpdateMQTTSettings(ctx, s)

	case models.ActionEDMXSettings:
		var s models.EDMXSettings
		if err := decodeStruct(raw, &s, h.validate); err != nil {
			return nil, err
		}
		return h.device.UpdateDMXSettings(ctx, s)

	case models.ActionHASSSettings:
		var s models.HASSSettings
		if err := decodeStruct(raw, &s, h.validate); err != nil {
			return nil, err
		}
		return h.device.UpdateHASSSettings(ctx, s)
	}

	return nil, invalid("action", "oneof", "unknown action %q", cmd.Action)
}
