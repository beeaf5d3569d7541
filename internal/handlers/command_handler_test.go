package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/koios/openmatrix/internal/device"
	"github.com/koios/openmatrix/pkg/models"
)

// fakeDevice records forwarded calls and answers with status
type fakeDevice struct {
	status int
	err    error
	calls  []string
	args   []interface{}
}

func (f *fakeDevice) record(name string, arg interface{}) (*device.Response, error) {
	f.calls = append(f.calls, name)
	f.args = append(f.args, arg)
	if f.err != nil {
		return nil, f.err
	}
	return &device.Response{StatusCode: f.status}, nil
}

func (f *fakeDevice) SetPower(_ context.Context, on bool) (*device.Response, error) {
	return f.record("SetPower", on)
}

func (f *fakeDevice) SetAutoBrightness(_ context.Context, on bool) (*device.Response, error) {
	return f.record("SetAutoBrightness", on)
}

func (f *fakeDevice) SetBrightness(_ context.Context, level int) (*device.Response, error) {
	return f.record("SetBrightness", level)
}

func (f *fakeDevice) SetMode(_ context.Context, mode models.Mode) (*device.Response, error) {
	return f.record("SetMode", mode)
}

func (f *fakeDevice) SelectEffect(_ context.Context, effect int) (*device.Response, error) {
	return f.record("SelectEffect", effect)
}

func (f *fakeDevice) UpdateEffectSettings(_ context.Context, id int, settings models.EffectSettings) (*device.Response, error) {
	return f.record("UpdateEffectSettings", []interface{}{id, settings})
}

func (f *fakeDevice) SelectImage(_ context.Context, ref models.ImageRef) (*device.Response, error) {
	return f.record("SelectImage", ref)
}

func (f *fakeDevice) PreviewImage(_ context.Context, ref models.ImageRef) (*device.Response, error) {
	return f.record("PreviewImage", ref)
}

func (f *fakeDevice) DeleteImage(_ context.Context, name string) (*device.Response, error) {
	return f.record("DeleteImage", name)
}

func (f *fakeDevice) SetText(_ context.Context, payload string, size models.TextSize) (*device.Response, error) {
	return f.record("SetText", models.TextState{Payload: payload, Size: size})
}

func (f *fakeDevice) UpdateMQTTSettings(_ context.Context, s models.MQTTSettings) (*device.Response, error) {
	return f.record("UpdateMQTTSettings", s)
}

func (f *fakeDevice) UpdateDMXSettings(_ context.Context, s models.EDMXSettings) (*device.Response, error) {
	return f.record("UpdateDMXSettings", s)
}

func (f *fakeDevice) UpdateHASSSettings(_ context.Context, s models.HASSSettings) (*device.Response, error) {
	return f.record("UpdateHASSSettings", s)
}

func command(action, value string) *models.Command {
	return &models.Command{Type: "command", UUID: "test-uuid", Action: action, Value: json.RawMessage(value)}
}

func TestCommandHandler_Dispatch(t *testing.T) {
	tests := []struct {
		action string
		value  string
		call   string
		arg    interface{}
	}{
		{models.ActionPower, `"ON"`, "SetPower", true},
		{models.ActionAutoBrightness, `false`, "SetAutoBrightness", false},
		{models.ActionBrightness, `42`, "SetBrightness", 42},
		{models.ActionMode, `"text"`, "SetMode", models.ModeText},
		{models.ActionEffect, `3`, "SelectEffect", 3},
		{models.ActionEffectSettings, `{"effectId":1,"settings":{"speed":2}}`, "UpdateEffectSettings",
			[]interface{}{1, models.EffectSettings{"speed": 2.0}}},
		{models.ActionImage, `3`, "SelectImage", models.ImageByID(3)},
		{models.ActionPreview, `"cat"`, "PreviewImage", models.ImageByName("cat")},
		{models.ActionDeleteImage, `"cat"`, "DeleteImage", "cat"},
		{models.ActionText, `"hello"`, "SetText", models.TextState{Payload: "hello"}},
		{models.ActionMQTTSettings, `{"status":1,"host":"broker","port":1883}`, "UpdateMQTTSettings",
			models.MQTTSettings{Status: 1, Host: "broker", Port: 1883}},
		{models.ActionEDMXSettings, `{"protocol":0,"start_address":1}`, "UpdateDMXSettings",
			models.EDMXSettings{StartAddress: 1}},
		{models.ActionHASSSettings, `{"status":1,"show_text":true}`, "UpdateHASSSettings",
			models.HASSSettings{Status: 1, ShowText: true}},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			dev := &fakeDevice{status: http.StatusOK}
			h := NewCommandHandler(dev, "desk", nil, zap.NewNop())

			result, err := h.Handle(context.Background(), command(tt.action, tt.value))
			require.NoError(t, err)
			require.Equal(t, []string{tt.call}, dev.calls)
			assert.Equal(t, tt.arg, dev.args[0])

			assert.Equal(t, "command_result", result.Type)
			assert.Equal(t, "test-uuid", result.UUID)
			assert.Equal(t, "desk", result.DeviceID)
			assert.Equal(t, tt.action, result.Action)
			assert.Equal(t, http.StatusOK, result.StatusCode)
			assert.Empty(t, result.Error)
			assert.False(t, result.ProcessedAt.IsZero())
		})
	}
}

func TestCommandHandler_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cmd  *models.Command
	}{
		{"wrong type", &models.Command{Type: "render_request", Action: models.ActionPower, Value: json.RawMessage(`true`)}},
		{"missing action", &models.Command{Value: json.RawMessage(`true`)}},
		{"missing value", &models.Command{Action: models.ActionPower}},
		{"null power", command(models.ActionPower, `null`)},
		{"null autobrightness", command(models.ActionAutoBrightness, ` null `)},
		{"null text", command(models.ActionText, `null`)},
		{"null brightness", command(models.ActionBrightness, `null`)},
		{"unknown action", command("reset_factory", `true`)},
		{"bad brightness", command(models.ActionBrightness, `250`)},
		{"bad mode", command(models.ActionMode, `"disco"`)},
		{"bad settings", command(models.ActionEDMXSettings, `{"start_address":900}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &fakeDevice{status: http.StatusOK}
			h := NewCommandHandler(dev, "desk", nil, zap.NewNop())

			result, err := h.Handle(context.Background(), tt.cmd)
			assert.True(t, errors.Is(err, ErrInvalidCommand), "got %v", err)
			require.NotNil(t, result)
			assert.NotEmpty(t, result.Error)
			assert.Zero(t, result.StatusCode)
			assert.Empty(t, dev.calls)
		})
	}
}

func TestCommandHandler_Rejected(t *testing.T) {
	dev := &fakeDevice{status: http.StatusNotFound}
	h := NewCommandHandler(dev, "desk", nil, zap.NewNop())

	result, err := h.Handle(context.Background(), command(models.ActionImage, `{"id":3}`))
	assert.True(t, errors.Is(err, ErrRejected))
	assert.Equal(t, http.StatusNotFound, result.StatusCode)
	assert.Contains(t, result.Error, "404")
}

func TestCommandHandler_TransportError(t *testing.T) {
	dev := &fakeDevice{err: errors.New("connection refused")}
	h := NewCommandHandler(dev, "desk", nil, zap.NewNop())

	result, err := h.Handle(context.Background(), command(models.ActionPower, `true`))
	assert.EqualError(t, err, "connection refused")
	assert.False(t, errors.Is(err, ErrInvalidCommand))
	assert.Equal(t, "connection refused", result.Error)
}

func TestCommandHandler_Refresh(t *testing.T) {
	refreshed := 0
	dev := &fakeDevice{status: http.StatusOK}
	h := NewCommandHandler(dev, "desk", func() { refreshed++ }, zap.NewNop())

	_, err := h.Handle(context.Background(), &models.Command{Action: models.ActionRefresh})
	require.NoError(t, err)
	assert.Equal(t, 1, refreshed)
	assert.Empty(t, dev.calls)
}

func TestCommandValue(t *testing.T) {
	assert.JSONEq(t, `"ON"`, string(models.CommandValue([]byte("ON"))))
	assert.JSONEq(t, `42`, string(models.CommandValue([]byte("42"))))
	assert.JSONEq(t, `{"id":3}`, string(models.CommandValue([]byte(`{"id":3}`))))
	assert.JSONEq(t, `""`, string(models.CommandValue(nil)))
}
