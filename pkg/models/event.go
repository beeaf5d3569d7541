package models

import (
	"encoding/json"
	"time"
)

// Command actions accepted from the MQTT bridge, the Redis command stream
// and the control API. Resets are deliberately not remote actions.
const (
	ActionPower          = "power"
	ActionAutoBrightness = "autobrightness"
	ActionBrightness     = "brightness"
	ActionMode           = "mode"
	ActionEffect         = "effect"
	ActionEffectSettings = "effect_settings"
	ActionImage          = "image"
	ActionPreview        = "preview"
	ActionDeleteImage    = "delete_image"
	ActionText           = "text"
	ActionMQTTSettings   = "settings_mqtt"
	ActionEDMXSettings   = "settings_edmx"
	ActionHASSSettings   = "settings_hass"
	ActionRefresh        = "refresh"
)

// Command is a remote request to change the device
type Command struct {
	Type   string          `json:"type"`
	UUID   string          `json:"uuid"`
	Action string          `json:"action"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// CommandResult reports how the device answered a command
type CommandResult struct {
	Type        string    `json:"type"`
	UUID        string    `json:"uuid"`
	DeviceID    string    `json:"device_id"`
	Action      string    `json:"action"`
	StatusCode  int       `json:"status_code"`
	Error       string    `json:"error,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

// CommandValue turns a raw message payload into a command value. Payloads
// that are not JSON (for example ON or hello) become JSON strings.
func CommandValue(payload []byte) json.RawMessage {
	if len(payload) > 0 && json.Valid(payload) {
		return json.RawMessage(payload)
	}
	encoded, _ := json.Marshal(string(payload))
	return encoded
}
