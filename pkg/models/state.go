package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Mode is the display mode of the matrix
type Mode int

const (
	ModeAquarium Mode = iota
	ModeEffect
	ModeImage
	ModeText
)

var modeNames = []string{"aquarium", "effect", "image", "text"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode accepts a mode name or its numeric value
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range modeNames {
		if s == name || s == fmt.Sprint(i) {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// TextSize is the font size used in text mode
type TextSize int

const (
	TextSmall TextSize = iota
	TextMedium
	TextLarge
)

// ParseTextSize accepts small/medium/large or 0/1/2
func ParseTextSize(s string) (TextSize, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "small", "s", "0":
		return TextSmall, nil
	case "medium", "m", "1":
		return TextMedium, nil
	case "large", "l", "2":
		return TextLarge, nil
	}
	return 0, fmt.Errorf("unknown text size %q", s)
}

// DiffType tells whether a reading went up or down since the previous sample
type DiffType int

const (
	DiffDisabled DiffType = iota
	DiffUp
	DiffDown
)

// Diff is the signed delta of a reading against its previous value
type Diff struct {
	Type    DiffType    `json:"type"`
	Value   json.Number `json:"value"`
	Inverse bool        `json:"inverse"`
}

// Reading is one environment sensor channel
type Reading struct {
	Value      float64   `json:"value"`
	History24h []float64 `json:"history_24h"`
	Diff       Diff      `json:"diff"`
}

// Environment holds the sensor readings reported by the device
type Environment struct {
	Temperature *Reading `json:"temperature,omitempty"`
	Humidity    *Reading `json:"humidity,omitempty"`
	CO2         *Reading `json:"co2,omitempty"`
}

// EffectSettings is a free-form settings object for a single effect
type EffectSettings map[string]interface{}

// EffectsState holds the selected effect and the per-effect settings keyed by effect id
type EffectsState struct {
	Selected *int                      `json:"selected,omitempty"`
	Settings map[string]EffectSettings `json:"settings,omitempty"`
}

// ImageState holds the selected image
type ImageState struct {
	Selected *ImageRef `json:"selected,omitempty"`
}

// TextState is the text shown in text mode
type TextState struct {
	Payload string   `json:"payload"`
	Size    TextSize `json:"size"`
}

// MQTTSettings configures the device's MQTT client
type MQTTSettings struct {
	Status          int    `json:"status"`
	Host            string `json:"host" validate:"max=253"`
	Port            int    `json:"port" validate:"min=0,max=65535"`
	ClientID        string `json:"client_id" validate:"max=64"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	CO2Topic        string `json:"co2_topic"`
	MatrixTextTopic string `json:"matrix_text_topic"`
	ShowText        bool   `json:"show_text"`
}

// EDMXProtocol selects the DMX-over-Ethernet protocol
type EDMXProtocol int

const (
	EDMXSACN EDMXProtocol = iota
	EDMXArtNet
)

// EDMXMode selects how DMX channels map onto the matrix
type EDMXMode int

const (
	EDMXModeRGB EDMXMode = iota
	EDMXModeWhite
)

// EDMXSettings configures Art-Net / sACN input
type EDMXSettings struct {
	Protocol      EDMXProtocol `json:"protocol" validate:"min=0,max=1"`
	Multicast     bool         `json:"multicast"`
	StartUniverse bool         `json:"start_universe"`
	StartAddress  int          `json:"start_address" validate:"min=1,max=512"`
	Mode          EDMXMode     `json:"mode" validate:"min=0,max=1"`
	Timeout       int          `json:"timeout" validate:"min=0"`
}

// HASSSettings configures the Home Assistant integration
type HASSSettings struct {
	Status   int  `json:"status"`
	ShowText bool `json:"show_text"`
}

// Settings groups the integration settings blocks
type Settings struct {
	MQTT *MQTTSettings `json:"mqtt,omitempty"`
	EDMX *EDMXSettings `json:"edmx,omitempty"`
	HASS *HASSSettings `json:"hass,omitempty"`
}

// DeviceState is the client's mirror of the device state. Every field is
// optional: the zero value encodes as {} and means the state is unknown.
type DeviceState struct {
	Power          *bool         `json:"power,omitempty"`
	AutoBrightness *bool         `json:"autobrightness,omitempty"`
	Brightness     *int          `json:"brightness,omitempty"`
	Mode           *Mode         `json:"mode,omitempty"`
	Width          *int          `json:"width,omitempty"`
	Height         *int          `json:"height,omitempty"`
	Environment    *Environment  `json:"environment,omitempty"`
	Effects        *EffectsState `json:"effects,omitempty"`
	Image          *ImageState   `json:"image,omitempty"`
	Text           *TextState    `json:"text,omitempty"`
	Settings       *Settings     `json:"settings,omitempty"`
}

// IsEmpty reports whether no attribute of the device is known
func (s DeviceState) IsEmpty() bool {
	return s.Power == nil && s.AutoBrightness == nil && s.Brightness == nil &&
		s.Mode == nil && s.Width == nil && s.Height == nil && s.Environment == nil &&
		s.Effects == nil && s.Image == nil && s.Text == nil && s.Settings == nil
}

// MatrixSize returns the matrix dimensions, falling back to the given size
// when the device has not reported a usable one
func (s DeviceState) MatrixSize(fallbackWidth, fallbackHeight int) (int, int) {
	width, height := fallbackWidth, fallbackHeight
	if s.Width != nil && *s.Width > 0 {
		width = *s.Width
	}
	if s.Height != nil && *s.Height > 0 {
		height = *s.Height
	}
	return width, height
}

// Clone returns a deep copy of the state
func (s DeviceState) Clone() DeviceState {
	out := DeviceState{
		Power:          clonePtr(s.Power),
		AutoBrightness: clonePtr(s.AutoBrightness),
		Brightness:     clonePtr(s.Brightness),
		Mode:           clonePtr(s.Mode),
		Width:          clonePtr(s.Width),
		Height:         clonePtr(s.Height),
	}
	if s.Environment != nil {
		out.Environment = &Environment{
			Temperature: s.Environment.Temperature.clone(),
			Humidity:    s.Environment.Humidity.clone(),
			CO2:         s.Environment.CO2.clone(),
		}
	}
	if s.Effects != nil {
		out.Effects = s.Effects.Clone()
	}
	if s.Image != nil {
		out.Image = &ImageState{Selected: clonePtr(s.Image.Selected)}
	}
	if s.Text != nil {
		t := *s.Text
		out.Text = &t
	}
	if s.Settings != nil {
		out.Settings = s.Settings.Clone()
	}
	return out
}

// Clone returns a deep copy of the effects block
func (e *EffectsState) Clone() *EffectsState {
	if e == nil {
		return nil
	}
	out := &EffectsState{Selected: clonePtr(e.Selected)}
	if e.Settings != nil {
		out.Settings = make(map[string]EffectSettings, len(e.Settings))
		for id, settings := range e.Settings {
			out.Settings[id] = settings.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the settings object
func (es EffectSettings) Clone() EffectSettings {
	if es == nil {
		return nil
	}
	out := make(EffectSettings, len(es))
	for k, v := range es {
		out[k] = cloneValue(v)
	}
	return out
}

// Clone returns a deep copy of the settings blocks
func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	return &Settings{
		MQTT: clonePtr(s.MQTT),
		EDMX: clonePtr(s.EDMX),
		HASS: clonePtr(s.HASS),
	}
}

func (r *Reading) clone() *Reading {
	if r == nil {
		return nil
	}
	out := *r
	if r.History24h != nil {
		out.History24h = append([]float64(nil), r.History24h...)
	}
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneValue(v interface{}) interface{} {
	switch tv := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(tv))
		for k, inner := range tv {
			out[k] = cloneValue(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(tv))
		for i, inner := range tv {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}

// Bool returns a pointer to v
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v
func Int(v int) *int { return &v }

// ModePtr returns a pointer to m
func ModePtr(m Mode) *Mode { return &m }
