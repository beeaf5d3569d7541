package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/koios/openmatrix/pkg/models"
)

// ValidationError represents a validation error for a command value
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, code, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)}
}

// textValue is the object form of a text command
type textValue struct {
	Payload string          `json:"payload" validate:"max=256"`
	Size    json.RawMessage `json:"size"`
}

// effectSettingsValue is the value of an effect_settings command
type effectSettingsValue struct {
	EffectID *int                  `json:"effectId" validate:"required,min=0"`
	Settings models.EffectSettings `json:"settings" validate:"required"`
}

// decodeBool accepts JSON booleans, 0/1 and on/off/true/false strings
func decodeBool(raw json.RawMessage) (bool, error) {
	if isNull(raw) {
		return false, invalid("value", "required", "value is required")
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	s, err := stringifyValue(raw)
	if err != nil {
		return false, invalid("value", "type", "expected a boolean")
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, invalid("value", "type", "expected on or off, got %q", s)
}

// decodeInt accepts a JSON number or a numeric string within [min, max]
func decodeInt(raw json.RawMessage, field string, min, max int) (int, error) {
	s, err := stringifyValue(raw)
	if err != nil {
		return 0, invalid(field, "type", "expected an integer")
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, invalid(field, "type", "expected an integer, got %q", s)
	}
	if n < min || n > max {
		return 0, invalid(field, "range", "must be between %d and %d", min, max)
	}
	return n, nil
}

// decodeMode accepts a mode name or its number
func decodeMode(raw json.RawMessage) (models.Mode, error) {
	s, err := stringifyValue(raw)
	if err != nil {
		return 0, invalid("value", "type", "expected a mode")
	}
	mode, err := models.ParseMode(s)
	if err != nil {
		return 0, invalid("value", "oneof", "%v", err)
	}
	return mode, nil
}

// decodeText accepts a bare string (small text) or {"payload","size"}
func decodeText(raw json.RawMessage, validate *validator.Validate) (string, models.TextSize, error) {
	if isNull(raw) {
		return "", 0, invalid("value", "required", "value is required")
	}
	if isJSONObject(raw) {
		var v textValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return "", 0, invalid("value", "type", "invalid text object")
		}
		if err := validate.Struct(v); err != nil {
			return "", 0, fieldError(err)
		}
		size := models.TextSmall
		if len(v.Size) > 0 {
			s, err := stringifyValue(v.Size)
			if err != nil {
				return "", 0, invalid("size", "type", "expected a text size")
			}
			if size, err = models.ParseTextSize(s); err != nil {
				return "", 0, invalid("size", "oneof", "%v", err)
			}
		}
		return v.Payload, size, nil
	}

	var payload string
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", 0, invalid("value", "type", "expected a string")
	}
	if len(payload) > 256 {
		return "", 0, invalid("payload", "max", "must be at most 256 characters")
	}
	return payload, models.TextSmall, nil
}

// decodeImageRef accepts an id, a name, or {"id"} / {"name"}
func decodeImageRef(raw json.RawMessage) (models.ImageRef, error) {
	if isJSONObject(raw) {
		var v struct {
			ID   *int   `json:"id"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return models.ImageRef{}, invalid("value", "type", "invalid image object")
		}
		if v.Name != "" {
			return models.ImageByName(v.Name), nil
		}
		if v.ID != nil {
			return models.ImageByID(*v.ID), nil
		}
		return models.ImageRef{}, invalid("value", "required_without", "id or name is required")
	}

	s, err := stringifyValue(raw)
	if err != nil || strings.TrimSpace(s) == "" {
		return models.ImageRef{}, invalid("value", "required", "image id or name is required")
	}
	return models.ParseImageRef(strings.TrimSpace(s)), nil
}

func decodeImageName(raw json.RawMessage) (string, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err != nil || strings.TrimSpace(name) == "" {
		return "", invalid("value", "required", "image name is required")
	}
	return name, nil
}

func decodeEffectSettings(raw json.RawMessage, validate *validator.Validate) (int, models.EffectSettings, error) {
	var v effectSettingsValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, nil, invalid("value", "type", "expected {\"effectId\", \"settings\"}")
	}
	if err := validate.Struct(v); err != nil {
		return 0, nil, fieldError(err)
	}
	return *v.EffectID, v.Settings, nil
}

// decodeStruct decodes an object value into v and runs its validate tags
func decodeStruct(raw json.RawMessage, v interface{}, validate *validator.Validate) error {
	if !isJSONObject(raw) {
		return invalid("value", "type", "expected an object")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalid("value", "type", "%v", err)
	}
	if err := validate.Struct(v); err != nil {
		return fieldError(err)
	}
	return nil
}

// fieldError reports the first failing field of a validator error
func fieldError(err error) error {
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		fe := errs[0]
		return invalid(fe.Field(), fe.Tag(), "failed %s validation", fe.Tag())
	}
	return invalid("value", "invalid", "%v", err)
}

// isNull reports an absent or JSON null value
func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// stringifyValue returns a JSON string's contents or a scalar's literal text
func stringifyValue(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("empty value")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		return "", fmt.Errorf("unsupported value type")
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return "", fmt.Errorf("null value")
	}
	return string(trimmed), nil
}
