package device

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/koios/openmatrix/pkg/models"
)

// Every command sends only the attributes it changes and returns the
// device's reply. The mirror is updated only when the reply is exactly 200;
// anything else is left for the next poll to reconcile.

// SetPower turns the display on or off
func (c *Client) SetPower(ctx context.Context, on bool) (*Response, error) {
	return c.command(ctx, http.MethodPost, "/power", map[string]bool{"power": on},
		func(s *models.DeviceState) { s.Power = models.Bool(on) })
}

// SetAutoBrightness toggles ambient light based brightness
func (c *Client) SetAutoBrightness(ctx context.Context, on bool) (*Response, error) {
	return c.command(ctx, http.MethodPost, "/autobrightness", map[string]bool{"autobrightness": on},
		func(s *models.DeviceState) { s.AutoBrightness = models.Bool(on) })
}

// SetBrightness sets the brightness level
func (c *Client) SetBrightness(ctx context.Context, level int) (*Response, error) {
	return c.command(ctx, http.MethodPost, "/brightness", map[string]int{"brightness": level},
		func(s *models.DeviceState) { s.Brightness = models.Int(level) })
}

// SetMode switches what the display shows
func (c *Client) SetMode(ctx context.Context, mode models.Mode) (*Response, error) {
	return c.command(ctx, http.MethodPost, "/mode", map[string]int{"mode": int(mode)},
		func(s *models.DeviceState) { s.Mode = models.ModePtr(mode) })
}

// SelectEffect selects the running effect, keeping stored effect settings
func (c *Client) SelectEffect(ctx context.Context, effect int) (*Response, error) {
	return c.command(ctx, http.MethodPost, "/effect", map[string]int{"effect": effect},
		func(s *models.DeviceState) {
			if s.Effects == nil {
				s.Effects = &models.EffectsState{}
			}
			s.Effects.Selected = models.Int(effect)
		})
}

// UpdateEffectSettings merges settings into the stored settings of one effect
func (c *Client) UpdateEffectSettings(ctx context.Context, effectID int, settings models.EffectSettings) (*Response, error) {
	body := map[string]interface{}{
		"effectId": effectID,
		"settings": settings,
	}
	return c.command(ctx, http.MethodPost, "/effect/settings", body,
		func(s *models.DeviceState) {
			if s.Effects == nil {
				s.Effects = &models.EffectsState{}
			}
			if s.Effects.Settings == nil {
				s.Effects.Settings = make(map[string]models.EffectSettings)
			}
			key := strconv.Itoa(effectID)
			merged := s.Effects.Settings[key]
			if merged == nil {
				merged = models.EffectSettings{}
			}
			for k, v := range settings.Clone() {
				merged[k] = v
			}
			s.Effects.Settings[key] = merged
		})
}

// SelectImage makes ref the displayed image
func (c *Client) SelectImage(ctx context.Context, ref models.ImageRef) (*Response, error) {
	return c.command(ctx, http.MethodPost, "/image", ref.Body(),
		func(s *models.DeviceState) {
			selected := ref
			s.Image = &models.ImageState{Selected: &selected}
		})
}

// PreviewImage shows ref briefly without selecting it
func (c *Client) PreviewImage(ctx context.Context, ref models.ImageRef) (*Response, error) {
	return c.command(ctx, http.MethodPatch, "/image", ref.Body(), nil)
}

// DeleteImage removes an image from the device. On success the image is
// dropped from the mirrored list and the list is fetched again.
func (c *Client) DeleteImage(ctx context.Context, name string) (*Response, error) {
	resp, err := c.command(ctx, http.MethodPost, "/image/delete", map[string]string{"name": name}, nil)
	if err != nil || !resp.OK() {
		return resp, err
	}

	c.mirror.UpdateImages(func(list []models.ImageDescriptor) []models.ImageDescriptor {
		out := list[:0]
		for _, img := range list {
			if img.Name != name {
				out = append(out, img)
			}
		}
		return out
	})
	if _, err := c.FetchImages(ctx); err != nil {
		c.logger.Warn("Failed to refresh image list after delete", zap.Error(err))
	}
	return resp, nil
}

// SetText sets the scrolling text and its size
func (c *Client) SetText(ctx context.Context, payload string, size models.TextSize) (*Response, error) {
	body := map[string]interface{}{"payload": payload, "size": size}
	return c.command(ctx, http.MethodPost, "/text", body,
		func(s *models.DeviceState) {
			s.Text = &models.TextState{Payload: payload, Size: size}
		})
}

// UpdateMQTTSettings replaces the MQTT settings block
func (c *Client) UpdateMQTTSettings(ctx context.Context, settings models.MQTTSettings) (*Response, error) {
	return c.command(ctx, http.MethodPost, "/settings/mqtt", settings,
		func(s *models.DeviceState) {
			s.Settings = ensureSettings(s.Settings)
			s.Settings.MQTT = &settings
		})
}

// UpdateDMXSettings replaces the E1.31 / Art-Net settings block
func (c *Client) UpdateDMXSettings(ctx context.Context, settings models.EDMXSettings) (*Response, error) {
	return c.command(ctx, http.MethodPost, "/settings/edmx", settings,
		func(s *models.DeviceState) {
			s.Settings = ensureSettings(s.Settings)
			s.Settings.EDMX = &settings
		})
}

// UpdateHASSSettings replaces the Home Assistant settings block
func (c *Client) UpdateHASSSettings(ctx context.Context, settings models.HASSSettings) (*Response, error) {
	return c.command(ctx, http.MethodPost, "/settings/hass", settings,
		func(s *models.DeviceState) {
			s.Settings = ensureSettings(s.Settings)
			s.Settings.HASS = &settings
		})
}

// ResetNetwork clears the device's network configuration; the device
// restarts.
func (c *Client) ResetNetwork(ctx context.Context) (*Response, error) {
	return c.command(ctx, http.MethodPost, "/settings/network/reset", nil, nil)
}

// ResetFactory restores factory defaults; the device restarts.
func (c *Client) ResetFactory(ctx context.Context) (*Response, error) {
	return c.command(ctx, http.MethodPost, "/settings/factory/reset", nil, nil)
}

func ensureSettings(s *models.Settings) *models.Settings {
	if s == nil {
		return &models.Settings{}
	}
	return s
}
