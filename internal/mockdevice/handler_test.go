package mockdevice

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/koios/openmatrix/pkg/models"
)

func setupTestServer(t *testing.T) (*httptest.Server, *Device) {
	t.Helper()
	device := NewDevice(models.DefaultSeed())
	srv := httptest.NewServer(NewHandler(device, zap.NewNop()).Router())
	t.Cleanup(srv.Close)
	return srv, device
}

func postJSON(t *testing.T, srv *httptest.Server, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func tinyGIF(t *testing.T) []byte {
	t.Helper()
	p := image.NewPaletted(image.Rect(0, 0, 2, 2), color.Palette{color.Black, color.White})
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, &gif.GIF{Image: []*image.Paletted{p}, Delay: []int{10}}))
	return buf.Bytes()
}

func upload(t *testing.T, srv *httptest.Server, field, filename string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/openmatrix/imageupload", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := setupTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 5, body["images"])
}

func TestState(t *testing.T) {
	srv, _ := setupTestServer(t)

	resp, err := http.Get(srv.URL + "/openmatrix/state")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var state models.DeviceState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	require.NotNil(t, state.Brightness)
	assert.Equal(t, 100, *state.Brightness)
	require.NotNil(t, state.Settings)
	require.NotNil(t, state.Settings.MQTT)
	assert.Equal(t, 1883, state.Settings.MQTT.Port)
}

func TestCommands(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		verify func(t *testing.T, s models.DeviceState)
	}{
		{"power", "/openmatrix/power", `{"power":true}`, func(t *testing.T, s models.DeviceState) {
			assert.True(t, *s.Power)
		}},
		{"power off", "/openmatrix/power", `{"power":false}`, func(t *testing.T, s models.DeviceState) {
			assert.False(t, *s.Power)
		}},
		{"autobrightness", "/openmatrix/autobrightness", `{"autobrightness":false}`, func(t *testing.T, s models.DeviceState) {
			assert.False(t, *s.AutoBrightness)
		}},
		{"brightness", "/openmatrix/brightness", `{"brightness":42}`, func(t *testing.T, s models.DeviceState) {
			assert.Equal(t, 42, *s.Brightness)
		}},
		{"mode", "/openmatrix/mode", `{"mode":3}`, func(t *testing.T, s models.DeviceState) {
			assert.Equal(t, models.ModeText, *s.Mode)
		}},
		{"effect", "/openmatrix/effect", `{"effect":4}`, func(t *testing.T, s models.DeviceState) {
			assert.Equal(t, 4, *s.Effects.Selected)
		}},
		{"effect settings", "/openmatrix/effect/settings", `{"effectId":2,"settings":{"speed":5}}`, func(t *testing.T, s models.DeviceState) {
			assert.EqualValues(t, 5, s.Effects.Settings["2"]["speed"])
		}},
		{"text", "/openmatrix/text", `{"payload":"hi","size":2}`, func(t *testing.T, s models.DeviceState) {
			assert.Equal(t, models.TextState{Payload: "hi", Size: models.TextLarge}, *s.Text)
		}},
		{"mqtt", "/openmatrix/settings/mqtt", `{"status":1,"host":"broker","port":1884}`, func(t *testing.T, s models.DeviceState) {
			assert.Equal(t, "broker", s.Settings.MQTT.Host)
			assert.NotNil(t, s.Settings.HASS, "sibling settings are kept")
		}},
		{"edmx", "/openmatrix/settings/edmx", `{"protocol":1,"start_address":7,"mode":1,"timeout":100}`, func(t *testing.T, s models.DeviceState) {
			assert.Equal(t, models.EDMXArtNet, s.Settings.EDMX.Protocol)
			assert.Equal(t, 7, s.Settings.EDMX.StartAddress)
		}},
		{"hass", "/openmatrix/settings/hass", `{"status":1,"show_text":true}`, func(t *testing.T, s models.DeviceState) {
			assert.True(t, s.Settings.HASS.ShowText)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, device := setupTestServer(t)

			resp, body := postJSON(t, srv, http.MethodPost, tt.path, tt.body)
			require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
			assert.JSONEq(t, `{"code":200,"data":{"message":"OK"}}`, string(body))
			tt.verify(t, device.State())
		})
	}
}

func TestCommands_InvalidJSON(t *testing.T) {
	srv, device := setupTestServer(t)
	before := device.State()

	resp, body := postJSON(t, srv, http.MethodPost, "/openmatrix/brightness", `{"brightness":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"message":"Invalid JSON"}`, string(body))
	assert.Equal(t, before, device.State())
}

func TestCommands_Validation(t *testing.T) {
	tests := []struct {
		path  string
		body  string
		field string
	}{
		{"/openmatrix/brightness", `{"brightness":101}`, "Brightness"},
		{"/openmatrix/brightness", `{}`, "Brightness"},
		{"/openmatrix/power", `{}`, "Power"},
		{"/openmatrix/mode", `{"mode":9}`, "Mode"},
		{"/openmatrix/text", `{"payload":"x","size":5}`, "Size"},
		{"/openmatrix/settings/mqtt", `{"port":70000}`, "Port"},
		{"/openmatrix/settings/edmx", `{"start_address":0}`, "StartAddress"},
		{"/openmatrix/image", `{}`, "ID"},
	}

	for _, tt := range tests {
		t.Run(tt.path+" "+tt.body, func(t *testing.T) {
			srv, _ := setupTestServer(t)
			resp, body := postJSON(t, srv, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var eb models.ErrorBody
			require.NoError(t, json.Unmarshal(body, &eb))
			assert.Equal(t, "Validation failed", eb.Message)
			assert.Contains(t, eb.Fields, tt.field)
		})
	}
}

func TestImageList(t *testing.T) {
	srv, device := setupTestServer(t)
	device.StoreImage("cat (1).gif", tinyGIF(t))

	resp, err := http.Get(srv.URL + "/openmatrix/image")
	require.NoError(t, err)
	defer resp.Body.Close()

	var images []models.ImageDescriptor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&images))
	require.Len(t, images, 6)
	assert.Equal(t, "Image 2", images[1].Name)
	assert.Equal(t, "cat 1", images[5].Name)
	assert.Equal(t, 6, images[5].ID)
}

func TestImageList_Capped(t *testing.T) {
	srv, device := setupTestServer(t)
	for i := 0; i < 40; i++ {
		device.StoreImage(fmt.Sprintf("img%d.gif", i), tinyGIF(t))
	}

	resp, err := http.Get(srv.URL + "/openmatrix/image")
	require.NoError(t, err)
	defer resp.Body.Close()

	var images []models.ImageDescriptor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&images))
	assert.Len(t, images, MaxListedImages)
}

func TestImageSelect(t *testing.T) {
	t.Run("by id", func(t *testing.T) {
		srv, device := setupTestServer(t)
		resp, _ := postJSON(t, srv, http.MethodPost, "/openmatrix/image", `{"id":3}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, models.ImageByID(3), *device.State().Image.Selected)
	})

	t.Run("by name", func(t *testing.T) {
		srv, device := setupTestServer(t)
		resp, _ := postJSON(t, srv, http.MethodPost, "/openmatrix/image", `{"name":"Image 2"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, models.ImageByName("Image 2"), *device.State().Image.Selected)
	})

	t.Run("unknown", func(t *testing.T) {
		srv, device := setupTestServer(t)
		before := device.State()
		resp, _ := postJSON(t, srv, http.MethodPost, "/openmatrix/image", `{"id":99}`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, before, device.State())
	})
}

func TestImagePreview(t *testing.T) {
	srv, device := setupTestServer(t)
	before := device.State()

	resp, _ := postJSON(t, srv, http.MethodPatch, "/openmatrix/image", `{"name":"Image 4"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, before, device.State())

	resp, _ = postJSON(t, srv, http.MethodPatch, "/openmatrix/image", `{"name":"nope"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestImageDelete(t *testing.T) {
	srv, device := setupTestServer(t)

	resp, _ := postJSON(t, srv, http.MethodPost, "/openmatrix/image/delete", `{"name":"Image 1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, device.Images(), 4)
	assert.False(t, device.HasImage(models.ImageByName("Image 1")))

	resp, _ = postJSON(t, srv, http.MethodPost, "/openmatrix/image/delete", `{"name":"Image 1"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestImageUpload(t *testing.T) {
	t.Run("stores gif", func(t *testing.T) {
		srv, device := setupTestServer(t)
		data := tinyGIF(t)

		resp := upload(t, srv, "file", "sunset.gif", data)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		stored, ok := device.ImageData(models.ImageByName("sunset"))
		require.True(t, ok)
		assert.Equal(t, data, stored)
		assert.Len(t, device.Images(), 6)
	})

	t.Run("replaces same name", func(t *testing.T) {
		srv, device := setupTestServer(t)
		upload(t, srv, "file", "sunset.gif", tinyGIF(t))
		upload(t, srv, "file", "sunset.gif", tinyGIF(t))
		assert.Len(t, device.Images(), 6)
	})

	t.Run("rejects non gif", func(t *testing.T) {
		srv, device := setupTestServer(t)
		resp := upload(t, srv, "file", "notes.gif", []byte("hello"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Len(t, device.Images(), 5)
	})

	t.Run("missing field", func(t *testing.T) {
		srv, _ := setupTestServer(t)
		resp := upload(t, srv, "image", "a.gif", tinyGIF(t))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestResets(t *testing.T) {
	srv, device := setupTestServer(t)
	before := device.State()

	resp, _ := postJSON(t, srv, http.MethodPost, "/openmatrix/settings/network/reset", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = postJSON(t, srv, http.MethodPost, "/openmatrix/settings/factory/reset", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 1, device.Resets("network"))
	assert.Equal(t, 1, device.Resets("factory"))
	assert.Equal(t, before, device.State())
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"Image 2.gif":      "Image 2",
		"Image 1":          "Image 1",
		"a(b)[c]{d}|e.gif": "abcde",
		`q?"<>*:x.gif`:     "qx",
		"archive.tar.gif":  "archive.tar",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeName(in), in)
	}
}

func TestLoadSeed(t *testing.T) {
	seed, err := LoadSeed("")
	require.NoError(t, err)
	assert.Len(t, seed.Images, 5)

	_, err = LoadSeed("/does/not/exist.yaml")
	assert.Error(t, err)
}
