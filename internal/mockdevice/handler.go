package mockdevice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image/gif"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/koios/openmatrix/internal/imaging"
	"github.com/koios/openmatrix/pkg/models"
)

// maxUploadBody bounds the multipart request, leaving room for headers
const maxUploadBody = imaging.MaxEncodedSize + 64*1024

// Handler serves the device HTTP API
type Handler struct {
	device   *Device
	validate *validator.Validate
	logger   *zap.Logger
	started  time.Time
}

// NewHandler creates a new device API handler
func NewHandler(device *Device, logger *zap.Logger) *Handler {
	return &Handler{
		device:   device,
		validate: validator.New(),
		logger:   logger,
		started:  time.Now(),
	}
}

// Router returns a chi router with the device API mounted under /openmatrix
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/health", h.handleHealth)
	r.Route("/openmatrix", h.RegisterRoutes)
	return r
}

// RegisterRoutes registers the device routes on r
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/state", h.handleState)
	r.Post("/power", h.handlePower)
	r.Post("/autobrightness", h.handleAutoBrightness)
	r.Post("/brightness", h.handleBrightness)
	r.Post("/mode", h.handleMode)
	r.Post("/effect", h.handleEffect)
	r.Post("/effect/settings", h.handleEffectSettings)
	r.Get("/image", h.handleImageList)
	r.Post("/image", h.handleImageSelect)
	r.Patch("/image", h.handleImagePreview)
	r.Post("/image/delete", h.handleImageDelete)
	r.Post("/imageupload", h.handleImageUpload)
	r.Post("/text", h.handleText)
	r.Post("/settings/mqtt", h.handleMQTTSettings)
	r.Post("/settings/edmx", h.handleEDMXSettings)
	r.Post("/settings/hass", h.handleHASSSettings)
	r.Post("/settings/network/reset", h.handleReset("network"))
	r.Post("/settings/factory/reset", h.handleReset("factory"))
}

type powerRequest struct {
	Power *bool `json:"power" validate:"required"`
}

type autoBrightnessRequest struct {
	AutoBrightness *bool `json:"autobrightness" validate:"required"`
}

type brightnessRequest struct {
	Brightness *int `json:"brightness" validate:"required,min=0,max=100"`
}

type modeRequest struct {
	Mode *models.Mode `json:"mode" validate:"required,min=0,max=3"`
}

type effectRequest struct {
	Effect *int `json:"effect" validate:"required,min=0"`
}

type effectSettingsRequest struct {
	EffectID *int                  `json:"effectId" validate:"required,min=0"`
	Settings models.EffectSettings `json:"settings" validate:"required"`
}

type imageRequest struct {
	ID   *int    `json:"id" validate:"required_without=Name"`
	Name *string `json:"name" validate:"required_without=ID"`
}

func (r imageRequest) ref() models.ImageRef {
	if r.Name != nil && *r.Name != "" {
		return models.ImageByName(*r.Name)
	}
	if r.ID != nil {
		return models.ImageByID(*r.ID)
	}
	return models.ImageByName("")
}

type deleteRequest struct {
	Name string `json:"name" validate:"required"`
}

type textRequest struct {
	Payload *string          `json:"payload" validate:"required,max=256"`
	Size    *models.TextSize `json:"size" validate:"required,min=0,max=2"`
}

// handleHealth handles GET /health - returns service health status
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"service":        "openmatrix-mock",
		"uptime":         time.Since(h.started).Round(time.Second).String(),
		"images":         len(h.device.Images()),
		"network_resets": h.device.Resets("network"),
		"factory_resets": h.device.Resets("factory"),
	})
}

// handleState handles GET /openmatrix/state
func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.device.State())
}

func (h *Handler) handlePower(w http.ResponseWriter, r *http.Request) {
	var req powerRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.device.Update(func(s *models.DeviceState) { s.Power = req.Power })
	h.ack(w)
}

func (h *Handler) handleAutoBrightness(w http.ResponseWriter, r *http.Request) {
	var req autoBrightnessRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.device.Update(func(s *models.DeviceState) { s.AutoBrightness = req.AutoBrightness })
	h.ack(w)
}

func (h *Handler) handleBrightness(w http.ResponseWriter, r *http.Request) {
	var req brightnessRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.device.Update(func(s *models.DeviceState) { s.Brightness = req.Brightness })
	h.ack(w)
}

func (h *Handler) handleMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.device.Update(func(s *models.DeviceState) { s.Mode = req.Mode })
	h.ack(w)
}

func (h *Handler) handleEffect(w http.ResponseWriter, r *http.Request) {
	var req effectRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.device.Update(func(s *models.DeviceState) {
		if s.Effects == nil {
			s.Effects = &models.EffectsState{}
		}
		s.Effects.Selected = req.Effect
	})
	h.ack(w)
}

func (h *Handler) handleEffectSettings(w http.ResponseWriter, r *http.Request) {
	var req effectSettingsRequest
	if !h.decode(w, r, &req) {
		return
	}
	key := fmt.Sprint(*req.EffectID)
	h.device.Update(func(s *models.DeviceState) {
		if s.Effects == nil {
			s.Effects = &models.EffectsState{}
		}
		if s.Effects.Settings == nil {
			s.Effects.Settings = make(map[string]models.EffectSettings)
		}
		merged := s.Effects.Settings[key].Clone()
		if merged == nil {
			merged = models.EffectSettings{}
		}
		for k, v := range req.Settings {
			merged[k] = v
		}
		s.Effects.Settings[key] = merged
	})
	h.ack(w)
}

// handleImageList handles GET /openmatrix/image
func (h *Handler) handleImageList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.device.Images())
}

func (h *Handler) handleImageSelect(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if !h.decode(w, r, &req) {
		return
	}
	ref := req.ref()
	if !h.device.HasImage(ref) {
		writeJSON(w, http.StatusNotFound, models.ErrorBody{Message: "Image not found"})
		return
	}
	h.device.Update(func(s *models.DeviceState) {
		s.Image = &models.ImageState{Selected: &ref}
	})
	h.ack(w)
}

func (h *Handler) handleImagePreview(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if !h.decode(w, r, &req) {
		return
	}
	ref := req.ref()
	if !h.device.HasImage(ref) {
		writeJSON(w, http.StatusNotFound, models.ErrorBody{Message: "Image not found"})
		return
	}
	h.logger.Info("Previewing image", zap.String("image", ref.String()))
	h.ack(w)
}

func (h *Handler) handleImageDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.device.DeleteImage(req.Name) {
		writeJSON(w, http.StatusNotFound, models.ErrorBody{Message: "Image not found"})
		return
	}
	h.ack(w)
}

// handleImageUpload handles POST /openmatrix/imageupload with a multipart
// "file" field holding a GIF.
func (h *Handler) handleImageUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, models.ErrorBody{Message: "File too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, models.ErrorBody{Message: "Missing file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorBody{Message: "Failed to read file"})
		return
	}
	if len(data) > imaging.MaxEncodedSize {
		writeJSON(w, http.StatusRequestEntityTooLarge, models.ErrorBody{Message: "File too large"})
		return
	}
	if _, err := gif.DecodeConfig(bytes.NewReader(data)); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorBody{Message: "File is not a GIF"})
		return
	}

	name := path.Base(strings.ReplaceAll(header.Filename, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		writeJSON(w, http.StatusBadRequest, models.ErrorBody{Message: "Missing file name"})
		return
	}

	desc := h.device.StoreImage(name, data)
	h.logger.Info("Stored image",
		zap.String("name", desc.Name),
		zap.Int("id", desc.ID),
		zap.Int64("size", desc.Size))
	h.ack(w)
}

func (h *Handler) handleText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.device.Update(func(s *models.DeviceState) {
		s.Text = &models.TextState{Payload: *req.Payload, Size: *req.Size}
	})
	h.ack(w)
}

func (h *Handler) handleMQTTSettings(w http.ResponseWriter, r *http.Request) {
	var req models.MQTTSettings
	if !h.decode(w, r, &req) {
		return
	}
	h.device.Update(func(s *models.DeviceState) {
		s.Settings = withSettings(s.Settings)
		s.Settings.MQTT = &req
	})
	h.ack(w)
}

func (h *Handler) handleEDMXSettings(w http.ResponseWriter, r *http.Request) {
	var req models.EDMXSettings
	if !h.decode(w, r, &req) {
		return
	}
	h.device.Update(func(s *models.DeviceState) {
		s.Settings = withSettings(s.Settings)
		s.Settings.EDMX = &req
	})
	h.ack(w)
}

func (h *Handler) handleHASSSettings(w http.ResponseWriter, r *http.Request) {
	var req models.HASSSettings
	if !h.decode(w, r, &req) {
		return
	}
	h.device.Update(func(s *models.DeviceState) {
		s.Settings = withSettings(s.Settings)
		s.Settings.HASS = &req
	})
	h.ack(w)
}

func (h *Handler) handleReset(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.device.RecordReset(kind)
		h.logger.Info("Reset requested", zap.String("kind", kind))
		h.ack(w)
	}
}

// decode reads a JSON body into v and validates it, writing the error
// response itself when it fails.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.logger.Debug("Invalid JSON body", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusBadRequest, models.ErrorBody{Message: "Invalid JSON"})
		return false
	}

	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, models.ErrorBody{Message: err.Error()})
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		writeJSON(w, http.StatusBadRequest, models.ErrorBody{Message: "Validation failed", Fields: fields})
		return false
	}
	return true
}

func (h *Handler) ack(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, models.OK())
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("Handled request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func withSettings(s *models.Settings) *models.Settings {
	if s == nil {
		return &models.Settings{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
