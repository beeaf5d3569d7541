package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/koios/openmatrix/internal/mirror"
	"github.com/koios/openmatrix/pkg/models"
)

// maxCommandBody bounds POST /api/commands bodies
const maxCommandBody = 64 * 1024

// APIHandler serves the bridge's local control API: the mirrored state and
// a command endpoint.
type APIHandler struct {
	mirror   *mirror.Mirror
	commands *CommandHandler
	logger   *zap.Logger
	started  time.Time
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(m *mirror.Mirror, commands *CommandHandler, logger *zap.Logger) *APIHandler {
	return &APIHandler{
		mirror:   m,
		commands: commands,
		logger:   logger,
		started:  time.Now(),
	}
}

// Router returns a chi router serving the API
func (h *APIHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleHealth)
	r.Route("/api", h.RegisterRoutes)
	return r
}

// RegisterRoutes registers the API routes
func (h *APIHandler) RegisterRoutes(r chi.Router) {
	r.Get("/state", h.handleState)
	r.Get("/images", h.handleImages)
	r.Get("/snapshot", h.handleSnapshot)
	r.Post("/commands", h.handleCommand)
}

// handleHealth handles GET /health - reports whether the device state is known
func (h *APIHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "healthy",
		"service":      "openmatrix-bridge",
		"device_known": !h.mirror.State().IsEmpty(),
		"uptime":       time.Since(h.started).Round(time.Second).String(),
	})
}

// handleState handles GET /api/state
func (h *APIHandler) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mirror.State())
}

// handleImages handles GET /api/images
func (h *APIHandler) handleImages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mirror.Images())
}

// handleSnapshot handles GET /api/snapshot
func (h *APIHandler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mirror.Snapshot())
}

// handleCommand handles POST /api/commands - forwards a command to the device
func (h *APIHandler) handleCommand(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCommandBody)

	var cmd models.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		h.logger.Debug("Invalid command body", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, models.ErrorBody{Message: "Invalid JSON"})
		return
	}
	if cmd.UUID == "" {
		cmd.UUID = uuid.NewString()
	}

	result, err := h.commands.Handle(r.Context(), &cmd)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, ErrInvalidCommand):
		writeJSON(w, http.StatusBadRequest, result)
	default:
		writeJSON(w, http.StatusBadGateway, result)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
