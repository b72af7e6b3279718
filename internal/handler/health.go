package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"agent-stream-relay/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// statusBody is the /relay/status response.
type statusBody struct {
	Status             string `json:"status"`
	Version            string `json:"version"`
	AgentURL           string `json:"agent_url"`
	MaxDurationSeconds int    `json:"max_duration_seconds"`
}

// Healthz returns a simple OK response for liveness probes. It never calls
// the agent service.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports the build version and the relay's upstream settings.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusBody{
		Status:             "ok",
		Version:            string(h.version),
		AgentURL:           h.cfg.Agent.Endpoint(),
		MaxDurationSeconds: h.cfg.Server.MaxDurationSeconds,
	})
}
