package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/portside-dev/portside/internal/cache"
	"github.com/portside-dev/portside/internal/gateway"
	"github.com/portside-dev/portside/internal/remote"
)

// StatusHandler serves liveness and gateway statistics.
type StatusHandler struct {
	version     string
	startTime   time.Time
	clients     *gateway.Clients
	registry    *remote.Registry
	statusCache *cache.LRU
}

// NewStatusHandler creates the handler. startTime is captured here, so
// construct it when the process boots.
func NewStatusHandler(version string, clients *gateway.Clients, registry *remote.Registry, statusCache *cache.LRU) *StatusHandler {
	return &StatusHandler{
		version:     version,
		startTime:   time.Now(),
		clients:     clients,
		registry:    registry,
		statusCache: statusCache,
	}
}

// Health reports process liveness
// @Summary Health check
// @Description Returns ok with version and uptime
// @Tags status
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *StatusHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":         "ok",
		"version":        h.version,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}

// Status reports gateway statistics
// @Summary Gateway status
// @Description Returns connected client count, SSH connection count and cache statistics
// @Tags status
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /v1/status [get]
func (h *StatusHandler) Status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"clients":     h.clients.Count(),
		"connections": h.registry.Count(),
		"cache":       h.statusCache.Stats(),
		"uptime":      time.Since(h.startTime).String(),
		"version":     h.version,
	})
}
