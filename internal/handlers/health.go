package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var readyMetric = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "relay_ready_status",
	Help: "Ready status of the relay (1 = ready, 0 = not ready)",
})

// HealthChecker is implemented by optional dependencies that can be down.
type HealthChecker interface {
	HealthCheck() error
}

// HealthHandler handles liveness and readiness endpoints
type HealthHandler struct {
	checkers []HealthChecker
}

func NewHealthHandler(checkers ...HealthChecker) *HealthHandler {
	return &HealthHandler{
		checkers: checkers,
	}
}

// Register registers health routes
func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/", h.Root)
	e.GET("/health", h.Health)
	e.GET("/ready", h.Ready)
}

// Root is the plain text liveness check kept for existing uptime monitors.
func (h *HealthHandler) Root(c echo.Context) error {
	return c.String(http.StatusOK, "Ko-fi relay is running")
}

func (h *HealthHandler) Health(c echo.Context) error {
	log := log.WithField("prefix", "HealthHandler")
	log.Debug("health check request received")

	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready reports not ready while any optional dependency is down.
func (h *HealthHandler) Ready(c echo.Context) error {
	log := log.WithField("prefix", "ReadyHandler")
	log.Debug("readiness check request received")

	for _, checker := range h.checkers {
		if err := checker.HealthCheck(); err != nil {
			log.Errorf("dependency not ready: %v", err)
			readyMetric.Set(0)
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
		}
	}

	readyMetric.Set(1)
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ready",
	})
}
