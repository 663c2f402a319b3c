package server

import (
	"net/http"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"golang.org/x/time/rate"

	"github.com/callmedenchick/kofirelay/internal/config"
	"github.com/callmedenchick/kofirelay/internal/handlers"
	relaymw "github.com/callmedenchick/kofirelay/internal/middleware"
)

// New builds the public echo instance. registerer receives the HTTP metrics;
// nil means the default prometheus registry.
func New(cfg config.Settings, relay *handlers.RelayHandler, health *handlers.HealthHandler, registerer prometheus.Registerer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		DisableStackAll:   true,
		DisablePrintStack: false,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := log.WithFields(log.Fields{
				"prefix":  "http",
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency.String(),
				"remote":  v.RemoteIP,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("request failed")
				return nil
			}
			entry.Info("request")
			return nil
		},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	if cfg.RPSLimit > 0 {
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Skipper: func(c echo.Context) bool {
				return c.Path() != "/kofihook"
			},
			Store: middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.RPSLimit)),
			DenyHandler: func(c echo.Context, identifier string, err error) error {
				return c.JSON(http.StatusTooManyRequests, handlers.ErrorResponse("rate limit exceeded"))
			},
		}))
	}
	if cfg.ConnectionsLimit > 0 {
		e.Use(relaymw.ConnectionsLimit(relaymw.NewConnectionLimiter(cfg.ConnectionsLimit), func(c echo.Context) bool {
			return c.Path() != "/stream" && c.Path() != "/ws"
		}))
	}

	if cfg.CorsEnable {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{"DNT", "X-CustomHeader", "Keep-Alive", "User-Agent", "X-Requested-With", "If-Modified-Since", "Cache-Control", "Content-Type", "Authorization"},
			MaxAge:       86400,
		}))
	}

	health.Register(e)
	relay.Register(e)

	var existedPaths []string
	for _, r := range e.Routes() {
		existedPaths = append(existedPaths, r.Path)
	}
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "http",
		Registerer: registerer,
		Skipper: func(c echo.Context) bool {
			return !slices.Contains(existedPaths, c.Path())
		},
	}))

	return e
}
