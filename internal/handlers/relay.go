package handlers

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/callmedenchick/kofirelay/internal/models"
	"github.com/callmedenchick/kofirelay/internal/relay"
	"github.com/callmedenchick/kofirelay/internal/stream"
	"github.com/callmedenchick/kofirelay/internal/tip"
)

const writeWait = 10 * time.Second

var (
	webhooksMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "number_of_received_webhooks",
		Help: "The total number of webhook calls by outcome",
	}, []string{"outcome"})
	badRequestMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "number_of_bad_requests",
		Help: "The total number of bad requests",
	})
)

// Forwarder hands the raw body to the legacy consumer without blocking.
type Forwarder interface {
	Forward(raw models.RawBody)
}

// RelayHandler serves the webhook ingress and the SSE and WebSocket streams.
type RelayHandler struct {
	sse         *stream.Registry
	ws          *stream.Registry
	broadcaster *relay.Broadcaster
	forwarder   Forwarder
	verifyToken string
	upgrader    websocket.Upgrader
}

// NewRelayHandler wires the ingress to its consumers. A nil ws registry
// disables the WebSocket endpoint.
func NewRelayHandler(sse, ws *stream.Registry, broadcaster *relay.Broadcaster, forwarder Forwarder, verifyToken string) *RelayHandler {
	return &RelayHandler{
		sse:         sse,
		ws:          ws,
		broadcaster: broadcaster,
		forwarder:   forwarder,
		verifyToken: verifyToken,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Register registers relay routes with Echo
func (h *RelayHandler) Register(e *echo.Echo) {
	e.GET("/stream", h.Stream)
	e.POST("/kofihook", h.KofiHook)
	if h.ws != nil {
		e.GET("/ws", h.WebSocket)
	}
}

// KofiHook accepts a Ko-fi webhook and fans it out. Once the tip is
// normalized the caller always gets 200; downstream delivery is best effort.
func (h *RelayHandler) KofiHook(c echo.Context) error {
	ctx := c.Request().Context()
	log := log.WithContext(ctx).WithField("prefix", "KofiHook")

	raw, err := bindRawBody(c)
	if err != nil {
		badRequestMetric.Inc()
		webhooksMetric.WithLabelValues("invalid_body").Inc()
		log.Warnf("unreadable webhook body: %v", err)
		return c.JSON(http.StatusBadRequest, ErrorResponse("invalid body"))
	}

	if !h.tokenMatches(tip.VerificationToken(raw)) {
		webhooksMetric.WithLabelValues("auth_error").Inc()
		log.Warnf("rejected webhook from %s: invalid verification token", c.RealIP())
		return c.JSON(http.StatusForbidden, ErrorResponse("invalid verification token"))
	}

	t, err := tip.Normalize(raw)
	if err != nil {
		badRequestMetric.Inc()
		webhooksMetric.WithLabelValues("validation_error").Inc()
		log.Warnf("rejected webhook: %v", err)
		return c.JSON(http.StatusBadRequest, ErrorResponse("invalid amount"))
	}

	h.broadcaster.Broadcast(ctx, raw, t)
	h.forwarder.Forward(raw)

	webhooksMetric.WithLabelValues("ok").Inc()
	return c.JSON(http.StatusOK, SuccessResponse())
}

// tokenMatches accepts anything when no token is configured.
func (h *RelayHandler) tokenMatches(token string) bool {
	if h.verifyToken == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) == 1
}
