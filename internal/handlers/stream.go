package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/callmedenchick/kofirelay/internal/models"
	"github.com/callmedenchick/kofirelay/internal/stream"
)

const maxClientMessageSize = 4096

// Stream serves the SSE feed consumed by the browser overlay.
func (h *RelayHandler) Stream(c echo.Context) error {
	log := log.WithField("prefix", "StreamHandler")

	if _, ok := c.Response().Writer.(http.Flusher); !ok {
		return c.JSON(http.StatusInternalServerError, ErrorResponse("streaming unsupported"))
	}

	h.setSSEHeaders(c)
	res := c.Response()
	if _, err := res.Write(models.SseHello); err != nil {
		log.Debugf("failed to write hello: %v", err)
		return nil
	}
	res.Flush()

	session := stream.NewSession(stream.KindSSE, c.RealIP())
	h.sse.Register(session, func() error {
		return session.Deliver(models.SsePing)
	})
	defer func() {
		h.sse.Unregister(session)
		session.Close()
	}()

	ctx := c.Request().Context()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-session.Done():
			break loop
		case frames := <-session.Messages():
			for _, frame := range frames {
				if _, err := res.Write(frame); err != nil {
					log.Debugf("session %s: write failed: %v", session.ID, err)
					break loop
				}
			}
			res.Flush()
		}
	}
	log.Infof("sse session %s closed", session.ID)
	return nil
}

func (h *RelayHandler) setSSEHeaders(c echo.Context) {
	header := c.Response().Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	header.Set(echo.HeaderAccessControlAllowOrigin, "*")
	c.Response().WriteHeader(http.StatusOK)
}

// WebSocket serves the automation bridge. Frames queued on the session are
// written by this goroutine; pings go out as control frames from the
// keep-alive scheduler, which gorilla allows concurrently with writes.
func (h *RelayHandler) WebSocket(c echo.Context) error {
	log := log.WithField("prefix", "WebSocketHandler")

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warnf("websocket upgrade failed: %v", err)
		return nil
	}
	defer conn.Close()

	hello, err := models.WsHelloFrame()
	if err != nil {
		log.Errorf("failed to encode hello: %v", err)
		return nil
	}
	session := stream.NewSession(stream.KindWS, c.RealIP())
	_ = session.Deliver(hello)
	h.ws.Register(session, func() error {
		return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
	})
	defer func() {
		h.ws.Unregister(session)
		session.Close()
	}()

	go readPump(conn, session)
	writePump(conn, session)
	log.Infof("ws session %s closed", session.ID)
	return nil
}

// readPump discards client messages and closes the session once the
// connection is gone.
func readPump(conn *websocket.Conn, session *stream.Session) {
	defer session.Close()
	conn.SetReadLimit(maxClientMessageSize)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithField("prefix", "readPump").Debugf("session %s: %v", session.ID, err)
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, session *stream.Session) {
	log := log.WithField("prefix", "writePump")
	for {
		select {
		case <-session.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		case frames := <-session.Messages():
			for _, frame := range frames {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					log.Debugf("session %s: write failed: %v", session.ID, err)
					return
				}
			}
		}
	}
}
