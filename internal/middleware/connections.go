package middleware

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// ConnectionsLimiter caps concurrent long-lived connections per client IP.
type ConnectionsLimiter struct {
	mux         sync.Mutex
	connections map[string]int
	limit       int
}

func NewConnectionLimiter(limit int) *ConnectionsLimiter {
	return &ConnectionsLimiter{
		connections: make(map[string]int),
		limit:       limit,
	}
}

// LeaseConnection reserves a slot for ip. The returned release func must be
// called when the connection ends; calling it more than once is harmless.
func (l *ConnectionsLimiter) LeaseConnection(ip string) (release func(), err error) {
	l.mux.Lock()
	defer l.mux.Unlock()
	if l.connections[ip] >= l.limit {
		return nil, fmt.Errorf("you have reached the limit of %d concurrent connections", l.limit)
	}
	l.connections[ip]++
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mux.Lock()
			defer l.mux.Unlock()
			l.connections[ip]--
			if l.connections[ip] <= 0 {
				delete(l.connections, ip)
			}
		})
	}, nil
}

// Active reports how many leases ip currently holds.
func (l *ConnectionsLimiter) Active(ip string) int {
	l.mux.Lock()
	defer l.mux.Unlock()
	return l.connections[ip]
}

// ConnectionsLimit rejects requests over the limit with 429.
func ConnectionsLimit(limiter *ConnectionsLimiter, skipper func(c echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}
			release, err := limiter.LeaseConnection(c.RealIP())
			if err != nil {
				log.WithField("prefix", "ConnectionsLimit").Warnf("%s holds %d connections: %v",
					c.RealIP(), limiter.Active(c.RealIP()), err)
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"ok":    false,
					"error": err.Error(),
				})
			}
			defer release()
			return next(c)
		}
	}
}
