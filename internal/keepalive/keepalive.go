// Package keepalive runs per-connection heartbeats so idle SSE and WebSocket
// connections survive proxies that drop quiet sockets.
package keepalive

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	heartbeatsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "number_of_heartbeats",
		Help: "The total number of heartbeats sent",
	})
	heartbeatFailuresMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "number_of_failed_heartbeats",
		Help: "The total number of heartbeats that could not be written",
	})
)

type Scheduler struct {
	interval time.Duration
	clock    clockwork.Clock
}

func NewScheduler(interval time.Duration, clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		interval: interval,
		clock:    clock,
	}
}

func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Ticket is a running heartbeat owned by one connection.
type Ticket struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Schedule calls beat every interval until the returned ticket is stopped.
// A failing beat is logged and the schedule keeps running; tearing the
// connection down is its owner's job.
func (s *Scheduler) Schedule(beat func() error) *Ticket {
	t := &Ticket{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	ticker := s.clock.NewTicker(s.interval)
	go func() {
		defer close(t.done)
		defer ticker.Stop()
		log := log.WithField("prefix", "keepalive.Schedule")
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.Chan():
				if err := beat(); err != nil {
					heartbeatFailuresMetric.Inc()
					log.Debugf("heartbeat failed: %v", err)
					continue
				}
				heartbeatsMetric.Inc()
			}
		}
	}()
	return t
}

// Stop cancels the heartbeat and waits for an in-flight beat to return.
// It is safe to call more than once but must not be called from beat.
func (t *Ticket) Stop() {
	t.once.Do(func() {
		close(t.stop)
	})
	<-t.done
}
