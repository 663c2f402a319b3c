package stream

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/callmedenchick/kofirelay/internal/keepalive"
)

var activeConnectionMetric = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "number_of_active_connections",
	Help: "The number of active connections",
}, []string{"kind"})

// Registry tracks the open sessions of one transport kind. Each registered
// session owns a heartbeat that lives exactly as long as its registration.
type Registry struct {
	kind      Kind
	scheduler *keepalive.Scheduler

	mux      sync.RWMutex
	sessions map[*Session]*keepalive.Ticket
}

func NewRegistry(kind Kind, scheduler *keepalive.Scheduler) *Registry {
	return &Registry{
		kind:      kind,
		scheduler: scheduler,
		sessions:  make(map[*Session]*keepalive.Ticket),
	}
}

func (r *Registry) Kind() Kind {
	return r.kind
}

// Register adds the session and starts its heartbeat. Registering the same
// session twice is a no-op.
func (r *Registry) Register(s *Session, beat func() error) {
	log := log.WithField("prefix", "Registry.Register")

	r.mux.Lock()
	defer r.mux.Unlock()
	if _, ok := r.sessions[s]; ok {
		return
	}
	r.sessions[s] = r.scheduler.Schedule(beat)
	activeConnectionMetric.WithLabelValues(string(r.kind)).Inc()
	log.Infof("%s session %s registered from %s", r.kind, s.ID, s.RemoteAddr)
}

// Unregister removes the session and stops its heartbeat before returning.
// It reports whether the session was registered.
func (r *Registry) Unregister(s *Session) bool {
	log := log.WithField("prefix", "Registry.Unregister")

	r.mux.Lock()
	ticket, ok := r.sessions[s]
	if ok {
		delete(r.sessions, s)
	}
	r.mux.Unlock()
	if !ok {
		return false
	}

	ticket.Stop()
	activeConnectionMetric.WithLabelValues(string(r.kind)).Dec()
	log.Infof("%s session %s unregistered", r.kind, s.ID)
	return true
}

// ForEach calls fn for every session registered when the call started.
// fn may register or unregister sessions.
func (r *Registry) ForEach(fn func(*Session)) {
	for _, s := range r.snapshot() {
		fn(s)
	}
}

func (r *Registry) Len() int {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return len(r.sessions)
}

// CloseAll unregisters and closes every session. Used at shutdown.
func (r *Registry) CloseAll() {
	for _, s := range r.snapshot() {
		r.Unregister(s)
		s.Close()
	}
}

func (r *Registry) snapshot() []*Session {
	r.mux.RLock()
	defer r.mux.RUnlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}
