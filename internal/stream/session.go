package stream

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

type Kind string

const (
	KindSSE Kind = "sse"
	KindWS  Kind = "ws"
)

const outboxSize = 16

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowConsumer  = errors.New("session outbox full")
)

// Session represents one live SSE or WebSocket connection. Frames handed to
// Deliver are written by the connection's own pump goroutine. Each outbox
// element is one delivery: all of its frames are queued together or not at all.
type Session struct {
	ID         string
	Kind       Kind
	RemoteAddr string

	messageCh chan [][]byte
	closer    chan struct{}
	once      sync.Once
}

func NewSession(kind Kind, remoteAddr string) *Session {
	return &Session{
		ID:         uuid.NewString(),
		Kind:       kind,
		RemoteAddr: remoteAddr,
		messageCh:  make(chan [][]byte, outboxSize),
		closer:     make(chan struct{}),
	}
}

// Messages returns the read-only channel of deliveries waiting to be written.
func (s *Session) Messages() <-chan [][]byte {
	return s.messageCh
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.closer
}

// Deliver queues frames as a single unit without blocking the caller.
func (s *Session) Deliver(frames ...[]byte) error {
	select {
	case <-s.closer:
		return ErrSessionClosed
	default:
	}
	select {
	case s.messageCh <- frames:
		return nil
	case <-s.closer:
		return ErrSessionClosed
	default:
		return ErrSlowConsumer
	}
}

// Close marks the session closed. The outbox is left open so a concurrent
// Deliver never sends on a closed channel.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.closer)
	})
}
