package relay

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callmedenchick/kofirelay/internal/keepalive"
	"github.com/callmedenchick/kofirelay/internal/models"
	"github.com/callmedenchick/kofirelay/internal/stream"
)

type fakeMirror struct {
	tips []models.Tip
	err  error
}

func (m *fakeMirror) Mirror(_ context.Context, tip models.Tip) error {
	m.tips = append(m.tips, tip)
	return m.err
}

func newRegistries() (*stream.Registry, *stream.Registry) {
	scheduler := keepalive.NewScheduler(25*time.Second, clockwork.NewFakeClock())
	return stream.NewRegistry(stream.KindSSE, scheduler), stream.NewRegistry(stream.KindWS, scheduler)
}

func register(r *stream.Registry, kind stream.Kind) *stream.Session {
	s := stream.NewSession(kind, "")
	r.Register(s, func() error { return nil })
	return s
}

func drain(s *stream.Session) []string {
	var frames []string
	for {
		select {
		case batch := <-s.Messages():
			for _, f := range batch {
				frames = append(frames, string(f))
			}
		default:
			return frames
		}
	}
}

func TestBroadcast_ReachesEverySession(t *testing.T) {
	sse, ws := newRegistries()
	s1 := register(sse, stream.KindSSE)
	s2 := register(sse, stream.KindSSE)
	w1 := register(ws, stream.KindWS)

	raw := models.RawBody{"amount": "3.50", "from": "Bob", "note": "thanks"}
	tip := models.Tip{Amount: 3.5, FromName: "Bob", Message: "thanks"}
	report := NewBroadcaster(sse, ws, nil).Broadcast(context.Background(), raw, tip)

	assert.Equal(t, Report{SSEDelivered: 2, WSDelivered: 1}, report)

	want := "event: kofi_tip\ndata: {\"amount\":3.5,\"from_name\":\"Bob\",\"message\":\"thanks\"}\n\n"
	assert.Equal(t, []string{want}, drain(s1))
	assert.Equal(t, []string{want}, drain(s2))

	frames := drain(w1)
	require.Len(t, frames, 2)
	assert.JSONEq(t, `{"type":"kofi_raw","body":{"amount":"3.50","from":"Bob","note":"thanks"}}`, frames[0])
	assert.JSONEq(t, `{"type":"kofi_tip","tip":{"amount":3.5,"from_name":"Bob","message":"thanks"}}`, frames[1])
}

func TestBroadcast_IsolatesFailedSessions(t *testing.T) {
	sse, ws := newRegistries()
	before := register(sse, stream.KindSSE)
	broken := register(sse, stream.KindSSE)
	after := register(sse, stream.KindSSE)
	broken.Close()

	full := register(ws, stream.KindWS)
	for full.Deliver([]byte("filler")) == nil {
	}
	healthy := register(ws, stream.KindWS)

	report := NewBroadcaster(sse, ws, nil).Broadcast(context.Background(), models.RawBody{}, models.Tip{Amount: 1})

	assert.Equal(t, 2, report.SSEDelivered)
	assert.Equal(t, 1, report.WSDelivered)
	assert.Equal(t, 2, report.Failed)
	assert.Len(t, drain(before), 1)
	assert.Len(t, drain(after), 1)
	assert.Len(t, drain(healthy), 2)
}

func TestBroadcast_WebSocketFramesQueuedTogether(t *testing.T) {
	sse, ws := newRegistries()
	nearlyFull := register(ws, stream.KindWS)
	for i := 0; i < 15; i++ {
		require.NoError(t, nearlyFull.Deliver([]byte("filler")))
	}
	full := register(ws, stream.KindWS)
	for full.Deliver([]byte("filler")) == nil {
	}

	report := NewBroadcaster(sse, ws, nil).Broadcast(context.Background(), models.RawBody{"amount": 1}, models.Tip{Amount: 1})

	assert.Equal(t, 1, report.WSDelivered)
	assert.Equal(t, 1, report.Failed)

	frames := drain(nearlyFull)
	require.Len(t, frames, 17)
	assert.JSONEq(t, `{"type":"kofi_raw","body":{"amount":1}}`, frames[15])
	assert.JSONEq(t, `{"type":"kofi_tip","tip":{"amount":1,"from_name":"","message":""}}`, frames[16])

	for _, f := range drain(full) {
		assert.Equal(t, "filler", f, "a full session gets neither envelope")
	}
}

func TestBroadcast_SessionRegisteredLaterMissesEvent(t *testing.T) {
	sse, ws := newRegistries()
	b := NewBroadcaster(sse, ws, nil)
	b.Broadcast(context.Background(), models.RawBody{}, models.Tip{Amount: 1})

	late := register(sse, stream.KindSSE)
	assert.Empty(t, drain(late))
}

func TestBroadcast_WithoutWebSocketRegistry(t *testing.T) {
	sse, _ := newRegistries()
	s := register(sse, stream.KindSSE)

	report := NewBroadcaster(sse, nil, nil).Broadcast(context.Background(), models.RawBody{}, models.Tip{Amount: 2})

	assert.Equal(t, 1, report.SSEDelivered)
	assert.Zero(t, report.WSDelivered)
	assert.Len(t, drain(s), 1)
}

func TestBroadcast_Mirror(t *testing.T) {
	sse, ws := newRegistries()
	tip := models.Tip{Amount: 5, FromName: "Alice"}

	mirror := &fakeMirror{}
	report := NewBroadcaster(sse, ws, mirror).Broadcast(context.Background(), models.RawBody{}, tip)
	assert.True(t, report.Mirrored)
	assert.Equal(t, []models.Tip{tip}, mirror.tips)

	failing := &fakeMirror{err: errors.New("nats down")}
	report = NewBroadcaster(sse, ws, failing).Broadcast(context.Background(), models.RawBody{}, tip)
	assert.False(t, report.Mirrored)
}

func TestBroadcast_EncodesTipOnce(t *testing.T) {
	sse, _ := newRegistries()
	a := register(sse, stream.KindSSE)
	b := register(sse, stream.KindSSE)

	NewBroadcaster(sse, nil, nil).Broadcast(context.Background(), models.RawBody{}, models.Tip{Amount: 1})

	fa := (<-a.Messages())[0]
	fb := (<-b.Messages())[0]
	assert.Same(t, &fa[0], &fb[0], "sessions share one encoded frame")

	var tip models.Tip
	data := string(fa)
	const prefix = "event: kofi_tip\ndata: "
	require.Contains(t, data, prefix)
	require.NoError(t, json.Unmarshal([]byte(data[len(prefix):len(data)-2]), &tip))
	assert.Equal(t, 1.0, tip.Amount)
}

func TestWsFrames(t *testing.T) {
	frames, err := wsFrames(models.RawBody{"amount": math.Inf(1)}, models.Tip{Amount: 1})
	require.NoError(t, err)
	require.Len(t, frames, 1, "unencodable raw body drops only the raw envelope")
	assert.JSONEq(t, `{"type":"kofi_tip","tip":{"amount":1,"from_name":"","message":""}}`, string(frames[0]))

	_, err = wsFrames(models.RawBody{}, models.Tip{Amount: math.NaN()})
	assert.Error(t, err)
}
