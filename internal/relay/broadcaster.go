package relay

import (
	"context"
	"encoding/json"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/callmedenchick/kofirelay/internal/models"
	"github.com/callmedenchick/kofirelay/internal/stream"
)

var (
	broadcastsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "number_of_broadcast_tips",
		Help: "The total number of tips broadcast",
	})
	deliveredMessagesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "number_of_delivered_messages",
		Help: "The total number of frames queued to connections",
	}, []string{"kind"})
	failedDeliveriesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "number_of_failed_deliveries",
		Help: "The total number of frames that could not be queued to a connection",
	}, []string{"kind"})
)

// Mirror is an additional best-effort consumer of normalized tips.
type Mirror interface {
	Mirror(ctx context.Context, tip models.Tip) error
}

type Broadcaster struct {
	sse    *stream.Registry
	ws     *stream.Registry
	mirror Mirror
}

// NewBroadcaster fans tips out to the given registries. ws and mirror are
// optional and may be nil.
func NewBroadcaster(sse, ws *stream.Registry, mirror Mirror) *Broadcaster {
	return &Broadcaster{
		sse:    sse,
		ws:     ws,
		mirror: mirror,
	}
}

// Report summarizes one broadcast. Counts are per session, not per frame.
type Report struct {
	SSEDelivered int
	WSDelivered  int
	Failed       int
	Mirrored     bool
}

// Broadcast queues the tip on every session registered at call time. A
// session that cannot take the frames is skipped; its own close handler
// reaps it.
func (b *Broadcaster) Broadcast(ctx context.Context, raw models.RawBody, tip models.Tip) Report {
	log := log.WithField("prefix", "Broadcaster.Broadcast")
	broadcastsMetric.Inc()

	var report Report
	tipJSON, err := json.Marshal(tip)
	if err != nil {
		log.Errorf("failed to encode tip: %v", err)
		return report
	}

	report.SSEDelivered, report.Failed = deliver(b.sse, models.SseFrame(models.EventTip, tipJSON))

	if b.ws != nil {
		if frames, err := wsFrames(raw, tip); err != nil {
			log.Errorf("failed to encode websocket frames: %v", err)
		} else {
			delivered, failed := deliver(b.ws, frames...)
			report.WSDelivered = delivered
			report.Failed += failed
		}
	}

	if b.mirror != nil {
		if err := b.mirror.Mirror(ctx, tip); err != nil {
			log.Warnf("failed to mirror tip: %v", err)
		} else {
			report.Mirrored = true
		}
	}

	log.Infof("tip %.2f from %q: sse=%d ws=%d failed=%d", tip.Amount, tip.FromName,
		report.SSEDelivered, report.WSDelivered, report.Failed)
	return report
}

// wsFrames builds the raw envelope followed by the tip envelope. The raw
// envelope is dropped if the body cannot be encoded; the tip envelope is required.
func wsFrames(raw models.RawBody, tip models.Tip) ([][]byte, error) {
	var frames [][]byte
	if rawFrame, err := json.Marshal(models.WsRaw{Type: models.EventRaw, Body: raw}); err != nil {
		log.WithField("prefix", "Broadcaster.wsFrames").Warnf("failed to encode raw envelope: %v", err)
	} else {
		frames = append(frames, rawFrame)
	}
	tipFrame, err := json.Marshal(models.WsTip{Type: models.EventTip, Tip: tip})
	if err != nil {
		return nil, err
	}
	return append(frames, tipFrame), nil
}

// deliver queues frames on every session as one unit, so a session gets
// all of them or none.
func deliver(r *stream.Registry, frames ...[]byte) (delivered, failed int) {
	kind := string(r.Kind())
	r.ForEach(func(s *stream.Session) {
		if err := s.Deliver(frames...); err != nil {
			failedDeliveriesMetric.WithLabelValues(kind).Inc()
			log.WithField("prefix", "Broadcaster.deliver").Debugf("session %s: %v", s.ID, err)
			failed++
			return
		}
		deliveredMessagesMetric.WithLabelValues(kind).Add(float64(len(frames)))
		delivered++
	})
	return delivered, failed
}
