package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/callmedenchick/kofirelay/internal/models"
)

var mirroredTipsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "number_of_mirrored_tips",
	Help: "The total number of tips published to NATS by result",
}, []string{"result"})

// NatsMirror publishes every normalized tip to a NATS subject for consumers
// that do not hold an SSE or WebSocket connection.
type NatsMirror struct {
	nc      *nats.Conn
	subject string
}

func NewNatsMirror(natsURL, subject string) (*NatsMirror, error) {
	log := log.WithField("prefix", "NewNatsMirror")

	nc, err := nats.Connect(natsURL,
		nats.Name("kofirelay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("disconnected from NATS: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("reconnected to NATS at %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		log.Errorf("failed to connect to NATS: %v", err)
		return nil, err
	}

	log.Infof("mirroring tips to NATS subject %s", subject)
	return &NatsMirror{
		nc:      nc,
		subject: subject,
	}, nil
}

// Mirror publishes the tip as the same JSON object SSE clients receive.
func (m *NatsMirror) Mirror(ctx context.Context, tip models.Tip) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(tip)
	if err != nil {
		mirroredTipsMetric.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to marshal tip: %w", err)
	}
	msg := nats.NewMsg(m.subject)
	msg.Header.Set("Event", models.EventTip)
	msg.Data = data
	if err := m.nc.PublishMsg(msg); err != nil {
		mirroredTipsMetric.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish tip: %w", err)
	}
	mirroredTipsMetric.WithLabelValues("ok").Inc()
	return nil
}

func (m *NatsMirror) HealthCheck() error {
	if !m.nc.IsConnected() {
		return fmt.Errorf("NATS connection is not active: %s", m.nc.Status())
	}
	return nil
}

// Close flushes pending publishes and closes the connection.
func (m *NatsMirror) Close() error {
	if m.nc == nil {
		return nil
	}
	if err := m.nc.Drain(); err != nil {
		m.nc.Close()
		return err
	}
	return nil
}
