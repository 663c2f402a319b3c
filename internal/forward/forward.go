package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/callmedenchick/kofirelay/internal/models"
)

var forwardedMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "number_of_forwarded_webhooks",
	Help: "The total number of legacy webhook forwards by result",
}, []string{"result"})

// Forwarder relays raw webhook bodies to the legacy consumer. Delivery is
// attempted once; nothing is retried or queued.
type Forwarder struct {
	url    string
	client *http.Client
	wg     sync.WaitGroup
}

func NewForwarder(url string, client *http.Client) *Forwarder {
	if client == nil {
		client = http.DefaultClient
	}
	return &Forwarder{
		url:    url,
		client: client,
	}
}

// Forward posts raw in the background and returns immediately.
func (f *Forwarder) Forward(raw models.RawBody) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		log := log.WithField("prefix", "Forwarder.Forward")
		if err := f.send(context.Background(), raw); err != nil {
			forwardedMetric.WithLabelValues("error").Inc()
			log.Warnf("legacy forward to %s failed: %v", f.url, err)
			return
		}
		forwardedMetric.WithLabelValues("ok").Inc()
		log.Debugf("legacy forward to %s delivered", f.url)
	}()
}

// Wait blocks until in-flight forwards finish or ctx is done.
func (f *Forwarder) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Forwarder) send(ctx context.Context, raw models.RawBody) error {
	postBody, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(postBody))
	if err != nil {
		return fmt.Errorf("failed to init request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed send request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, res.Body)
		if closeErr := res.Body.Close(); closeErr != nil {
			log.Errorf("failed to close response body: %v", closeErr)
		}
	}()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("bad status code: %v", res.StatusCode)
	}
	return nil
}
