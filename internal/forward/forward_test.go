package forward

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callmedenchick/kofirelay/internal/models"
)

func TestForward_PostsRawBody(t *testing.T) {
	received := make(chan []byte, 1)
	legacy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		received <- body
	}))
	t.Cleanup(legacy.Close)

	f := NewForwarder(legacy.URL, nil)
	raw := models.RawBody{"data": `{"amount":5}`, "verification_token": "abc", "amount": json.Number("5.00")}
	f.Forward(raw)

	select {
	case body := <-received:
		assert.JSONEq(t, `{"data":"{\"amount\":5}","verification_token":"abc","amount":5.00}`, string(body))
	case <-time.After(2 * time.Second):
		t.Fatal("legacy consumer never received the body")
	}
	require.NoError(t, f.Wait(context.Background()))
}

func TestForward_FailuresAreSwallowed(t *testing.T) {
	legacy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(legacy.Close)

	f := NewForwarder(legacy.URL, nil)
	f.Forward(models.RawBody{"amount": 1})
	require.NoError(t, f.Wait(context.Background()))

	err := f.send(context.Background(), models.RawBody{"amount": 1})
	assert.ErrorContains(t, err, "bad status code: 502")
}

func TestForward_NetworkError(t *testing.T) {
	legacy := httptest.NewServer(http.NotFoundHandler())
	url := legacy.URL
	legacy.Close()

	f := NewForwarder(url, nil)
	err := f.send(context.Background(), models.RawBody{"amount": 1})
	assert.Error(t, err)

	f.Forward(models.RawBody{"amount": 1})
	require.NoError(t, f.Wait(context.Background()))
}

func TestForward_WaitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	legacy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(legacy.Close)
	t.Cleanup(func() { close(release) })

	f := NewForwarder(legacy.URL, nil)
	f.Forward(models.RawBody{"amount": 1})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.Wait(ctx), context.DeadlineExceeded)
}
