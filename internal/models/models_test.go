package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSseFrame(t *testing.T) {
	assert.Equal(t, "event: hello\ndata: {\"ok\":true}\n\n", string(SseHello))
	assert.Equal(t, "event: ping\ndata: {}\n\n", string(SsePing))

	tip, err := json.Marshal(Tip{Amount: 3.5, FromName: "Bob", Message: "thanks"})
	require.NoError(t, err)
	assert.Equal(t,
		"event: kofi_tip\ndata: {\"amount\":3.5,\"from_name\":\"Bob\",\"message\":\"thanks\"}\n\n",
		string(SseFrame(EventTip, tip)))
}

func TestWsEnvelopes(t *testing.T) {
	b, err := WsHelloFrame()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"hello","ok":true}`, string(b))

	b, err = json.Marshal(WsTip{Type: EventTip, Tip: Tip{Amount: 5, FromName: "Alice"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"kofi_tip","tip":{"amount":5,"from_name":"Alice","message":""}}`, string(b))

	b, err = json.Marshal(WsRaw{Type: EventRaw, Body: RawBody{"amount": "5"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"kofi_raw","body":{"amount":"5"}}`, string(b))
}
