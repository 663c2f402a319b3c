package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RawBody is the inbound webhook payload exactly as decoded from the request.
type RawBody map[string]any

// Tip is the normalized form of one donation event.
type Tip struct {
	Amount   float64 `json:"amount"`
	FromName string  `json:"from_name"`
	Message  string  `json:"message"`
}

const (
	EventHello = "hello"
	EventPing  = "ping"
	EventTip   = "kofi_tip"
	EventRaw   = "kofi_raw"
)

// SseFrame renders a named SSE event with a single data line.
func SseFrame(event string, data []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "event: %s\ndata: %s\n\n", event, data)
	return b.Bytes()
}

type WsHello struct {
	Type string `json:"type"`
	OK   bool   `json:"ok"`
}

type WsRaw struct {
	Type string  `json:"type"`
	Body RawBody `json:"body"`
}

type WsTip struct {
	Type string `json:"type"`
	Tip  Tip    `json:"tip"`
}

var (
	SseHello = SseFrame(EventHello, []byte(`{"ok":true}`))
	SsePing  = SseFrame(EventPing, []byte(`{}`))
)

func WsHelloFrame() ([]byte, error) {
	return json.Marshal(WsHello{Type: EventHello, OK: true})
}
