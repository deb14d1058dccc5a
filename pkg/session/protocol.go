package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Path is the WebSocket endpoint served by Server.
const Path = "/v1/session"

// Query parameters carried by the upgrade request. The API key travels in
// the Authorization header as a bearer token.
const (
	paramDeviceID   = "device_id"
	paramDeviceName = "device_name"
)

// WebSocket timings.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 12 << 20
	welcomeTimeout = 10 * time.Second
)

// Frame types.
const (
	frameWelcome      = "welcome"
	frameEvent        = "event"
	framePublish      = "publish"
	frameAck          = "ack"
	frameHeartbeat    = "heartbeat"
	frameHeartbeatAck = "heartbeat_ack"
	frameError        = "error"
)

// envelope is the single JSON message shape on the wire. ID correlates a
// request with its ack, heartbeat_ack or error.
type envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
	// Code is "rate_limited", "closed" or "invalid".
	Code string `json:"code,omitempty"`
}

func newEnvelope(typ, id string, payload any) (envelope, error) {
	env := envelope{Type: typ, ID: id}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	env.Payload = data
	return env, nil
}

func (e envelope) decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s frame has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
