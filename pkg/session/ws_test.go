package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bigwills27/Klipy/pkg/model"
)

func newTestServer(t *testing.T) (*Hub, *WSTransport) {
	t.Helper()
	h := newTestHub(t)
	srv := httptest.NewServer(NewServer(NewLocalTransport(h), nil).Handler())
	t.Cleanup(srv.Close)
	return h, NewWSTransport(srv.URL, nil)
}

func TestWSEndpoint(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"http://hub:7780", "ws://hub:7780/v1/session?device_id=d1&device_name=My+Mac"},
		{"https://hub.example.com/", "wss://hub.example.com/v1/session?device_id=d1&device_name=My+Mac"},
		{"ws://hub:7780/custom", "ws://hub:7780/custom?device_id=d1&device_name=My+Mac"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := NewWSTransport(tt.url, nil).endpoint(JoinParams{DeviceID: "d1", DeviceName: "My Mac"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := NewWSTransport("ftp://hub", nil).endpoint(JoinParams{DeviceID: "d1"})
	assert.Error(t, err)
}

func TestWSTransportRoundTrip(t *testing.T) {
	_, tr := newTestServer(t)

	a := join(t, tr, "device_a")
	b := join(t, tr, "device_b")
	assert.Equal(t, "u_ada", a.Welcome().Identity.UserID)
	assert.NotEmpty(t, a.Handle())

	publish(t, a, model.Request{Kind: model.RequestRegisterDevice})
	ack := publish(t, a, model.Request{ID: "req-ws", Kind: model.RequestAddClip, Text: "over the wire"})
	assert.Equal(t, "req-ws", ack.RequestID)
	assert.True(t, ack.Outcome.Applied)

	for _, s := range []Session{a, b} {
		ev := nextEvent(t, s, model.EventClipAdded)
		require.NotNil(t, ev.Clip)
		assert.Equal(t, "over the wire", ev.Clip.Text)
		assert.Equal(t, "device_a", ev.Clip.OriginDeviceID)
	}

	again := publish(t, a, model.Request{ID: "req-ws", Kind: model.RequestAddClip, Text: "over the wire"})
	assert.True(t, again.Duplicate)

	require.NoError(t, a.Heartbeat(context.Background()))

	_, err := a.Publish(context.Background(), model.Request{Kind: model.RequestKind(99)})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrTransport), "a rejected request keeps the session open")
	require.NoError(t, a.Heartbeat(context.Background()))
}

func TestWSTransportUnauthorized(t *testing.T) {
	_, tr := newTestServer(t)
	_, err := tr.Join(context.Background(), JoinParams{DeviceID: "device_a", APIKey: "klipy_wrong"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestWSTransportRoomFull(t *testing.T) {
	h := newTestHub(t, func(c *HubConfig) { c.MaxMembers = 1 })
	srv := httptest.NewServer(NewServer(NewLocalTransport(h), nil).Handler())
	t.Cleanup(srv.Close)
	tr := NewWSTransport(srv.URL, nil)

	join(t, tr, "device_a")
	_, err := tr.Join(context.Background(), JoinParams{DeviceID: "device_b", APIKey: testKey})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRoomFull))
}

func TestWSTransportLeave(t *testing.T) {
	_, tr := newTestServer(t)
	a := join(t, tr, "device_a")
	b := join(t, tr, "device_b")
	publish(t, b, model.Request{Kind: model.RequestRegisterDevice})
	nextEvent(t, a, model.EventDevicesUpdated)

	require.NoError(t, b.Leave())
	require.NoError(t, b.Leave())

	ev := nextEvent(t, a, model.EventDeviceRemoved)
	assert.Equal(t, "device_b", ev.DeviceID)
	assert.True(t, errors.Is(b.Err(), ErrSessionClosed))
	assert.True(t, errors.Is(b.Heartbeat(context.Background()), ErrTransport))
}

func TestWSTransportHubShutdown(t *testing.T) {
	h, tr := newTestServer(t)
	a := join(t, tr, "device_a")

	require.NoError(t, h.Close())

	select {
	case <-a.Done():
	case <-time.After(eventWait):
		t.Fatal("session did not end after hub shutdown")
	}
	assert.True(t, errors.Is(a.Err(), ErrTransport))
}

func TestServerRejectsMissingDevice(t *testing.T) {
	h := newTestHub(t)
	srv := httptest.NewServer(NewServer(NewLocalTransport(h), nil).Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+Path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, bearerToken(r))

	r.Header.Set("Authorization", "Bearer  klipy_abc ")
	assert.Equal(t, "klipy_abc", bearerToken(r))

	r.Header.Set("Authorization", "Basic "+strings.Repeat("x", 4))
	assert.Empty(t, bearerToken(r))
}
