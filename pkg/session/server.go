package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Bigwills27/Klipy/pkg/model"
)

// Server exposes a transport over WebSocket.
type Server struct {
	transport Transport
	logger    Logger
	upgrader  websocket.Upgrader
}

// NewServer wraps a transport, normally a LocalTransport over the hub.
func NewServer(t Transport, logger Logger) *Server {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Server{
		transport: t,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Devices are native clients, not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns a mux serving Path and a plain health check.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(Path, s)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// ServeHTTP authenticates and joins before upgrading, so a rejected key gets
// a plain 401 the client can tell apart from a network failure.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := JoinParams{
		DeviceID:   r.URL.Query().Get(paramDeviceID),
		DeviceName: r.URL.Query().Get(paramDeviceName),
		APIKey:     bearerToken(r),
	}

	ctx, cancel := context.WithTimeout(r.Context(), welcomeTimeout)
	sess, err := s.transport.Join(ctx, p)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, ErrUnauthorized):
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		case errors.Is(err, ErrRoomFull):
			http.Error(w, "room full", http.StatusConflict)
		case p.DeviceID == "":
			http.Error(w, "device_id is required", http.StatusBadRequest)
		default:
			s.logger.Warn("join failed", "device_id", p.DeviceID, "error", err)
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		}
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "device_id", p.DeviceID, "error", err)
		_ = sess.Leave()
		return
	}

	c := &serverConn{
		conn:   conn,
		sess:   sess,
		logger: s.logger,
		out:    make(chan envelope, 64),
		stop:   make(chan struct{}),
		wdone:  make(chan struct{}),
	}
	welcome, err := newEnvelope(frameWelcome, "", sess.Welcome())
	if err != nil {
		s.logger.Error("encode welcome", "error", err)
		_ = sess.Leave()
		_ = conn.Close()
		return
	}
	// The welcome goes out before the write pump starts so no event can
	// overtake it.
	if !c.write(welcome) {
		_ = sess.Leave()
		_ = conn.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// serverConn pumps one device connection. readPump runs on the handler
// goroutine and owns reads; writePump owns every data write.
type serverConn struct {
	conn   *websocket.Conn
	sess   Session
	logger Logger
	out    chan envelope
	stop   chan struct{}
	wdone  chan struct{}
}

func (c *serverConn) readPump() {
	defer func() {
		close(c.stop)
		_ = c.sess.Leave()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("device connection lost", "handle", c.sess.Handle(), "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		reply := c.dispatch(env)
		select {
		case c.out <- reply:
		case <-c.wdone:
			return
		}
	}
}

func (c *serverConn) dispatch(env envelope) envelope {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	switch env.Type {
	case framePublish:
		var req model.Request
		if err := env.decode(&req); err != nil {
			return errorFrame(env.ID, "invalid", err)
		}
		if req.ID == "" {
			req.ID = env.ID
		}
		ack, err := c.sess.Publish(ctx, req)
		if err != nil {
			return errorFrame(env.ID, errorCode(err), err)
		}
		reply, err := newEnvelope(frameAck, env.ID, ack)
		if err != nil {
			return errorFrame(env.ID, "invalid", err)
		}
		return reply

	case frameHeartbeat:
		if err := c.sess.Heartbeat(ctx); err != nil {
			return errorFrame(env.ID, errorCode(err), err)
		}
		return envelope{Type: frameHeartbeatAck, ID: env.ID}

	default:
		return errorFrame(env.ID, "invalid", errors.New("unknown frame type "+env.Type))
	}
}

func (c *serverConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.wdone)
		_ = c.conn.Close()
	}()

	events := c.sess.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// The hub dropped the session.
				msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "session closed")
				_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
			env, err := newEnvelope(frameEvent, "", ev)
			if err != nil {
				c.logger.Error("encode event", "kind", ev.Kind.String(), "error", err)
				continue
			}
			if !c.write(env) {
				return
			}

		case env := <-c.out:
			if !c.write(env) {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.stop:
			return
		}
	}
}

func (c *serverConn) write(env envelope) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(env); err != nil {
		c.logger.Debug("write to device failed", "handle", c.sess.Handle(), "error", err)
		return false
	}
	return true
}

func errorFrame(id, code string, err error) envelope {
	env, _ := newEnvelope(frameError, id, errorPayload{Message: err.Error(), Code: code})
	return env
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrSessionClosed), errors.Is(err, ErrTransport):
		return "closed"
	default:
		return "invalid"
	}
}
