package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Bigwills27/Klipy/pkg/model"
)

// WSTransport joins a hub served by Server.
type WSTransport struct {
	// URL is the hub address, for example ws://hub.local:7780. Path is
	// appended when the URL has none; http and https map to ws and wss.
	URL         string
	Dialer      *websocket.Dialer
	Logger      Logger
	EventBuffer int
}

// NewWSTransport creates a transport for the hub at rawURL.
func NewWSTransport(rawURL string, logger Logger) *WSTransport {
	return &WSTransport{URL: rawURL, Logger: logger}
}

func (t *WSTransport) endpoint(p JoinParams) (string, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return "", fmt.Errorf("parse hub url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported hub url scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = Path
	}
	q := u.Query()
	q.Set(paramDeviceID, p.DeviceID)
	if p.DeviceName != "" {
		q.Set(paramDeviceName, p.DeviceName)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Join dials the hub and waits for the welcome frame.
func (t *WSTransport) Join(ctx context.Context, p JoinParams) (Session, error) {
	endpoint, err := t.endpoint(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := t.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.APIKey)

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return nil, fmt.Errorf("%w: %w", ErrTransport, ErrUnauthorized)
			case http.StatusConflict:
				return nil, fmt.Errorf("%w: %w", ErrTransport, ErrRoomFull)
			}
		}
		return nil, fmt.Errorf("%w: dial hub: %w", ErrTransport, err)
	}

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(welcomeTimeout))
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: read welcome: %w", ErrTransport, err)
	}
	var welcome Welcome
	if env.Type != frameWelcome {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: expected welcome, got %q", ErrTransport, env.Type)
	}
	if err := env.decode(&welcome); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	buffer := t.EventBuffer
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	s := &wsSession{
		conn:    conn,
		welcome: welcome,
		logger:  logger,
		events:  make(chan model.Event, buffer),
		done:    make(chan struct{}),
		pending: make(map[string]chan envelope),
	}
	go s.readLoop()
	go s.pingLoop()

	logger.Debug("joined hub", "handle", welcome.Handle, "clips", len(welcome.Clips))
	return s, nil
}

// wsSession is the client end of a hub connection. readLoop is the only
// reader and the only sender on events; writes go through writeMu.
type wsSession struct {
	conn    *websocket.Conn
	welcome Welcome
	logger  Logger

	writeMu sync.Mutex

	events    chan model.Event
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	pending map[string]chan envelope
	err     error
}

var _ Session = (*wsSession)(nil)

func (s *wsSession) Handle() string             { return s.welcome.Handle }
func (s *wsSession) Welcome() Welcome           { return s.welcome }
func (s *wsSession) Events() <-chan model.Event { return s.events }
func (s *wsSession) Done() <-chan struct{}      { return s.done }

func (s *wsSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsSession) Publish(ctx context.Context, req model.Request) (Ack, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	env, err := newEnvelope(framePublish, req.ID, req)
	if err != nil {
		return Ack{}, err
	}
	reply, err := s.roundTrip(ctx, env)
	if err != nil {
		return Ack{}, err
	}
	switch reply.Type {
	case frameAck:
		var ack Ack
		if err := reply.decode(&ack); err != nil {
			return Ack{}, fmt.Errorf("%w: %w", ErrTransport, err)
		}
		return ack, nil
	case frameError:
		return Ack{}, frameErr(reply)
	default:
		return Ack{}, fmt.Errorf("%w: unexpected %q reply to publish", ErrTransport, reply.Type)
	}
}

func (s *wsSession) Heartbeat(ctx context.Context) error {
	reply, err := s.roundTrip(ctx, envelope{Type: frameHeartbeat, ID: uuid.NewString()})
	if err != nil {
		return err
	}
	switch reply.Type {
	case frameHeartbeatAck:
		return nil
	case frameError:
		return frameErr(reply)
	default:
		return fmt.Errorf("%w: unexpected %q reply to heartbeat", ErrTransport, reply.Type)
	}
}

func (s *wsSession) Leave() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	s.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	s.writeMu.Unlock()
	s.finish(ErrSessionClosed)
	return nil
}

func (s *wsSession) roundTrip(ctx context.Context, env envelope) (envelope, error) {
	ch := make(chan envelope, 1)
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return envelope{}, s.closedErr()
	}
	s.pending[env.ID] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, env.ID)
		s.mu.Unlock()
	}()

	if err := s.write(env); err != nil {
		s.fail(err)
		return envelope{}, fmt.Errorf("%w: send %s: %w", ErrTransport, env.Type, err)
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return envelope{}, fmt.Errorf("%w: %w", ErrTransport, ctx.Err())
	case <-s.done:
		return envelope{}, s.closedErr()
	}
}

func (s *wsSession) closedErr() error {
	err := s.Err()
	if errors.Is(err, ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

func (s *wsSession) write(env envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(env)
}

func (s *wsSession) readLoop() {
	defer close(s.events)

	for {
		var env envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			s.fail(err)
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch env.Type {
		case frameEvent:
			var ev model.Event
			if err := env.decode(&ev); err != nil {
				s.logger.Warn("dropping undecodable event", "error", err)
				continue
			}
			select {
			case s.events <- ev:
			default:
				s.fail(ErrSlowConsumer)
				return
			}

		case frameAck, frameHeartbeatAck, frameError:
			s.mu.Lock()
			ch, ok := s.pending[env.ID]
			s.mu.Unlock()
			if ok {
				ch <- env
			} else if env.Type == frameError {
				s.logger.Debug("hub error", "payload", string(env.Payload))
			}

		default:
			s.logger.Debug("ignoring frame", "type", env.Type)
		}
	}
}

func (s *wsSession) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.fail(err)
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *wsSession) fail(cause error) {
	if errors.Is(cause, ErrSessionClosed) {
		s.finish(cause)
		return
	}
	s.finish(fmt.Errorf("%w: %w", ErrTransport, cause))
}

func (s *wsSession) finish(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = cause
		s.mu.Unlock()
		close(s.done)
		_ = s.conn.Close()
		s.logger.Debug("session ended", "handle", s.welcome.Handle, "reason", cause)
	})
}

func frameErr(env envelope) error {
	var p errorPayload
	if err := env.decode(&p); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	switch p.Code {
	case "rate_limited":
		return fmt.Errorf("%w: %s", ErrRateLimited, p.Message)
	case "closed":
		return fmt.Errorf("%w: %w: %s", ErrTransport, ErrSessionClosed, p.Message)
	default:
		return errors.New(p.Message)
	}
}
