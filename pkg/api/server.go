package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Bigwills27/Klipy/pkg/agent"
	"github.com/Bigwills27/Klipy/pkg/clipboard"
	"github.com/Bigwills27/Klipy/pkg/supervisor"
)

// DefaultCommandTimeout bounds the work done for one request.
const DefaultCommandTimeout = 10 * time.Second

// ErrEmptyHistory is returned by PASTE when there is no clip yet.
var ErrEmptyHistory = errors.New("history is empty")

// Supervisor is the part of the connection supervisor the server drives.
// *supervisor.Supervisor implements it.
type Supervisor interface {
	Status(ctx context.Context) (supervisor.Status, error)
	Agent() (*agent.Agent, error)
	View() *agent.View
	Monitor() *clipboard.Monitor
	Retry(ctx context.Context) error
	EnterBackground(ctx context.Context) error
	EnterForeground(ctx context.Context) error
}

// Server implements the local Unix socket API.
type Server struct {
	uptime     time.Time
	sup        Supervisor
	listener   net.Listener
	ctx        context.Context
	logger     *slog.Logger
	cancel     context.CancelFunc
	socketPath string
	version    string
	timeout    time.Duration
	wg         sync.WaitGroup
	mu         sync.RWMutex
}

// ServerConfig contains configuration for the API server.
type ServerConfig struct {
	Supervisor     Supervisor
	Logger         *slog.Logger
	SocketPath     string
	Version        string
	CommandTimeout time.Duration
}

// NewServer creates a new API server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("socket path is required")
	}
	if cfg.Supervisor == nil {
		return nil, fmt.Errorf("supervisor is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeout := cfg.CommandTimeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath: cfg.SocketPath,
		sup:        cfg.Supervisor,
		version:    cfg.Version,
		timeout:    timeout,
		logger:     logger.With("component", "api"),
		uptime:     time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start begins listening on the Unix domain socket.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	socketDir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(socketDir, 0700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	// A stale socket from a crashed agent blocks Listen.
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", s.socketPath, err)
	}

	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("api listening", "socket", s.socketPath)
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	s.cancel()

	if listener != nil {
		if err := listener.Close(); err != nil && !isClosedNetworkError(err) {
			return fmt.Errorf("failed to close listener: %w", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("server shutdown timeout")
	}

	_ = os.Remove(s.socketPath)
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				if !isClosedNetworkError(err) {
					s.logger.Error("failed to accept connection", "error", err)
					continue
				}
				return
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		s.sendError(conn, "failed to set deadline")
		return
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		s.sendError(conn, fmt.Sprintf("failed to read command: %v", err))
		return
	}

	req, parseErr := ParseRequest(strings.TrimSpace(line))
	if parseErr != nil {
		s.sendError(conn, parseErr.Error())
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	s.logger.Debug("command", "command", string(req.Command))

	switch req.Command {
	case CommandCopy, CommandPasted:
		s.handleSubmit(ctx, conn, req, reader)
	case CommandPaste:
		s.handlePaste(conn)
	case CommandStatus:
		s.handleStatus(ctx, conn)
	case CommandHistory:
		s.sendJSON(conn, s.sup.View().Clips())
	case CommandDevices:
		s.sendJSON(conn, s.sup.View().Devices())
	case CommandPending:
		s.sendJSON(conn, s.sup.View().PendingClips())
	case CommandActivate, CommandDeactivate, CommandRemove:
		s.handleAgentCommand(ctx, conn, req)
	case CommandClear:
		s.handleClear(ctx, conn)
	case CommandApprove, CommandForce:
		s.handleWrite(ctx, conn, req)
	case CommandCopyClip:
		s.handleCopyClip(ctx, conn, req.Arg)
	case CommandDismiss:
		if !s.sup.View().RemovePending(req.Arg) {
			s.sendError(conn, fmt.Sprintf("%v: %s", agent.ErrNoSuchPending, req.Arg))
			return
		}
		s.sendOK(conn, nil)
	case CommandRetry:
		s.reply(conn, s.sup.Retry(ctx))
	case CommandCapture:
		s.handleCapture(ctx, conn)
	case CommandPresence:
		s.reply(conn, s.presence(ctx, req.Arg))
	default:
		s.sendError(conn, fmt.Sprintf("Unknown command: %s", req.Command))
	}
}

func (s *Server) handleSubmit(ctx context.Context, conn net.Conn, req *Request, reader *bufio.Reader) {
	if req.Size > clipboard.MaxClipboardSize {
		s.sendError(conn, fmt.Sprintf("content too large: %d bytes (max: %d)", req.Size, clipboard.MaxClipboardSize))
		return
	}
	content := make([]byte, req.Size)
	if _, err := io.ReadFull(reader, content); err != nil {
		s.sendError(conn, fmt.Sprintf("failed to read content: %v", err))
		return
	}
	if err := clipboard.ValidateContent(content); err != nil {
		s.sendError(conn, err.Error())
		return
	}

	a, err := s.sup.Agent()
	if err != nil {
		s.sendError(conn, err.Error())
		return
	}

	var added bool
	if req.Command == CommandPasted {
		added, err = a.Pasted(ctx, string(content))
	} else {
		added, err = a.Copy(ctx, string(content))
	}
	if err != nil {
		s.sendError(conn, err.Error())
		return
	}
	s.sendJSON(conn, SubmitResponse{Added: added})
}

func (s *Server) handlePaste(conn net.Conn) {
	clip, ok := s.sup.View().Latest()
	if !ok {
		s.sendError(conn, ErrEmptyHistory.Error())
		return
	}
	s.sendOK(conn, clip.Text)
}

func (s *Server) handleStatus(ctx context.Context, conn net.Conn) {
	connStatus, err := s.sup.Status(ctx)
	if err != nil {
		s.sendError(conn, fmt.Sprintf("failed to get status: %v", err))
		return
	}

	s.mu.RLock()
	uptime := s.uptime
	s.mu.RUnlock()

	m := s.sup.Monitor()
	visible, focused := m.Presence()
	view := s.sup.View()
	status := &StatusResponse{
		Version:    s.version,
		Uptime:     uptime,
		Connection: connStatus,
		Monitor: MonitorStatus{
			Mode:         m.Mode().String(),
			State:        m.State().String(),
			Visible:      visible,
			Focused:      focused,
			Capabilities: m.Capabilities(),
			Stats:        m.Stats(),
		},
		Clips:   len(view.Clips()),
		Devices: len(view.Devices()),
		Pending: len(view.PendingClips()),
	}
	if a, err := s.sup.Agent(); err == nil {
		status.Agent = a.Stats()
	}
	s.sendJSON(conn, status)
}

func (s *Server) handleAgentCommand(ctx context.Context, conn net.Conn, req *Request) {
	a, err := s.sup.Agent()
	if err != nil {
		s.sendError(conn, err.Error())
		return
	}
	switch req.Command {
	case CommandActivate:
		err = a.Activate(ctx)
	case CommandDeactivate:
		err = a.Deactivate(ctx)
	case CommandRemove:
		err = a.RemoveClip(ctx, req.Arg)
	}
	s.reply(conn, err)
}

func (s *Server) handleClear(ctx context.Context, conn net.Conn) {
	a, err := s.sup.Agent()
	if err != nil {
		s.sendError(conn, err.Error())
		return
	}
	n, err := a.ClearClips(ctx)
	if err != nil {
		s.sendError(conn, err.Error())
		return
	}
	s.sendJSON(conn, ClearResponse{Removed: n})
}

func (s *Server) handleWrite(ctx context.Context, conn net.Conn, req *Request) {
	a, err := s.sup.Agent()
	if err != nil {
		s.sendError(conn, err.Error())
		return
	}
	var res clipboard.WriteResult
	if req.Command == CommandForce {
		res, err = a.ForcePaste(ctx, req.Arg)
	} else {
		res, err = a.Approve(ctx, req.Arg)
	}
	if err != nil {
		s.sendError(conn, err.Error())
		return
	}
	resp := WriteResponse{Written: res.Written}
	if !res.Written {
		resp.Refusal = res.Refusal.String()
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	s.sendJSON(conn, resp)
}

func (s *Server) handleCopyClip(ctx context.Context, conn net.Conn, clipID string) {
	clip, ok := s.sup.View().Clip(clipID)
	if !ok {
		s.sendError(conn, fmt.Sprintf("%v: %s", agent.ErrClipNotFound, clipID))
		return
	}

	resp := CopyClipResponse{Text: clip.Text}
	a, err := s.sup.Agent()
	if err != nil {
		resp.Error = err.Error()
		s.sendJSON(conn, resp)
		return
	}
	res, err := a.CopyClip(ctx, clipID)
	if err != nil {
		resp.Error = err.Error()
		s.sendJSON(conn, resp)
		return
	}
	resp.Written = res.Written
	if res.Written {
		resp.Text = ""
	} else {
		resp.Refusal = res.Refusal.String()
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	s.sendJSON(conn, resp)
}

func (s *Server) handleCapture(ctx context.Context, conn net.Conn) {
	a, err := s.sup.Agent()
	if err != nil {
		s.sendError(conn, err.Error())
		return
	}
	res, err := a.Capture(ctx)
	if err != nil {
		s.sendError(conn, err.Error())
		return
	}
	resp := CaptureResponse{
		Outcome:          res.Outcome.String(),
		NeedsManualEntry: res.Outcome == clipboard.CaptureNeedsManualEntry,
	}
	if res.Outcome == clipboard.CaptureCaptured {
		resp.Length = len(res.Detection.Text)
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	s.sendJSON(conn, resp)
}

// presence maps a presence keyword onto the supervisor and monitor.
func (s *Server) presence(ctx context.Context, kind string) error {
	m := s.sup.Monitor()
	switch kind {
	case PresenceFocus:
		if err := s.sup.EnterForeground(ctx); err != nil {
			return err
		}
		m.SetPresence(true, true)
	case PresenceBlur:
		visible, _ := m.Presence()
		m.SetPresence(visible, false)
	case PresenceVisible:
		return s.sup.EnterForeground(ctx)
	case PresenceHidden:
		return s.sup.EnterBackground(ctx)
	case PresenceInteract, PresenceCopy, PresenceCut, PresenceSelect:
		interaction, _ := clipboard.ParseInteraction(kind)
		m.NotifyInteraction(interaction)
	default:
		return fmt.Errorf("unknown presence %q", kind)
	}
	return nil
}

func (s *Server) reply(conn net.Conn, err error) {
	if err != nil {
		s.sendError(conn, err.Error())
		return
	}
	s.sendOK(conn, nil)
}

func (s *Server) sendOK(conn net.Conn, data any) {
	resp, err := FormatResponse(ResponseOK, data)
	if err != nil {
		s.sendError(conn, err.Error())
		return
	}
	_, _ = conn.Write(resp)
}

func (s *Server) sendJSON(conn net.Conn, data any) {
	resp, err := FormatResponse(ResponseJSON, data)
	if err != nil {
		s.sendError(conn, err.Error())
		return
	}
	_, _ = conn.Write(resp)
}

func (s *Server) sendError(conn net.Conn, msg string) {
	resp, _ := FormatResponse(ResponseError, msg)
	_, _ = conn.Write(resp)
}

// isClosedNetworkError checks if an error is due to a closed listener.
func isClosedNetworkError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed)
}
