// Package client talks to a running klipy agent over its Unix socket API.
package client

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/Bigwills27/Klipy/pkg/agent"
	"github.com/Bigwills27/Klipy/pkg/api"
	"github.com/Bigwills27/Klipy/pkg/clipboard"
	"github.com/Bigwills27/Klipy/pkg/config"
	"github.com/Bigwills27/Klipy/pkg/model"
)

// DefaultTimeout covers the agent's own command timeout plus the round trip.
const DefaultTimeout = 15 * time.Second

// ErrNotRunning is returned when nothing listens on the socket.
var ErrNotRunning = errors.New("klipy agent not running")

// ServerError is an ERROR response from the agent.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return e.Message }

// Client provides methods to interact with a running agent.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// Config contains configuration for the client.
type Config struct {
	// SocketPath is the path to the Unix domain socket. If empty, the
	// default socket path is used.
	SocketPath string

	// Timeout for a whole request. Default is DefaultTimeout.
	Timeout time.Duration
}

// New creates a new client with the given configuration.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}

	socketPath := cfg.SocketPath
	if socketPath == "" {
		socketPath = config.DefaultSocketPath()
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// SocketPath returns the socket the client dials.
func (c *Client) SocketPath() string { return c.socketPath }

// Copy submits text as a manual copy. It reports whether a new clip was
// added to the shared history.
func (c *Client) Copy(content string) (bool, error) {
	return c.submit(api.CommandCopy, content)
}

// Pasted reports text the user pasted into klipy.
func (c *Client) Pasted(content string) (bool, error) {
	return c.submit(api.CommandPasted, content)
}

func (c *Client) submit(cmd api.Command, content string) (bool, error) {
	if err := clipboard.ValidateContent([]byte(content)); err != nil {
		return false, fmt.Errorf("content validation failed: %w", err)
	}
	var resp api.SubmitResponse
	req := &api.Request{Command: cmd, Size: len(content)}
	if err := c.doJSON(req, []byte(content), &resp); err != nil {
		return false, err
	}
	return resp.Added, nil
}

// Paste returns the newest clip in the shared history.
func (c *Client) Paste() (string, error) {
	var content string
	err := c.do(&api.Request{Command: api.CommandPaste}, nil, func(header string, r *bufio.Reader) error {
		var size int
		if _, err := fmt.Sscanf(header, "OK %d", &size); err != nil {
			return fmt.Errorf("invalid response format: %s", header)
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		content = string(buf)
		return nil
	})
	return content, err
}

// Status retrieves the agent's current status.
func (c *Client) Status() (*api.StatusResponse, error) {
	var status api.StatusResponse
	if err := c.doJSON(&api.Request{Command: api.CommandStatus}, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// History returns the shared clip history, newest first.
func (c *Client) History() ([]model.Clip, error) {
	var clips []model.Clip
	err := c.doJSON(&api.Request{Command: api.CommandHistory}, nil, &clips)
	return clips, err
}

// Devices returns the device registry of the account.
func (c *Client) Devices() ([]model.Device, error) {
	var devices []model.Device
	err := c.doJSON(&api.Request{Command: api.CommandDevices}, nil, &devices)
	return devices, err
}

// Pending returns the remote clips waiting for approval.
func (c *Client) Pending() ([]agent.PendingClip, error) {
	var pending []agent.PendingClip
	err := c.doJSON(&api.Request{Command: api.CommandPending}, nil, &pending)
	return pending, err
}

// Activate turns sync on for this device.
func (c *Client) Activate() error {
	return c.doOK(&api.Request{Command: api.CommandActivate})
}

// Deactivate turns sync off for this device.
func (c *Client) Deactivate() error {
	return c.doOK(&api.Request{Command: api.CommandDeactivate})
}

// Remove deletes one clip from the shared history.
func (c *Client) Remove(clipID string) error {
	return c.doOK(&api.Request{Command: api.CommandRemove, Arg: clipID})
}

// Clear empties the shared history and returns how many clips it held.
func (c *Client) Clear() (int, error) {
	var resp api.ClearResponse
	if err := c.doJSON(&api.Request{Command: api.CommandClear}, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

// Approve writes a pending clip to the clipboard.
func (c *Client) Approve(clipID string) (*api.WriteResponse, error) {
	var resp api.WriteResponse
	if err := c.doJSON(&api.Request{Command: api.CommandApprove, Arg: clipID}, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Force writes a pending clip regardless of focus and interaction.
func (c *Client) Force(clipID string) (*api.WriteResponse, error) {
	var resp api.WriteResponse
	if err := c.doJSON(&api.Request{Command: api.CommandForce, Arg: clipID}, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CopyClip writes a clip from the history to the clipboard. When the write
// does not happen the response carries the clip text.
func (c *Client) CopyClip(clipID string) (*api.CopyClipResponse, error) {
	var resp api.CopyClipResponse
	if err := c.doJSON(&api.Request{Command: api.CommandCopyClip, Arg: clipID}, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Dismiss drops a pending clip.
func (c *Client) Dismiss(clipID string) error {
	return c.doOK(&api.Request{Command: api.CommandDismiss, Arg: clipID})
}

// Retry restarts reconnection after the agent gave up.
func (c *Client) Retry() error {
	return c.doOK(&api.Request{Command: api.CommandRetry})
}

// Capture asks the agent for a direct clipboard read.
func (c *Client) Capture() (*api.CaptureResponse, error) {
	var resp api.CaptureResponse
	if err := c.doJSON(&api.Request{Command: api.CommandCapture}, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Presence sends a presence signal such as "focus" or "hidden".
func (c *Client) Presence(kind string) error {
	return c.doOK(&api.Request{Command: api.CommandPresence, Arg: kind})
}

// IsRunning checks if the agent is running and responsive.
func (c *Client) IsRunning() bool {
	conn, err := c.dial()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (c *Client) doOK(req *api.Request) error {
	return c.do(req, nil, func(header string, _ *bufio.Reader) error {
		if header != string(api.ResponseOK) {
			return fmt.Errorf("unexpected response: %s", header)
		}
		return nil
	})
}

func (c *Client) doJSON(req *api.Request, body []byte, out any) error {
	return c.do(req, body, func(header string, _ *bufio.Reader) error {
		payload, ok := strings.CutPrefix(header, string(api.ResponseJSON)+" ")
		if !ok {
			return fmt.Errorf("unexpected response: %s", header)
		}
		if err := json.Unmarshal([]byte(payload), out); err != nil {
			return fmt.Errorf("failed to parse %s response: %w", strings.ToLower(string(req.Command)), err)
		}
		return nil
	})
}

// do sends one request and hands the response line to read. ERROR responses
// become a *ServerError.
func (c *Client) do(req *api.Request, body []byte, read func(header string, r *bufio.Reader) error) error {
	conn, err := c.dial()
	if err != nil {
		return c.handleDialError(err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := io.WriteString(conn, api.FormatRequest(req)); err != nil {
		return fmt.Errorf("failed to send %s command: %w", req.Command, err)
	}
	if len(body) > 0 {
		if _, err := conn.Write(body); err != nil {
			return fmt.Errorf("failed to send content: %w", err)
		}
	}

	reader := bufio.NewReader(conn)
	header, err := reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("no response from agent")
		}
		return fmt.Errorf("failed to read response: %w", err)
	}
	header = strings.TrimSuffix(header, "\n")

	if msg, ok := strings.CutPrefix(header, string(api.ResponseError)); ok {
		return &ServerError{Message: strings.TrimSpace(msg)}
	}
	return read(header, reader)
}

func (c *Client) dial() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, err
	}

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set connection deadline: %w", err)
	}

	return conn, nil
}

// handleDialError turns a failed dial into ErrNotRunning when nothing
// listens on the socket.
func (c *Client) handleDialError(err error) error {
	if strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "no such file") {
		return fmt.Errorf("%w (socket: %s)", ErrNotRunning, c.socketPath)
	}
	return fmt.Errorf("failed to connect to agent: %w", err)
}
