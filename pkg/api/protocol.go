// Package api provides the local Unix socket API of the klipy agent. The
// CLI subcommands and editor integrations drive a running agent through it.
//
// The protocol is line based. A request is "COMMAND [arg]\n", followed by a
// body of exactly arg bytes for COPY and PASTED. A response is one of:
//
//	OK\n
//	OK <size>\n<body>
//	JSON <payload>\n
//	ERROR <message>\n
package api

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Bigwills27/Klipy/pkg/agent"
	"github.com/Bigwills27/Klipy/pkg/clipboard"
	"github.com/Bigwills27/Klipy/pkg/supervisor"
)

// Command represents the type of command sent by the client.
type Command string

// Command constants define the available commands in the protocol.
const (
	CommandCopy       Command = "COPY"
	CommandPasted     Command = "PASTED"
	CommandPaste      Command = "PASTE"
	CommandStatus     Command = "STATUS"
	CommandHistory    Command = "HISTORY"
	CommandDevices    Command = "DEVICES"
	CommandPending    Command = "PENDING"
	CommandActivate   Command = "ACTIVATE"
	CommandDeactivate Command = "DEACTIVATE"
	CommandRemove     Command = "REMOVE"
	CommandClear      Command = "CLEAR"
	CommandApprove    Command = "APPROVE"
	CommandForce      Command = "FORCE"
	CommandDismiss    Command = "DISMISS"
	CommandRetry      Command = "RETRY"
	CommandCapture    Command = "CAPTURE"
	CommandPresence   Command = "PRESENCE"
	CommandCopyClip   Command = "COPYCLIP"
)

// Response represents the type of response sent by the server.
type Response string

// Response constants define the possible response types.
const (
	ResponseOK    Response = "OK"
	ResponseJSON  Response = "JSON"
	ResponseError Response = "ERROR"
)

// Presence keywords accepted by PRESENCE.
const (
	PresenceFocus    = "focus"
	PresenceBlur     = "blur"
	PresenceVisible  = "visible"
	PresenceHidden   = "hidden"
	PresenceInteract = "interact"
	PresenceCopy     = "copy"
	PresenceCut      = "cut"
	PresenceSelect   = "select"
)

// Request represents a client request with command-specific data.
type Request struct {
	Command Command
	// Arg is the clip id of REMOVE, APPROVE, FORCE, DISMISS and COPYCLIP, or the
	// presence keyword of PRESENCE.
	Arg  string
	Size int
}

// StatusResponse describes the running agent.
type StatusResponse struct {
	Version    string            `json:"version"`
	Uptime     time.Time         `json:"uptime"`
	Connection supervisor.Status `json:"connection"`
	Monitor    MonitorStatus     `json:"monitor"`
	Agent      agent.Stats       `json:"agent"`
	Clips      int               `json:"clips"`
	Devices    int               `json:"devices"`
	Pending    int               `json:"pending"`
}

// MonitorStatus describes the clipboard monitor.
type MonitorStatus struct {
	Mode         string                 `json:"mode"`
	State        string                 `json:"state"`
	Visible      bool                   `json:"visible"`
	Focused      bool                   `json:"focused"`
	Capabilities clipboard.Capabilities `json:"capabilities"`
	Stats        clipboard.Stats        `json:"stats"`
}

// SubmitResponse answers COPY and PASTED.
type SubmitResponse struct {
	Added bool `json:"added"`
}

// ClearResponse answers CLEAR.
type ClearResponse struct {
	Removed int `json:"removed"`
}

// WriteResponse answers APPROVE and FORCE.
type WriteResponse struct {
	Written bool   `json:"written"`
	Refusal string `json:"refusal,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CopyClipResponse answers COPYCLIP. Text carries the clip whenever it was
// not written, so the caller can print it instead.
type CopyClipResponse struct {
	WriteResponse
	Text string `json:"text,omitempty"`
}

// CaptureResponse answers CAPTURE. NeedsManualEntry tells the caller to ask
// the user for the text and send it with COPY.
type CaptureResponse struct {
	Outcome          string `json:"outcome"`
	NeedsManualEntry bool   `json:"needs_manual_entry"`
	Length           int    `json:"length,omitempty"`
	Error            string `json:"error,omitempty"`
}

// ParseRequest parses a command line into a Request.
func ParseRequest(line string) (*Request, error) {
	if line == "" {
		return nil, fmt.Errorf("empty command")
	}

	fields := strings.Fields(line)
	if len(fields) == 0 || len(fields) > 2 {
		return nil, fmt.Errorf("invalid command format")
	}
	command := Command(fields[0])
	arg := ""
	if len(fields) == 2 {
		arg = fields[1]
	}

	switch command {
	case CommandCopy, CommandPasted:
		size, err := strconv.Atoi(arg)
		if err != nil || size < 0 {
			return nil, fmt.Errorf("%s requires size parameter", command)
		}
		return &Request{Command: command, Size: size}, nil
	case CommandRemove, CommandApprove, CommandForce, CommandDismiss, CommandCopyClip:
		if arg == "" {
			return nil, fmt.Errorf("%s requires clip id", command)
		}
		return &Request{Command: command, Arg: arg}, nil
	case CommandPresence:
		if !validPresence(arg) {
			return nil, fmt.Errorf("PRESENCE requires one of focus, blur, visible, hidden, interact, copy, cut, select")
		}
		return &Request{Command: command, Arg: arg}, nil
	case CommandPaste, CommandStatus, CommandHistory, CommandDevices, CommandPending,
		CommandActivate, CommandDeactivate, CommandClear, CommandRetry, CommandCapture:
		if arg != "" {
			return nil, fmt.Errorf("%s takes no argument", command)
		}
		return &Request{Command: command}, nil
	default:
		return nil, fmt.Errorf("unknown command: %s", fields[0])
	}
}

func validPresence(kind string) bool {
	switch kind {
	case PresenceFocus, PresenceBlur, PresenceVisible, PresenceHidden,
		PresenceInteract, PresenceCopy, PresenceCut, PresenceSelect:
		return true
	}
	return false
}

// FormatRequest renders a request line.
func FormatRequest(req *Request) string {
	switch req.Command {
	case CommandCopy, CommandPasted:
		return fmt.Sprintf("%s %d\n", req.Command, req.Size)
	}
	if req.Arg != "" {
		return fmt.Sprintf("%s %s\n", req.Command, req.Arg)
	}
	return string(req.Command) + "\n"
}

// FormatResponse formats a response for transmission.
func FormatResponse(resp Response, data any) ([]byte, error) {
	switch resp {
	case ResponseOK:
		switch v := data.(type) {
		case string:
			return []byte(fmt.Sprintf("OK %d\n%s", len(v), v)), nil
		case []byte:
			return []byte(fmt.Sprintf("OK %d\n%s", len(v), v)), nil
		case nil:
			return []byte("OK\n"), nil
		default:
			return nil, fmt.Errorf("unsupported response data type: %T", v)
		}
	case ResponseJSON:
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response: %w", err)
		}
		return []byte(fmt.Sprintf("JSON %s\n", payload)), nil
	case ResponseError:
		if msg, ok := data.(string); ok {
			return []byte(fmt.Sprintf("ERROR %s\n", strings.ReplaceAll(msg, "\n", " "))), nil
		}
		return []byte("ERROR unknown error\n"), nil
	default:
		return nil, fmt.Errorf("unknown response type: %s", resp)
	}
}
