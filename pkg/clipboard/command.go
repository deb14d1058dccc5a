package clipboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandTimeout is the maximum time allowed for clipboard operations.
const CommandTimeout = 5 * time.Second

// permissionMarkers are stderr fragments clipboard tools print when the OS
// refuses access, for example a locked macOS session or a Wayland compositor
// that only serves the focused client.
var permissionMarkers = []string{
	"not authorized",
	"permission denied",
	"no seat",
	"cannot open display",
}

// CommandConfig holds configuration for command execution.
type CommandConfig struct {
	// Timeout for command execution (default: CommandTimeout)
	Timeout time.Duration

	// MaxOutputSize limits the amount of data read (default: MaxClipboardSize)
	MaxOutputSize int
}

// DefaultCommandConfig returns config with production-ready defaults.
func DefaultCommandConfig() *CommandConfig {
	return &CommandConfig{
		Timeout:       CommandTimeout,
		MaxOutputSize: MaxClipboardSize,
	}
}

// RunCommand executes a command with proper timeout and resource management.
func RunCommand(name string, args []string, config *CommandConfig) ([]byte, error) {
	if config == nil {
		config = DefaultCommandConfig()
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr

	output, err := cmd.Output()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("command %s timed out after %v", name, config.Timeout)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if isPermissionError(stderr.String()) {
				return nil, fmt.Errorf("%s: %w", name, ErrPermissionDenied)
			}
			// Empty clipboard on some systems
			if exitErr.ExitCode() == 1 && len(output) == 0 {
				return []byte{}, nil
			}
			return nil, fmt.Errorf("command %s failed with exit code %d: %w",
				name, exitErr.ExitCode(), err)
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotSupported)
		}
		return nil, fmt.Errorf("command %s failed: %w", name, err)
	}

	if len(output) > config.MaxOutputSize {
		return nil, fmt.Errorf("%w: command output exceeds %d bytes",
			ErrContentTooLarge, config.MaxOutputSize)
	}

	return output, nil
}

// RunCommandWithInput executes a command with stdin input.
func RunCommandWithInput(name string, args []string, input []byte, config *CommandConfig) error {
	if config == nil {
		config = DefaultCommandConfig()
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("command %s timed out after %v", name, config.Timeout)
		}
		if isPermissionError(stderr.String()) {
			return fmt.Errorf("%s: %w", name, ErrPermissionDenied)
		}
		return fmt.Errorf("%s failed: %w", name, err)
	}

	return nil
}

func isPermissionError(stderr string) bool {
	s := strings.ToLower(stderr)
	for _, marker := range permissionMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
