package minerapi

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection means the device refused the connection or could not be reached.
	ErrConnection = errors.New("miner unreachable")

	// ErrTimeout means no complete response arrived within the deadline.
	ErrTimeout = errors.New("miner request timed out")

	// ErrNoCommands is returned by Multicommand when every requested name was filtered out.
	ErrNoCommands = errors.New("no supported commands to send")
)

// DecodeError is returned when a response could not be repaired into parseable JSON.
// It is never suppressed by IgnoreErrors.
type DecodeError struct {
	Text string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: %v: %q", e.Err, e.Text)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// CommandError carries the vendor message of a response that reported a failure status.
type CommandError struct {
	Command string
	Message string
}

func (e *CommandError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("command %s failed", e.Command)
	}
	return fmt.Sprintf("command %s failed: %s", e.Command, e.Message)
}

// IsCommandError reports whether err (or anything it wraps) is a *CommandError.
func IsCommandError(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr)
}

// IsDecodeError reports whether err (or anything it wraps) is a *DecodeError.
func IsDecodeError(err error) bool {
	var decErr *DecodeError
	return errors.As(err, &decErr)
}
