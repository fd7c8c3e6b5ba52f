package util

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the server, the client SDK and the agent.
// Callers branch with errors.Is; wrapping always uses %w.
var (
	// ErrValidation marks a malformed request rejected before any state mutation.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks an unknown device or command.
	ErrNotFound = errors.New("not found")

	// ErrClaimConflict marks a claim lost to another executor. It is an expected race outcome.
	ErrClaimConflict = errors.New("command already claimed")

	// ErrInvalidState marks a transition requested from the wrong status, e.g. a stale completion.
	ErrInvalidState = errors.New("invalid command state")

	// ErrUnauthenticated marks a missing or invalid credential.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrTransport marks a network failure talking to the store or the channel.
	ErrTransport = errors.New("transport error")

	// ErrTimeout marks a network call aborted by its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrUnavailable marks an optional capability that is not configured.
	ErrUnavailable = errors.New("unavailable")
)

// Validationf returns an ErrValidation wrapping a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// UnknownDevice is a validation failure that also reports not-found.
func UnknownDevice(deviceID string) error {
	return fmt.Errorf("%w: %w: device %q", ErrValidation, ErrNotFound, deviceID)
}

// InvalidState reports a requested transition that the current status forbids.
func InvalidState(commandID, status, want string) error {
	return fmt.Errorf("%w: command %s is %s, want %s", ErrInvalidState, commandID, status, want)
}
