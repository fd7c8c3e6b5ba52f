package core

import (
	"context"

	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

// CommandNotifier tells a device that a command is waiting for it.
// Delivery is best effort; agents also poll.
type CommandNotifier interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Notify publishes an INSERT event on the device's channel.
	Notify(ctx context.Context, cmd *v1.Command) error
}
