package core

import (
	"context"
	"time"

	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

// Repository groups the persistence ports of the relay server.
type Repository interface {
	Device() DeviceRepository
	Command() CommandRepository
}

// DeviceRepository persists registered devices. Devices are never deleted.
type DeviceRepository interface {
	// Get retrieves a device by id. Returns util.ErrNotFound if absent.
	Get(ctx context.Context, id string) (*v1.Device, error)

	// Upsert creates the device or refreshes its metadata, reporting whether it was created.
	Upsert(ctx context.Context, device *v1.Device) (created bool, err error)

	// Touch records a heartbeat: last_seen_at = at, status online.
	Touch(ctx context.Context, id string, at time.Time) error

	// SetStatus changes the soft connectivity state.
	SetStatus(ctx context.Context, id string, status v1.DeviceStatus, at time.Time) error

	// MarkOffline flips online devices not seen since before to offline.
	MarkOffline(ctx context.Context, before time.Time) (int64, error)

	// List returns the devices owned by userID, or all devices when userID is empty.
	List(ctx context.Context, userID string) ([]v1.Device, error)

	// CountOnline returns the number of devices currently online.
	CountOnline(ctx context.Context) (int64, error)
}

// ListFilter narrows command listings. Zero fields do not filter.
type ListFilter struct {
	DeviceID string
	UserID   string
	Status   v1.CommandStatus
	ParentID string
	Limit    int
}

// CommandRepository is the only writer of command status. Every transition
// is a conditional update on the current status.
type CommandRepository interface {
	// Create inserts a pending command.
	Create(ctx context.Context, cmd *v1.Command) error

	// Get retrieves a command by id. Returns util.ErrNotFound if absent.
	Get(ctx context.Context, id string) (*v1.Command, error)

	// List returns commands ordered by creation time.
	List(ctx context.Context, filter ListFilter) ([]v1.Command, error)

	// Claim moves pending -> claimed. A repeated claim by the holding agent
	// returns the row. Returns (nil, nil) when another agent holds the command
	// or it is no longer pending, and util.ErrNotFound when it does not exist.
	Claim(ctx context.Context, id, agentID string, at time.Time) (*v1.Command, error)

	// Complete moves claimed -> done|failed according to result.Success.
	// Replaying the recorded result returns the row. Returns
	// util.ErrInvalidState when the command is not claimed.
	Complete(ctx context.Context, id string, result *v1.ExecutionResult, at time.Time) (*v1.Command, error)

	// Cancel moves pending|claimed -> cancelled.
	// Returns util.ErrInvalidState when the command is already terminal.
	Cancel(ctx context.Context, id, reason string, at time.Time) (*v1.Command, error)

	// ExpirePending fails pending commands created before the cutoff.
	ExpirePending(ctx context.Context, createdBefore, at time.Time) (int64, error)

	// ExpireClaimed fails claimed commands whose claim is older than the cutoff.
	ExpireClaimed(ctx context.Context, claimedBefore, at time.Time) (int64, error)

	// RecordVerdict stores the verdict once. It reports false when a verdict
	// was already recorded.
	RecordVerdict(ctx context.Context, id string, verdict *v1.VerifierOutput) (bool, error)

	// ListUnverified returns non-cancelled commands without a verdict that are
	// either terminal or were created before the cutoff.
	ListUnverified(ctx context.Context, createdBefore time.Time, limit int) ([]v1.Command, error)

	// SetArtifact records the object key of the command's evidence artifact.
	SetArtifact(ctx context.Context, id, key string) error
}
