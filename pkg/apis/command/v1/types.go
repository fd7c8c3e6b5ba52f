// Package v1 contains the wire types exchanged between relay-server,
// relay-agent and API clients.
package v1

import (
	"encoding/json"
	"time"
)

// CommandStatus is the store-level lifecycle of a command.
// Transitions only move forward: pending -> claimed -> done|failed,
// with cancelled reachable from pending and claimed.
type CommandStatus string

const (
	CommandStatusPending   CommandStatus = "pending"
	CommandStatusClaimed   CommandStatus = "claimed"
	CommandStatusDone      CommandStatus = "done"
	CommandStatusFailed    CommandStatus = "failed"
	CommandStatusCancelled CommandStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s CommandStatus) IsTerminal() bool {
	return s == CommandStatusDone || s == CommandStatusFailed || s == CommandStatusCancelled
}

// Valid reports whether s is a known status.
func (s CommandStatus) Valid() bool {
	switch s {
	case CommandStatusPending, CommandStatusClaimed, CommandStatusDone, CommandStatusFailed, CommandStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a status change from -> to moves forward.
func CanTransition(from, to CommandStatus) bool {
	switch from {
	case CommandStatusPending:
		return to == CommandStatusClaimed || to == CommandStatusCancelled || to == CommandStatusFailed
	case CommandStatusClaimed:
		return to == CommandStatusDone || to == CommandStatusFailed || to == CommandStatusCancelled
	}
	return false
}

// StatusReason values recorded alongside a status change.
const (
	ReasonExpired       = "expired"
	ReasonClaimExpired  = "claim lease expired"
	ReasonCancelled     = "cancelled by request"
	ReasonSuperseded    = "superseded by corrective command"
	ReasonStaleComplete = "stale completion discarded"
)

// Command is a single requested DOM-level action for one device.
type Command struct {
	ID              string           `json:"id"`
	DeviceID        string           `json:"device_id"`
	UserID          string           `json:"user_id,omitempty"`
	Type            CommandType      `json:"type"`
	Payload         json.RawMessage  `json:"payload"`
	Status          CommandStatus    `json:"status"`
	StatusReason    string           `json:"status_reason,omitempty"`
	SuccessCriteria []string         `json:"success_criteria,omitempty"`
	Result          *ExecutionResult `json:"result,omitempty"`
	ClaimedBy       string           `json:"claimed_by,omitempty"`

	// ParentID and Attempt link corrective commands to the command they heal.
	ParentID string `json:"parent_id,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`

	ArtifactKey  string          `json:"artifact_key,omitempty"`
	Verification *VerifierOutput `json:"verification,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// DecodedPayload returns the typed payload variant for the command's type.
func (c *Command) DecodedPayload() (Payload, error) {
	return DecodePayload(c.Type, c.Payload)
}

// Criteria returns the declared success criteria, falling back to the
// default expected signals of the payload variant when none were declared.
func (c *Command) Criteria() []string {
	if len(c.SuccessCriteria) > 0 {
		return c.SuccessCriteria
	}
	p, err := c.DecodedPayload()
	if err != nil {
		return nil
	}
	return p.DefaultCriteria()
}

// DeviceStatus is the soft connectivity state of a device.
type DeviceStatus string

const (
	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusOffline DeviceStatus = "offline"
)

// Device is a registered remote agent endpoint.
type Device struct {
	ID           string       `json:"device_id"`
	UserID       string       `json:"user_id,omitempty"`
	BrowserInfo  string       `json:"browser_info,omitempty"`
	Version      string       `json:"version,omitempty"`
	Capabilities []string     `json:"capabilities,omitempty"`
	Status       DeviceStatus `json:"status"`
	LastSeenAt   time.Time    `json:"last_seen_at"`
	CreatedAt    time.Time    `json:"created_at"`
}

// EnqueueRequest is the body of POST /v1/commands.
type EnqueueRequest struct {
	DeviceID        string          `json:"device_id"`
	Type            CommandType     `json:"type"`
	Payload         json.RawMessage `json:"payload"`
	SuccessCriteria []string        `json:"success_criteria,omitempty"`
}

// UpdateCommandRequest is the body of PATCH /v1/commands/{id}.
// Status "claimed" requests a claim; "done" or "failed" completes with Result.
type UpdateCommandRequest struct {
	Status  CommandStatus    `json:"status"`
	AgentID string           `json:"agent_id,omitempty"`
	Result  *ExecutionResult `json:"result,omitempty"`
	// CompletedAt is the agent's own clock reading. It is accepted for
	// diagnostics only; the stored completion time comes from the server.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CommandList is returned by GET /v1/commands.
type CommandList struct {
	Items []Command `json:"items"`
}

// Registration outcomes reported by POST /v1/devices/register.
const (
	RegistrationOnline  = "online"
	RegistrationUpdated = "updated"
)

// RegisterDeviceRequest is the body of POST /v1/devices/register.
type RegisterDeviceRequest struct {
	DeviceID     string   `json:"device_id"`
	BrowserInfo  string   `json:"browser_info"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// RegisterDeviceResponse carries the device, the registration outcome and a
// device token for subsequent agent calls.
type RegisterDeviceResponse struct {
	Device Device `json:"device"`
	Status string `json:"status"`
	TokenResponse
}

// TokenResponse is a bearer token with its expiry.
type TokenResponse struct {
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// DeviceList is returned by GET /v1/devices.
type DeviceList struct {
	Items []Device `json:"items"`
}

// IntentRequest is the body of POST /v1/intents.
type IntentRequest struct {
	DeviceID string `json:"device_id"`
	Message  string `json:"message"`
}

// IntentResponse is the orchestrator's immediate answer. Completion of the
// enqueued commands is observed later through their verdicts.
type IntentResponse struct {
	ActionRequired bool     `json:"action_required"`
	Response       string   `json:"response,omitempty"`
	CommandIDs     []string `json:"command_ids,omitempty"`
}

// ArtifactUploadResponse is returned by POST /v1/commands/{id}/artifact.
type ArtifactUploadResponse struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried by ErrorResponse.
const (
	CodeValidation      = "validation_error"
	CodeNotFound        = "not_found"
	CodeClaimConflict   = "claim_conflict"
	CodeInvalidState    = "invalid_state"
	CodeUnauthenticated = "unauthenticated"
	CodeRateLimited     = "rate_limited"
	CodeUnavailable     = "unavailable"
	CodeInternal        = "internal"
)

// InsertEvent is pushed on a device's notification channel for every enqueue.
type InsertEvent struct {
	Event  string  `json:"event"`
	Table  string  `json:"table"`
	Record Command `json:"record"`
}

// NewInsertEvent wraps a freshly enqueued command.
func NewInsertEvent(cmd Command) InsertEvent {
	return InsertEvent{Event: "INSERT", Table: "commands", Record: cmd}
}

// PresenceMessage is published by agents on their presence topic.
type PresenceMessage struct {
	DeviceID string `json:"device_id"`
	Online   bool   `json:"online"`
	Reason   string `json:"reason,omitempty"`
}
