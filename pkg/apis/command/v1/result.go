package v1

import (
	"errors"
	"fmt"
	"time"
)

// ResultStatus is the executor-level classification of an execution.
type ResultStatus string

const (
	ResultStatusSuccess ResultStatus = "SUCCESS"
	ResultStatusFailed  ResultStatus = "FAILED"
	ResultStatusRetry   ResultStatus = "RETRY"
	ResultStatusBlocked ResultStatus = "BLOCKED"
)

// DomSignals are facts measured in the page after the action ran.
type DomSignals struct {
	EditorDetected  bool `json:"editor_detected"`
	ContentLength   int  `json:"content_length"`
	LastLinePresent bool `json:"last_line_present"`

	// Extra holds additional typed signals (numbers, booleans, strings).
	Extra map[string]any `json:"extra,omitempty"`
}

// SignalContentDelta is the extra signal holding how many characters the
// action added to its target, measured before and after.
const SignalContentDelta = "content_delta"

// ExecutionResult is the evidence an executor reports for one command.
type ExecutionResult struct {
	Success     bool         `json:"success"`
	Status      ResultStatus `json:"status"`
	CommandID   string       `json:"command_id"`
	CommandType CommandType  `json:"command_type"`
	URLBefore   string       `json:"url_before"`
	URLAfter    string       `json:"url_after"`
	TitleAfter  string       `json:"title_after"`
	DomSignals  DomSignals   `json:"dom_signals"`
	Reason      string       `json:"reason,omitempty"`
	Retryable   bool         `json:"retryable,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// NewExecutionResult builds a result whose success flag is derived from status.
// RETRY results are always marked retryable.
func NewExecutionResult(cmd *Command, status ResultStatus, before, after, title string, signals DomSignals, reason string) *ExecutionResult {
	return &ExecutionResult{
		Success:     status == ResultStatusSuccess,
		Status:      status,
		CommandID:   cmd.ID,
		CommandType: cmd.Type,
		URLBefore:   before,
		URLAfter:    after,
		TitleAfter:  title,
		DomSignals:  signals,
		Reason:      reason,
		Retryable:   status == ResultStatusRetry,
		Timestamp:   time.Now().UTC(),
	}
}

// CompletionStatus maps the result onto the store lifecycle.
func (r *ExecutionResult) CompletionStatus() CommandStatus {
	if r.Success {
		return CommandStatusDone
	}
	return CommandStatusFailed
}

// Validate checks the structural invariants of a reported result.
func (r *ExecutionResult) Validate() error {
	if r == nil {
		return errors.New("result is required")
	}
	switch r.Status {
	case ResultStatusSuccess, ResultStatusFailed, ResultStatusRetry, ResultStatusBlocked:
	default:
		return fmt.Errorf("unknown result status %q", r.Status)
	}
	if r.Success != (r.Status == ResultStatusSuccess) {
		return fmt.Errorf("success=%t contradicts status %s", r.Success, r.Status)
	}
	if r.CommandID == "" {
		return errors.New("command_id is required")
	}
	if r.DomSignals.ContentLength < 0 {
		return errors.New("dom_signals.content_length must not be negative")
	}
	if r.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}
