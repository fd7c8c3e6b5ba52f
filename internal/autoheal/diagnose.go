// Package autoheal runs bounded diagnose-heal-retry sessions for commands
// whose verdict was not a success.
package autoheal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/domrelay/domrelay/internal/pkg/util"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

// ErrorType classifies a failure for healing.
type ErrorType string

const (
	ErrorNoEvidence        ErrorType = "no_evidence"
	ErrorEditorNotDetected ErrorType = "editor_not_detected"
	ErrorContentIncomplete ErrorType = "content_incomplete"
	ErrorSelectorNotFound  ErrorType = "selector_not_found"
	ErrorTimeout           ErrorType = "timeout"
	ErrorBlocked           ErrorType = "blocked"
	ErrorTransport         ErrorType = "transport"
	ErrorUnknown           ErrorType = "unknown"
)

// AutoFixable reports whether a corrective command can plausibly help.
func (t ErrorType) AutoFixable() bool {
	switch t {
	case ErrorBlocked, ErrorTransport, ErrorUnknown:
		return false
	}
	return true
}

// Diagnosis is the classified root cause of a failure.
type Diagnosis struct {
	AutoFixable bool      `json:"auto_fixable"`
	RootCause   string    `json:"root_cause"`
	ErrorType   ErrorType `json:"error_type"`
}

// Context is the state a heal session threads through its attempts.
// Command always points at the command of the current attempt.
type Context struct {
	Root    *v1.Command
	Command *v1.Command
	Attempt int
}

// VerificationError reports a verdict other than SUCCESS for a command.
type VerificationError struct {
	Command *v1.Command
	Verdict *v1.VerifierOutput
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("command %s verified %s: %s", e.Command.ID, e.Verdict.Status, e.Verdict.Reason)
}

// Diagnose classifies err. Unrecognized errors are not auto-fixable.
func Diagnose(err error, _ *Context) Diagnosis {
	t, cause := classify(err)
	return Diagnosis{AutoFixable: t.AutoFixable(), RootCause: cause, ErrorType: t}
}

func classify(err error) (ErrorType, string) {
	var verr *VerificationError
	switch {
	case errors.As(err, &verr):
		return classifyVerdict(verr.Command, verr.Verdict)
	case errors.Is(err, util.ErrTimeout):
		return ErrorTimeout, err.Error()
	case errors.Is(err, util.ErrTransport):
		return ErrorTransport, err.Error()
	case err == nil:
		return ErrorUnknown, "no error"
	}
	return ErrorUnknown, err.Error()
}

func classifyVerdict(cmd *v1.Command, verdict *v1.VerifierOutput) (ErrorType, string) {
	if verdict.Status == v1.VerdictBlocked {
		return ErrorBlocked, verdict.Reason
	}

	r := cmd.Result
	if r == nil {
		return ErrorNoEvidence, verdict.Reason
	}

	reason := strings.ToLower(r.Reason)
	switch {
	case strings.Contains(reason, "timeout") || strings.Contains(reason, "deadline"):
		return ErrorTimeout, r.Reason
	case strings.Contains(reason, "selector") || strings.Contains(reason, "not found"):
		return ErrorSelectorNotFound, r.Reason
	}

	switch cmd.Type {
	case v1.CommandTypeInsertContent, v1.CommandTypeInsertViaAPI:
		if !r.DomSignals.EditorDetected {
			return ErrorEditorNotDetected, "editor was not detected on the page"
		}
		return ErrorContentIncomplete, fmt.Sprintf("editor holds %d characters", r.DomSignals.ContentLength)
	case v1.CommandTypeType:
		return ErrorContentIncomplete, fmt.Sprintf("field holds %d characters", r.DomSignals.ContentLength)
	}

	if r.Retryable || verdict.Status == v1.VerdictRetry {
		return ErrorTimeout, verdict.Reason
	}
	return ErrorUnknown, verdict.Reason
}
