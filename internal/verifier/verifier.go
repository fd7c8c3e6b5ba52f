// Package verifier judges, from reported evidence alone, whether a command's
// success criteria were met.
package verifier

import (
	"fmt"
	"strings"
	"time"

	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

// DefaultEvidenceWindow is how long a claimed command may go without a result
// before the verifier stops waiting.
const DefaultEvidenceWindow = 60 * time.Second

// flagOnlyCap bounds the score when no measured numeric signal backs the verdict.
const flagOnlyCap = 90

// Verifier is stateless; the zero value uses DefaultEvidenceWindow.
type Verifier struct {
	EvidenceWindow time.Duration
}

// New returns a Verifier with the given evidence window.
func New(window time.Duration) *Verifier {
	return &Verifier{EvidenceWindow: window}
}

// Verify evaluates cmd.Result against cmd's criteria at time now. It reports
// false while the command is still inside its evidence window with no result,
// in which case the returned output is nil.
func (v *Verifier) Verify(cmd *v1.Command, now time.Time) (*v1.VerifierOutput, bool) {
	r := cmd.Result
	if r == nil {
		if cmd.Status == v1.CommandStatusCancelled {
			return cancelled(cmd), true
		}
		if !cmd.Status.IsTerminal() && now.Before(v.deadline(cmd)) {
			return nil, false
		}
		return noEvidence(), true
	}

	// Status is authoritative; a contradictory success flag is ignored.
	switch r.Status {
	case v1.ResultStatusBlocked:
		return &v1.VerifierOutput{
			Status:             v1.VerdictBlocked,
			Reason:             orDefault(r.Reason, "execution was blocked"),
			FinalMessageToUser: "The browser was blocked from completing the action. A different approach is needed.",
		}, true
	case v1.ResultStatusRetry:
		return retry(cmd, r), true
	case v1.ResultStatusFailed:
		if r.Retryable {
			return retry(cmd, r), true
		}
		return &v1.VerifierOutput{
			Status:             v1.VerdictFailure,
			Reason:             orDefault(r.Reason, "execution failed"),
			FinalMessageToUser: fmt.Sprintf("The %s action did not succeed.", cmd.Type),
		}, true
	}

	return crossCheck(cmd, r), true
}

// Window is the effective evidence window.
func (v *Verifier) Window() time.Duration {
	if v.EvidenceWindow <= 0 {
		return DefaultEvidenceWindow
	}
	return v.EvidenceWindow
}

func (v *Verifier) deadline(cmd *v1.Command) time.Time {
	window := v.Window()
	anchor := cmd.CreatedAt
	if cmd.ClaimedAt != nil {
		anchor = *cmd.ClaimedAt
	}
	return anchor.Add(window)
}

func crossCheck(cmd *v1.Command, r *v1.ExecutionResult) *v1.VerifierOutput {
	criteria, err := v1.ParseCriteria(cmd.Criteria())
	if err != nil {
		return &v1.VerifierOutput{
			Status:             v1.VerdictFailure,
			Reason:             fmt.Sprintf("criteria cannot be checked: %v", err),
			FinalMessageToUser: "The result could not be verified.",
		}
	}
	if len(criteria) == 0 {
		// Nothing to falsify: never a full success on the executor's word alone.
		return &v1.VerifierOutput{
			Status:             v1.VerdictPartialSuccess,
			Reason:             "no checkable criteria",
			FinalMessageToUser: "The action ran, but its outcome could not be confirmed.",
		}
	}

	var (
		out            = &v1.VerifierOutput{}
		matched, total int
		numericMatched bool
		observations   []string
	)
	for _, c := range criteria {
		ev := c.Evaluate(r)
		total += c.Weight()
		if ev.Held {
			matched += c.Weight()
			out.MatchedCriteria = append(out.MatchedCriteria, c.String())
			if c.Kind == v1.SignalNumber {
				numericMatched = true
			}
			continue
		}
		out.UnmetCriteria = append(out.UnmetCriteria, c.String())
		observations = append(observations, fmt.Sprintf("%s (observed %s)", c, ev.Observed))
	}

	out.VerificationScore = matched * 100 / total
	if !numericMatched && out.VerificationScore > flagOnlyCap {
		out.VerificationScore = flagOnlyCap
	}

	switch {
	case len(out.UnmetCriteria) == 0:
		out.Status = v1.VerdictSuccess
		out.Reason = "all criteria held"
		out.FinalMessageToUser = fmt.Sprintf("The %s action completed and was verified.", cmd.Type)
	case len(out.MatchedCriteria) > 0:
		out.Status = v1.VerdictPartialSuccess
		out.Reason = "unmet: " + strings.Join(observations, "; ")
		out.FinalMessageToUser = fmt.Sprintf("The %s action only partly succeeded.", cmd.Type)
		out.NewStrategyHint = hintFor(cmd, r)
	default:
		out.Status = v1.VerdictFailure
		out.Reason = "unmet: " + strings.Join(observations, "; ")
		out.FinalMessageToUser = fmt.Sprintf("The %s action reported success, but the page does not show it.", cmd.Type)
		out.NewStrategyHint = hintFor(cmd, r)
	}
	return out
}

func noEvidence() *v1.VerifierOutput {
	return &v1.VerifierOutput{
		Status:             v1.VerdictRetry,
		Reason:             "no evidence received",
		FinalMessageToUser: "The browser did not report back in time.",
		NewStrategyHint:    "confirm the device is online, then reissue the command",
	}
}

// cancelled is final; any reissue is up to the caller.
func cancelled(cmd *v1.Command) *v1.VerifierOutput {
	return &v1.VerifierOutput{
		Status:             v1.VerdictFailure,
		Reason:             "command cancelled: " + orDefault(cmd.StatusReason, v1.ReasonCancelled),
		FinalMessageToUser: fmt.Sprintf("The %s action was cancelled before it reported back.", cmd.Type),
	}
}

func retry(cmd *v1.Command, r *v1.ExecutionResult) *v1.VerifierOutput {
	return &v1.VerifierOutput{
		Status:             v1.VerdictRetry,
		Reason:             orDefault(r.Reason, "retryable execution failure"),
		FinalMessageToUser: fmt.Sprintf("The %s action needs another attempt.", cmd.Type),
		NewStrategyHint:    hintFor(cmd, r),
	}
}

// hintFor suggests a different strategy based on what the evidence shows.
func hintFor(cmd *v1.Command, r *v1.ExecutionResult) string {
	reason := strings.ToLower(r.Reason)
	switch {
	case strings.Contains(reason, "timeout") || strings.Contains(reason, "deadline"):
		return "wait for the page to settle before acting (raise wait_ms)"
	case strings.Contains(reason, "selector") || strings.Contains(reason, "not found"):
		return "locate the target with a more specific selector"
	}

	switch cmd.Type {
	case v1.CommandTypeInsertContent:
		if !r.DomSignals.EditorDetected {
			return "editor not detected; retry with insert_via_api against the editor's own API"
		}
		return "content incomplete; retry in replace mode to avoid duplicated text"
	case v1.CommandTypeInsertViaAPI:
		if !r.DomSignals.EditorDetected {
			return "editor not detected; navigate to the document and rescan the page"
		}
		return "content incomplete; retry in replace mode to avoid duplicated text"
	case v1.CommandTypeNavigate:
		return "verify the URL is reachable and allow a longer wait"
	}
	return "retry with a different selector or strategy"
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
