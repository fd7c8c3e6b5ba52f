package v1

import "time"

// VerdictStatus is the verifier's final judgment.
type VerdictStatus string

const (
	VerdictSuccess        VerdictStatus = "SUCCESS"
	VerdictRetry          VerdictStatus = "RETRY"
	VerdictPartialSuccess VerdictStatus = "PARTIAL_SUCCESS"
	VerdictFailure        VerdictStatus = "FAILURE"
	VerdictBlocked        VerdictStatus = "BLOCKED"
)

// VerifierOutput is the verdict reached for one command from its evidence.
type VerifierOutput struct {
	Status             VerdictStatus `json:"status"`
	Reason             string        `json:"reason"`
	FinalMessageToUser string        `json:"final_message_to_user"`
	NewStrategyHint    string        `json:"new_strategy_hint,omitempty"`
	VerificationScore  int           `json:"verification_score"`
	MatchedCriteria    []string      `json:"matched_criteria,omitempty"`
	UnmetCriteria      []string      `json:"unmet_criteria,omitempty"`
	VerifiedAt         *time.Time    `json:"verified_at,omitempty"`
}

// IsSuccess reports whether every required criterion held.
func (v *VerifierOutput) IsSuccess() bool {
	return v != nil && v.Status == VerdictSuccess
}
