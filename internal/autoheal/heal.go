package autoheal

import (
	"context"
	"fmt"

	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

// Settle time bounds for a healed navigate, in milliseconds.
const (
	minNavigateWait = 2000
	maxNavigateWait = 60_000
)

// HealResult describes the corrective action taken.
type HealResult struct {
	Healed           bool   `json:"healed"`
	Action           string `json:"action"`
	RetryRecommended bool   `json:"retry_recommended"`
}

// Healer applies a fix for a diagnosed error type.
type Healer interface {
	Heal(ctx context.Context, t ErrorType, hctx *Context) (HealResult, error)
}

// CommandIssuer is the store access a CommandHealer needs.
type CommandIssuer interface {
	// Reissue enqueues a corrective command derived from parent.
	Reissue(ctx context.Context, parent *v1.Command, payload v1.Payload) (*v1.Command, error)

	// Supersede cancels a command that is still pending or claimed.
	Supersede(ctx context.Context, cmd *v1.Command) error
}

// CommandHealer heals by issuing a corrective command and pointing the
// session at it.
type CommandHealer struct {
	issuer CommandIssuer
}

var _ Healer = (*CommandHealer)(nil)

func NewCommandHealer(issuer CommandIssuer) *CommandHealer {
	return &CommandHealer{issuer: issuer}
}

func (h *CommandHealer) Heal(ctx context.Context, t ErrorType, hctx *Context) (HealResult, error) {
	if !t.AutoFixable() {
		return HealResult{Action: "none"}, nil
	}

	failed := hctx.Command
	payload, err := failed.DecodedPayload()
	if err != nil {
		return HealResult{}, fmt.Errorf("decode payload of %s: %w", failed.ID, err)
	}

	fixed, action := correct(t, payload)

	if !failed.Status.IsTerminal() {
		if err := h.issuer.Supersede(ctx, failed); err != nil {
			return HealResult{}, err
		}
	}

	next, err := h.issuer.Reissue(ctx, failed, fixed)
	if err != nil {
		return HealResult{}, err
	}
	hctx.Command = next

	return HealResult{
		Healed:           true,
		Action:           fmt.Sprintf("%s as %s", action, next.ID),
		RetryRecommended: true,
	}, nil
}

// correct derives the corrective payload. Inserts always retry in replace
// mode so a partial first insertion is not duplicated.
func correct(t ErrorType, p v1.Payload) (v1.Payload, string) {
	switch v := p.(type) {
	case v1.InsertContentPayload:
		if t == ErrorEditorNotDetected {
			return v1.InsertViaAPIPayload{Selector: v.Selector, Value: v.Value, Mode: v1.InsertModeReplace}, "switched to insert_via_api"
		}
		v.Mode = v1.InsertModeReplace
		return v, "reissued insert_content in replace mode"
	case v1.InsertViaAPIPayload:
		v.Mode = v1.InsertModeReplace
		return v, "reissued insert_via_api in replace mode"
	case v1.NavigatePayload:
		if t == ErrorTimeout || t == ErrorNoEvidence {
			v.WaitMs = min(max(v.WaitMs*2, minNavigateWait), maxNavigateWait)
			return v, fmt.Sprintf("reissued navigate with wait_ms=%d", v.WaitMs)
		}
		return v, "reissued navigate"
	}
	return p, fmt.Sprintf("reissued %s", p.CommandType())
}
