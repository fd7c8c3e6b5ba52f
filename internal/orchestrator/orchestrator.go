// Package orchestrator turns a user intent into enqueued commands. A
// reasoner gates whether any browser action is needed; a planner emits the
// commands and the criteria that will later be checked against evidence.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/domrelay/domrelay/internal/pkg/util"
	"github.com/domrelay/domrelay/internal/relayserver/core/service"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	"github.com/domrelay/domrelay/pkg/log"
)

// maxPlanLength bounds a single plan.
const maxPlanLength = 20

// Intent is a user request addressed to one device.
type Intent struct {
	UserID       string
	DeviceID     string
	Message      string
	Capabilities []string
}

type ReasonerOutput struct {
	ActionRequired bool   `json:"action_required"`
	Response       string `json:"response"`
	Rationale      string `json:"rationale"`
}

type PlannedCommand struct {
	Type            v1.CommandType  `json:"type"`
	Payload         json.RawMessage `json:"payload"`
	SuccessCriteria []string        `json:"success_criteria"`
}

type PlannerOutput struct {
	Commands []PlannedCommand `json:"commands"`
}

type Reasoner interface {
	Reason(ctx context.Context, intent Intent) (*ReasonerOutput, error)
}

type Planner interface {
	Plan(ctx context.Context, intent Intent, reasoning *ReasonerOutput) (*PlannerOutput, error)
}

// Enqueuer inserts commands into the store.
type Enqueuer interface {
	Enqueue(ctx context.Context, p service.EnqueueParams) (*v1.Command, error)
}

type Orchestrator struct {
	reasoner Reasoner
	planner  Planner
	enqueuer Enqueuer
	logger   log.Logger
}

func New(reasoner Reasoner, planner Planner, enqueuer Enqueuer) *Orchestrator {
	return &Orchestrator{
		reasoner: reasoner,
		planner:  planner,
		enqueuer: enqueuer,
		logger:   log.WithName("orchestrator"),
	}
}

// Handle reasons about the intent and, when an action is required, enqueues
// the planned commands in order. It returns without waiting for execution.
func (o *Orchestrator) Handle(ctx context.Context, intent Intent) (*v1.IntentResponse, error) {
	if intent.Message == "" {
		return nil, util.Validationf("message is required")
	}
	if intent.DeviceID == "" {
		return nil, util.Validationf("device_id is required")
	}

	reasoning, err := o.reasoner.Reason(ctx, intent)
	if err != nil {
		return nil, fmt.Errorf("reason: %w", err)
	}
	if !reasoning.ActionRequired {
		o.logger.Debug("No action required", "device", intent.DeviceID, "rationale", reasoning.Rationale)
		return &v1.IntentResponse{ActionRequired: false, Response: reasoning.Response}, nil
	}

	plan, err := o.planner.Plan(ctx, intent, reasoning)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	if err := ValidatePlan(plan); err != nil {
		return nil, util.Validationf("plan rejected: %v", err)
	}

	resp := &v1.IntentResponse{ActionRequired: true, Response: reasoning.Response}
	for i, c := range plan.Commands {
		cmd, err := o.enqueuer.Enqueue(ctx, service.EnqueueParams{
			UserID:          intent.UserID,
			DeviceID:        intent.DeviceID,
			Type:            c.Type,
			Payload:         c.Payload,
			SuccessCriteria: c.SuccessCriteria,
		})
		if err != nil {
			// Commands already enqueued stay; they are reported with the error.
			return resp, fmt.Errorf("enqueue step %d of %d: %w", i+1, len(plan.Commands), err)
		}
		resp.CommandIDs = append(resp.CommandIDs, cmd.ID)
	}

	o.logger.Info("Plan enqueued", "device", intent.DeviceID, "commands", len(resp.CommandIDs), "rationale", reasoning.Rationale)
	return resp, nil
}

// ValidatePlan checks every step so that a bad plan enqueues nothing.
func ValidatePlan(plan *PlannerOutput) error {
	if plan == nil || len(plan.Commands) == 0 {
		return errors.New("plan has no commands")
	}
	if len(plan.Commands) > maxPlanLength {
		return fmt.Errorf("plan has %d commands, at most %d allowed", len(plan.Commands), maxPlanLength)
	}
	for i, c := range plan.Commands {
		if _, err := v1.DecodePayload(c.Type, c.Payload); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		if _, err := v1.ParseCriteria(c.SuccessCriteria); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}
