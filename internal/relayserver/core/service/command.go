package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/domrelay/domrelay/internal/pkg/metrics"
	"github.com/domrelay/domrelay/internal/pkg/util"
	"github.com/domrelay/domrelay/internal/relayserver/core"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

// EnqueueParams describes a command to insert.
type EnqueueParams struct {
	UserID          string
	DeviceID        string
	Type            v1.CommandType
	Payload         json.RawMessage
	SuccessCriteria []string

	// ParentID and Attempt are set on corrective commands.
	ParentID string
	Attempt  int
}

// Enqueue validates and inserts a pending command, then notifies the device.
// Nothing is written when validation fails.
func (s *Service) Enqueue(ctx context.Context, p EnqueueParams) (*v1.Command, error) {
	if p.DeviceID == "" {
		return nil, util.Validationf("device_id is required")
	}
	device, err := s.device.Get(ctx, p.DeviceID)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return nil, util.UnknownDevice(p.DeviceID)
		}
		return nil, err
	}
	if p.UserID != "" && device.UserID != "" && device.UserID != p.UserID {
		return nil, util.UnknownDevice(p.DeviceID)
	}

	payload, err := v1.DecodePayload(p.Type, p.Payload)
	if err != nil {
		return nil, util.Validationf("%v", err)
	}
	if _, err := v1.ParseCriteria(p.SuccessCriteria); err != nil {
		return nil, util.Validationf("%v", err)
	}
	raw, err := v1.EncodePayload(payload)
	if err != nil {
		return nil, util.Validationf("%v", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate command id: %w", err)
	}

	userID := p.UserID
	if userID == "" {
		userID = device.UserID
	}
	cmd := &v1.Command{
		ID:              id.String(),
		DeviceID:        p.DeviceID,
		UserID:          userID,
		Type:            p.Type,
		Payload:         raw,
		Status:          v1.CommandStatusPending,
		SuccessCriteria: p.SuccessCriteria,
		ParentID:        p.ParentID,
		Attempt:         p.Attempt,
		CreatedAt:       s.now(),
	}
	if err := s.command.Create(ctx, cmd); err != nil {
		return nil, err
	}
	metrics.CommandsEnqueued.WithLabelValues(string(cmd.Type)).Inc()
	s.logger.Info("Command enqueued", "command", cmd.ID, "device", cmd.DeviceID, "type", cmd.Type, "parent", cmd.ParentID)

	s.notify(ctx, cmd)
	return cmd, nil
}

// notify pushes the INSERT event. Failures never reach the enqueuer; the
// agent's poll loop picks the command up regardless.
func (s *Service) notify(ctx context.Context, cmd *v1.Command) {
	if s.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()

	if err := s.notifier.Notify(nctx, cmd); err != nil {
		metrics.Notifications.WithLabelValues(s.notifier.Name(), "error").Inc()
		s.logger.Warn("Push notification failed", "command", cmd.ID, "device", cmd.DeviceID, "backend", s.notifier.Name(), "err", err)
		return
	}
	metrics.Notifications.WithLabelValues(s.notifier.Name(), "sent").Inc()
}

// Claim moves a pending command to claimed for agentID. A lost race returns
// (nil, nil).
func (s *Service) Claim(ctx context.Context, id, agentID string) (*v1.Command, error) {
	if agentID == "" {
		return nil, util.Validationf("agent_id is required to claim")
	}
	cmd, err := s.command.Claim(ctx, id, agentID, s.now())
	if err != nil {
		return nil, err
	}
	if cmd == nil {
		metrics.CommandClaims.WithLabelValues("conflict").Inc()
		s.logger.Debug("Claim lost", "command", id, "agent", agentID)
		return nil, nil
	}
	metrics.CommandClaims.WithLabelValues("claimed").Inc()
	return cmd, nil
}

// Complete records the executor's evidence. A completion for a command that
// is no longer claimed returns ErrInvalidState and changes nothing.
func (s *Service) Complete(ctx context.Context, id string, result *v1.ExecutionResult) (*v1.Command, error) {
	if err := result.Validate(); err != nil {
		return nil, util.Validationf("%v", err)
	}
	if result.CommandID != id {
		return nil, util.Validationf("result.command_id %q does not match command %q", result.CommandID, id)
	}

	cmd, err := s.command.Complete(ctx, id, result, s.now())
	if err != nil {
		if errors.Is(err, util.ErrInvalidState) {
			metrics.CommandCompletions.WithLabelValues("stale").Inc()
			s.logger.Info("Stale completion discarded", "command", id, "err", err)
		}
		return nil, err
	}
	metrics.CommandCompletions.WithLabelValues(string(cmd.Status)).Inc()
	s.logger.Info("Command completed", "command", id, "status", cmd.Status, "result", result.Status)
	return cmd, nil
}

func (s *Service) Get(ctx context.Context, id string) (*v1.Command, error) {
	return s.command.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter core.ListFilter) ([]v1.Command, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, util.Validationf("unknown status %q", filter.Status)
	}
	return s.command.List(ctx, filter)
}

// ListPending re-queries the device's pending commands in creation order.
func (s *Service) ListPending(ctx context.Context, deviceID string) ([]v1.Command, error) {
	return s.command.List(ctx, core.ListFilter{DeviceID: deviceID, Status: v1.CommandStatusPending})
}

func (s *Service) Cancel(ctx context.Context, id string) (*v1.Command, error) {
	cmd, err := s.command.Cancel(ctx, id, v1.ReasonCancelled, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info("Command cancelled", "command", id)
	return cmd, nil
}

// Reissue enqueues a corrective command for parent. Corrective commands
// always point at the root of their chain.
func (s *Service) Reissue(ctx context.Context, parent *v1.Command, payload v1.Payload) (*v1.Command, error) {
	raw, err := v1.EncodePayload(payload)
	if err != nil {
		return nil, util.Validationf("%v", err)
	}
	root := parent.ParentID
	if root == "" {
		root = parent.ID
	}
	return s.Enqueue(ctx, EnqueueParams{
		UserID:          parent.UserID,
		DeviceID:        parent.DeviceID,
		Type:            payload.CommandType(),
		Payload:         raw,
		SuccessCriteria: parent.SuccessCriteria,
		ParentID:        root,
		Attempt:         parent.Attempt + 1,
	})
}

// Supersede cancels cmd because a corrective command replaces it. A command
// that already reached a terminal status is left alone.
func (s *Service) Supersede(ctx context.Context, cmd *v1.Command) error {
	_, err := s.command.Cancel(ctx, cmd.ID, v1.ReasonSuperseded, s.now())
	if errors.Is(err, util.ErrInvalidState) {
		return nil
	}
	return err
}
