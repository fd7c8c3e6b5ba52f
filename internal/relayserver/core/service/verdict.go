package service

import (
	"context"
	"time"

	"github.com/domrelay/domrelay/internal/pkg/metrics"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

// Verdict returns the recorded verdict of a command, verifying and persisting
// it first when none exists. It reports false while evidence may still arrive.
func (s *Service) Verdict(ctx context.Context, id string) (*v1.VerifierOutput, bool, error) {
	cmd, err := s.command.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return s.verify(ctx, cmd)
}

func (s *Service) verify(ctx context.Context, cmd *v1.Command) (*v1.VerifierOutput, bool, error) {
	if cmd.Verification != nil {
		return cmd.Verification, true, nil
	}

	now := s.now()
	out, decided := s.verifier.Verify(cmd, now)
	if !decided {
		return nil, false, nil
	}
	out.VerifiedAt = &now

	recorded, err := s.command.RecordVerdict(ctx, cmd.ID, out)
	if err != nil {
		return nil, false, err
	}
	if !recorded {
		// Someone else got there first; theirs stands.
		stored, err := s.command.Get(ctx, cmd.ID)
		if err != nil {
			return nil, false, err
		}
		return stored.Verification, stored.Verification != nil, nil
	}

	metrics.Verdicts.WithLabelValues(string(out.Status)).Inc()
	s.logger.Info("Command verified", "command", cmd.ID, "verdict", out.Status, "score", out.VerificationScore, "reason", out.Reason)
	return out, true, nil
}

// VerifyPending verifies up to limit commands still lacking a verdict and
// returns the ones decided in this pass.
func (s *Service) VerifyPending(ctx context.Context, limit int) ([]v1.Command, error) {
	cmds, err := s.command.ListUnverified(ctx, s.now().Add(-s.verifier.Window()), limit)
	if err != nil {
		return nil, err
	}

	var decided []v1.Command
	for i := range cmds {
		out, ok, err := s.verify(ctx, &cmds[i])
		if err != nil {
			s.logger.Error(err, "Verification failed", "command", cmds[i].ID)
			continue
		}
		if !ok {
			continue
		}
		cmds[i].Verification = out
		decided = append(decided, cmds[i])
	}
	return decided, nil
}

// ExpireStale fails pending and claimed commands that outlived their TTLs.
func (s *Service) ExpireStale(ctx context.Context, pendingTTL, claimTTL time.Duration) (int64, int64, error) {
	now := s.now()
	pending, err := s.command.ExpirePending(ctx, now.Add(-pendingTTL), now)
	if err != nil {
		return 0, 0, err
	}
	claimed, err := s.command.ExpireClaimed(ctx, now.Add(-claimTTL), now)
	if err != nil {
		return pending, 0, err
	}

	metrics.CommandsExpired.WithLabelValues(string(v1.CommandStatusPending)).Add(float64(pending))
	metrics.CommandsExpired.WithLabelValues(string(v1.CommandStatusClaimed)).Add(float64(claimed))
	if pending+claimed > 0 {
		s.logger.Info("Expired stale commands", "pending", pending, "claimed", claimed)
	}
	return pending, claimed, nil
}
