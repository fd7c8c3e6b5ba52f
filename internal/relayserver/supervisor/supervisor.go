// Package supervisor verifies completed commands in the background and runs
// one auto-heal session per failing root command.
package supervisor

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"github.com/domrelay/domrelay/internal/autoheal"
	"github.com/domrelay/domrelay/internal/pkg/util"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	"github.com/domrelay/domrelay/pkg/log"
	"github.com/domrelay/domrelay/pkg/options"
)

// Service is the part of the relay service the supervisor drives.
type Service interface {
	autoheal.CommandIssuer

	VerifyPending(ctx context.Context, limit int) ([]v1.Command, error)
	Verdict(ctx context.Context, id string) (*v1.VerifierOutput, bool, error)
	Get(ctx context.Context, id string) (*v1.Command, error)
}

type Supervisor struct {
	svc    Service
	opts   *options.SupervisorOptions
	clock  clock.Clock
	logger log.Logger

	mu       sync.Mutex
	sessions map[string]struct{}
	wg       sync.WaitGroup
}

func New(svc Service, opts *options.SupervisorOptions, c clock.Clock) *Supervisor {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Supervisor{
		svc:      svc,
		opts:     opts,
		clock:    c,
		logger:   log.WithName("supervisor"),
		sessions: make(map[string]struct{}),
	}
}

// Start runs verification passes until ctx is cancelled, then waits for
// running heal sessions to observe the cancellation.
func (s *Supervisor) Start(ctx context.Context) error {
	s.logger.Info("Starting supervisor", "interval", s.opts.VerifyInterval, "autoHeal", s.opts.AutoHeal)

	wait.UntilWithContext(ctx, s.pass, s.opts.VerifyInterval)

	s.wg.Wait()
	s.logger.Info("Stopping supervisor")
	return nil
}

func (s *Supervisor) pass(ctx context.Context) {
	decided, err := s.svc.VerifyPending(ctx, s.opts.VerifyBatch)
	if err != nil {
		s.logger.Error(err, "Verification pass failed")
		return
	}
	if !s.opts.AutoHeal {
		return
	}

	for i := range decided {
		cmd := decided[i]
		// Corrective commands are awaited by their root's session.
		if cmd.ParentID != "" || cmd.Verification.IsSuccess() {
			continue
		}
		s.startSession(ctx, &cmd)
	}
}

// Sessions reports the number of running heal sessions.
func (s *Supervisor) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Supervisor) startSession(ctx context.Context, root *v1.Command) {
	s.mu.Lock()
	if _, running := s.sessions[root.ID]; running {
		s.mu.Unlock()
		return
	}
	s.sessions[root.ID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.sessions, root.ID)
			s.mu.Unlock()
		}()
		s.heal(ctx, root)
	}()
}

func (s *Supervisor) heal(ctx context.Context, root *v1.Command) {
	logger := s.logger.WithValues("root", root.ID, "type", root.Type)
	loop := autoheal.NewLoop[*v1.VerifierOutput](
		autoheal.NewCommandHealer(s.svc),
		autoheal.WithMaxRetries(s.opts.MaxRetries),
		autoheal.WithDelay(s.opts.RetryDelay),
		autoheal.WithClock(s.clock),
		autoheal.WithLogger(logger),
	)

	hctx := &autoheal.Context{Root: root, Command: root}
	res := loop.Run(ctx, hctx, func(ctx context.Context, hctx *autoheal.Context) (*v1.VerifierOutput, error) {
		if hctx.Attempt == 1 {
			// The root's verdict is what opened the session.
			return nil, &autoheal.VerificationError{Command: hctx.Root, Verdict: hctx.Root.Verification}
		}
		return s.await(ctx, hctx.Command.ID)
	})

	if res.OK() {
		logger.Info("Healed", "attempts", res.Attempts, "command", hctx.Command.ID, "score", res.Value.VerificationScore)
		return
	}
	var errorType autoheal.ErrorType
	if res.Diagnosis != nil {
		errorType = res.Diagnosis.ErrorType
	}
	logger.Info("Heal session ended without success", "attempts", res.Attempts, "errorType", errorType, "err", res.Err)
}

// await polls until the command has a verdict. A non-success verdict is
// returned as a VerificationError for diagnosis.
func (s *Supervisor) await(ctx context.Context, id string) (*v1.VerifierOutput, error) {
	var out *v1.VerifierOutput
	timeout := 2*s.opts.EvidenceWindow + s.opts.VerifyInterval

	err := wait.PollUntilContextTimeout(ctx, s.opts.VerifyInterval, timeout, false, func(ctx context.Context) (bool, error) {
		v, decided, err := s.svc.Verdict(ctx, id)
		if err != nil {
			return false, err
		}
		out = v
		return decided, nil
	})
	if err != nil {
		if wait.Interrupted(err) && ctx.Err() == nil {
			return nil, fmt.Errorf("awaiting verdict of %s: %w", id, util.ErrTimeout)
		}
		return nil, err
	}

	if out.IsSuccess() {
		return out, nil
	}
	cmd, err := s.svc.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, &autoheal.VerificationError{Command: cmd, Verdict: out}
}

