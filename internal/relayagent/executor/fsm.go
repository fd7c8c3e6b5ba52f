package executor

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	fsmutil "github.com/domrelay/domrelay/internal/pkg/util/fsm"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	"github.com/domrelay/domrelay/pkg/log"
)

// Execution states of one command on this agent.
const (
	StateNotified  = "notified"
	StateClaiming  = "claiming"
	StateExecuting = "executing"
	StateReporting = "reporting"
	StateDone      = "done"
	StateFailed    = "failed"
	StateAbandoned = "abandoned"
)

const (
	// EventClaim starts the claim request.
	EventClaim = "event_claim"
	// EventClaimed carries the claimed command.
	EventClaimed = "event_claimed"
	// EventAbandon gives the command up to another executor.
	EventAbandon = "event_abandon"
	// EventExecuted carries the execution result.
	EventExecuted = "event_executed"
	// EventSucceed records an accepted successful report.
	EventSucceed = "event_succeed"
	// EventFail records a failed execution or a report that was not accepted.
	EventFail = "event_fail"
)

// execution is the data a state machine run attaches to its events.
type execution struct {
	notified v1.Command
	claimed  *v1.Command
	result   *v1.ExecutionResult
	err      error
}

type FiniteStateMachine struct {
	*fsm.FSM
	logger log.Logger
}

func NewFiniteStateMachine(logger log.Logger) *FiniteStateMachine {
	f := &FiniteStateMachine{logger: logger}

	events := fsm.Events{
		{Name: EventClaim, Src: []string{StateNotified}, Dst: StateClaiming},
		{Name: EventClaimed, Src: []string{StateClaiming}, Dst: StateExecuting},
		{Name: EventAbandon, Src: []string{StateClaiming}, Dst: StateAbandoned},
		{Name: EventExecuted, Src: []string{StateExecuting}, Dst: StateReporting},
		{Name: EventSucceed, Src: []string{StateReporting}, Dst: StateDone},
		{Name: EventFail, Src: []string{StateReporting}, Dst: StateFailed},
	}

	callbacks := fsm.Callbacks{
		"before_" + EventClaimed:  fsmutil.WrapEvent(f.GuardClaimed),
		"before_" + EventExecuted: fsmutil.WrapEvent(f.GuardResult),
		"before_" + EventSucceed:  fsmutil.WrapEvent(f.GuardSucceeded),

		"enter_" + StateAbandoned: fsmutil.WrapEvent(f.ActionEnterAbandoned),
		"enter_" + StateFailed:    fsmutil.WrapEvent(f.ActionEnterFailed),
		"enter_state":             fsmutil.TraceTransitions(logger),
	}

	f.FSM = fsm.NewFSM(StateNotified, events, callbacks)
	return f
}

func runOf(e *fsm.Event) *execution {
	return e.Args[0].(*execution)
}

// GuardClaimed records the claimed command and refuses a claim of another row.
func (f *FiniteStateMachine) GuardClaimed(_ context.Context, e *fsm.Event) error {
	run := runOf(e)
	cmd, _ := e.Args[1].(*v1.Command)
	if cmd == nil || cmd.ID != run.notified.ID {
		e.Cancel(fmt.Errorf("claim returned a different command"))
		return nil
	}
	run.claimed = cmd
	return nil
}

// GuardResult refuses to report a result that the store would reject.
func (f *FiniteStateMachine) GuardResult(_ context.Context, e *fsm.Event) error {
	run := runOf(e)
	if err := run.result.Validate(); err != nil {
		e.Cancel(fmt.Errorf("invalid result: %w", err))
	}
	return nil
}

// GuardSucceeded only lets a successful, accepted report end in done.
func (f *FiniteStateMachine) GuardSucceeded(_ context.Context, e *fsm.Event) error {
	run := runOf(e)
	if run.err != nil || !run.result.Success {
		e.Cancel(fsm.NoTransitionError{})
	}
	return nil
}

func (f *FiniteStateMachine) ActionEnterAbandoned(_ context.Context, e *fsm.Event) error {
	run := runOf(e)
	if run.err != nil {
		f.logger.Warn("Command abandoned", "command", run.notified.ID, "err", run.err)
		return nil
	}
	f.logger.Debug("Command claimed elsewhere", "command", run.notified.ID)
	return nil
}

func (f *FiniteStateMachine) ActionEnterFailed(_ context.Context, e *fsm.Event) error {
	run := runOf(e)
	f.logger.Info("Command failed", "command", run.notified.ID, "result", run.result.Status, "reason", run.result.Reason, "err", run.err)
	return nil
}
