// Package executor claims, runs and reports commands on the agent side.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/domrelay/domrelay/internal/pkg/util"
	"github.com/domrelay/domrelay/internal/relayagent/browser"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	"github.com/domrelay/domrelay/pkg/log"
)

const (
	defaultHandlerTimeout = 15 * time.Second
	observeTimeout        = 3 * time.Second
	reportTimeout         = 30 * time.Second
)

// API is the part of the relay client the executor uses.
type API interface {
	Claim(ctx context.Context, id, agentID string) (*v1.Command, error)
	Complete(ctx context.Context, id string, result *v1.ExecutionResult) (*v1.Command, error)
	ArtifactUploadURL(ctx context.Context, id string) (*v1.ArtifactUploadResponse, error)
}

// Executor drives one command at a time through its state machine.
type Executor struct {
	api            API
	driver         browser.Driver
	agentID        string
	handlerTimeout time.Duration
	uploader       Uploader
	logger         log.Logger
}

type Option func(*Executor)

// WithHandlerTimeout bounds how long an action may take to settle.
func WithHandlerTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.handlerTimeout = d
		}
	}
}

// WithScreenshots uploads a screenshot with u after every execution.
func WithScreenshots(u Uploader) Option {
	return func(e *Executor) { e.uploader = u }
}

func New(api API, driver browser.Driver, agentID string, opts ...Option) *Executor {
	e := &Executor{
		api:            api,
		driver:         driver,
		agentID:        agentID,
		handlerTimeout: defaultHandlerTimeout,
		logger:         log.WithName("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute claims cmd, runs it and reports the result. It returns the terminal
// state. Errors are returned only for claim and report failures that left the
// command untouched on the server.
func (e *Executor) Execute(ctx context.Context, cmd v1.Command) (string, error) {
	logger := e.logger.WithValues("command", cmd.ID, "type", cmd.Type)
	m := NewFiniteStateMachine(logger)
	run := &execution{notified: cmd}

	if err := m.Event(ctx, EventClaim, run); err != nil {
		return m.Current(), err
	}

	claimed, err := e.api.Claim(ctx, cmd.ID, e.agentID)
	if err != nil || claimed == nil {
		run.err = err
		if ferr := m.Event(ctx, EventAbandon, run); ferr != nil {
			return m.Current(), ferr
		}
		return m.Current(), err
	}
	if err := m.Event(ctx, EventClaimed, run, claimed); err != nil {
		return m.Current(), err
	}

	run.result = e.run(ctx, claimed)
	if err := m.Event(ctx, EventExecuted, run); err != nil {
		return m.Current(), err
	}

	if e.uploader != nil {
		e.attachScreenshot(ctx, claimed.ID)
	}

	// The report outlives agent shutdown so a finished action is not lost.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	_, run.err = e.api.Complete(rctx, claimed.ID, run.result)

	var reportErr error
	switch {
	case run.err == nil:
	case errors.Is(run.err, util.ErrInvalidState):
		// Replays of a recorded result succeed, so this is a command that was
		// cancelled or expired while it ran.
		logger.Info("Command no longer claimed, result dropped", "err", run.err)
	default:
		reportErr = fmt.Errorf("report command %s: %w", claimed.ID, run.err)
	}

	if m.Event(ctx, EventSucceed, run) != nil {
		if err := m.Event(ctx, EventFail, run); err != nil {
			return m.Current(), err
		}
	}
	logger.Info("Command finished", "state", m.Current(), "result", run.result.Status)
	return m.Current(), reportErr
}

func (e *Executor) attachScreenshot(ctx context.Context, id string) {
	sctx, cancel := context.WithTimeout(ctx, observeTimeout)
	defer cancel()

	png, err := e.driver.Screenshot(sctx)
	if err != nil {
		e.logger.Warn("Screenshot failed", "command", id, "err", err)
		return
	}
	target, err := e.api.ArtifactUploadURL(ctx, id)
	if err != nil {
		e.logger.Warn("Artifact upload URL unavailable", "command", id, "err", err)
		return
	}
	if err := e.uploader.Upload(ctx, target.URL, png); err != nil {
		e.logger.Warn("Artifact upload failed", "command", id, "key", target.Key, "err", err)
		return
	}
	e.logger.Debug("Artifact uploaded", "command", id, "key", target.Key)
}
