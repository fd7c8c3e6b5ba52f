package fsm

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/domrelay/domrelay/pkg/log"
)

// WrapEvent adapts an error-returning callback to fsm.Callback.
// A returned error is stored on the event and surfaces from FSM.Event.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// TraceTransitions returns an "enter_state" callback that logs every transition at debug.
func TraceTransitions(logger log.Logger) fsm.Callback {
	return func(_ context.Context, e *fsm.Event) {
		logger.Debug("State transition", "event", e.Event, "from", e.Src, "to", e.Dst)
	}
}
