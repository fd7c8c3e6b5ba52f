package executor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/domrelay/domrelay/internal/relayagent/browser"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

// expectation is what a handler's action should leave in the page.
type expectation struct {
	// origin the page must still be on afterwards; empty skips the check.
	origin string

	// selector scopes the editor measurement.
	selector string
	lastLine string

	minLength   int
	needsEditor bool

	// minDelta is how much the target must grow. baseline is its length
	// before the action and is only meaningful when measured is set.
	minDelta int
	baseline int
	measured bool
}

// delta is the growth of the target measured across the action.
func (w expectation) delta(after *browser.Observation) int {
	return after.ContentLength - w.baseline
}

// run executes the handler of cmd's payload and classifies what it measured.
// Action failures become result data and are never retried here.
func (e *Executor) run(ctx context.Context, cmd *v1.Command) *v1.ExecutionResult {
	payload, err := v1.DecodePayload(cmd.Type, cmd.Payload)
	if err != nil {
		return v1.NewExecutionResult(cmd, v1.ResultStatusFailed, "", "", "", v1.DomSignals{}, err.Error())
	}

	hctx, cancel := context.WithTimeout(ctx, e.handlerTimeout)
	defer cancel()

	before, err := e.driver.Observe(hctx, "", "")
	if err != nil {
		return v1.NewExecutionResult(cmd, classifyError(ctx, hctx, err), "", "", "", v1.DomSignals{}, fmt.Sprintf("observe page: %v", err))
	}

	want, actErr := e.handle(hctx, payload, before)

	// The page is measured even after a deadline so the report carries evidence.
	octx, ocancel := context.WithTimeout(ctx, observeTimeout)
	defer ocancel()
	after, obsErr := e.driver.Observe(octx, want.selector, want.lastLine)

	status, reason := classify(ctx, hctx, want, after, actErr, obsErr)
	var urlAfter, title string
	if after != nil {
		urlAfter, title = after.URL, after.Title
	}
	signals := after.Signals()
	if want.measured && after != nil {
		signals.Extra = map[string]any{v1.SignalContentDelta: want.delta(after)}
	}
	return v1.NewExecutionResult(cmd, status, before.URL, urlAfter, title, signals, reason)
}

// measure records the target's length before the action so the report
// carries what the action changed rather than what the field already held.
func (e *Executor) measure(ctx context.Context, want *expectation) error {
	base, err := e.driver.Observe(ctx, want.selector, "")
	if err != nil {
		return fmt.Errorf("observe %s: %w", want.selector, err)
	}
	want.baseline, want.measured = base.ContentLength, true
	return nil
}

// growth sets the expectation of an insert: appended content must grow the
// editor by value, a replace must leave at least value in it.
func (e *Executor) growth(ctx context.Context, want *expectation, value string, mode v1.InsertMode) error {
	n := utf8.RuneCountInString(value)
	if mode == v1.InsertModeReplace {
		want.minLength = n
	} else {
		want.minDelta = n
	}
	return e.measure(ctx, want)
}

func (e *Executor) handle(ctx context.Context, payload v1.Payload, before *browser.Observation) (expectation, error) {
	want := expectation{origin: originOf(before.URL)}

	switch p := payload.(type) {
	case v1.NavigatePayload:
		want.origin = originOf(p.URL)
		if err := e.driver.Navigate(ctx, p.URL); err != nil {
			return want, err
		}
		return want, sleep(ctx, time.Duration(p.WaitMs)*time.Millisecond)

	case v1.ClickPayload:
		return want, e.driver.Click(ctx, p.Selector)

	case v1.TypePayload:
		want.selector = p.Selector
		want.minDelta = utf8.RuneCountInString(p.Text)
		if err := e.measure(ctx, &want); err != nil {
			return want, err
		}
		return want, e.driver.Type(ctx, p.Selector, p.Text)

	case v1.InsertContentPayload:
		want.selector, want.lastLine, want.needsEditor = p.Selector, browser.LastLine(p.Value), true
		if err := e.growth(ctx, &want, p.Value, p.Mode); err != nil {
			return want, err
		}
		return want, e.driver.Insert(ctx, p.Selector, p.Value, p.Mode, false)

	case v1.InsertViaAPIPayload:
		want.selector, want.lastLine, want.needsEditor = p.Selector, browser.LastLine(p.Value), true
		if err := e.growth(ctx, &want, p.Value, p.Mode); err != nil {
			return want, err
		}
		return want, e.driver.Insert(ctx, p.Selector, p.Value, p.Mode, true)

	case v1.ScanPagePayload:
		want.selector = p.Selector
		return want, nil
	}
	return want, fmt.Errorf("%w: %s", v1.ErrUnknownCommandType, payload.CommandType())
}

// classify maps what happened onto a result status:
//
//	RETRY    the handler deadline passed before the page settled
//	BLOCKED  the page ended up on another origin
//	SUCCESS  the expected signals are present
//	FAILED   anything else
func classify(parent, hctx context.Context, want expectation, after *browser.Observation, actErr, obsErr error) (v1.ResultStatus, string) {
	if actErr != nil {
		status := classifyError(parent, hctx, actErr)
		if status == v1.ResultStatusRetry {
			return status, "handler deadline exceeded before the page settled"
		}
		if after != nil && want.origin != "" && originOf(after.URL) != "" && originOf(after.URL) != want.origin {
			return v1.ResultStatusBlocked, fmt.Sprintf("navigation left %s for %s: %v", want.origin, originOf(after.URL), actErr)
		}
		return status, actErr.Error()
	}
	if obsErr != nil {
		return v1.ResultStatusFailed, fmt.Sprintf("observe page: %v", obsErr)
	}
	if want.origin != "" {
		if got := originOf(after.URL); got != want.origin {
			return v1.ResultStatusBlocked, fmt.Sprintf("navigation left %s for %s", want.origin, displayOrigin(after.URL))
		}
	}

	var unmet []string
	if want.needsEditor && !after.EditorDetected {
		unmet = append(unmet, "no editor detected")
	}
	if want.minLength > 0 && after.ContentLength < want.minLength {
		unmet = append(unmet, fmt.Sprintf("content length %d below %d", after.ContentLength, want.minLength))
	}
	if want.minDelta > 0 && want.delta(after) < want.minDelta {
		unmet = append(unmet, fmt.Sprintf("content grew by %d, expected %d", want.delta(after), want.minDelta))
	}
	if want.lastLine != "" && !after.LastLinePresent {
		unmet = append(unmet, "last line not present")
	}
	if len(unmet) > 0 {
		return v1.ResultStatusFailed, strings.Join(unmet, "; ")
	}
	return v1.ResultStatusSuccess, ""
}

// classifyError separates the handler's own deadline from agent shutdown and
// from action failures.
func classifyError(parent, hctx context.Context, err error) v1.ResultStatus {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil && hctx.Err() != nil {
		return v1.ResultStatusRetry
	}
	return v1.ResultStatusFailed
}

// originOf returns scheme://host of an http(s) URL, or "" for anything else.
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + strings.ToLower(u.Host)
}

func displayOrigin(raw string) string {
	if o := originOf(raw); o != "" {
		return o
	}
	if raw == "" {
		return "<unknown>"
	}
	return raw
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
