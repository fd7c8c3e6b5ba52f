package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domrelay/domrelay/internal/pkg/util"
	"github.com/domrelay/domrelay/internal/relayserver/core/service"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

type stubReasoner struct {
	out *ReasonerOutput
	err error
}

func (s stubReasoner) Reason(context.Context, Intent) (*ReasonerOutput, error) { return s.out, s.err }

type stubPlanner struct {
	out   *PlannerOutput
	calls int
}

func (s *stubPlanner) Plan(context.Context, Intent, *ReasonerOutput) (*PlannerOutput, error) {
	s.calls++
	return s.out, nil
}

type recordingEnqueuer struct {
	params []service.EnqueueParams
	failAt int
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, p service.EnqueueParams) (*v1.Command, error) {
	if r.failAt > 0 && len(r.params)+1 == r.failAt {
		return nil, errors.New("store down")
	}
	r.params = append(r.params, p)
	return &v1.Command{ID: string(p.Type), Type: p.Type}, nil
}

func step(t v1.CommandType, payload string, criteria ...string) PlannedCommand {
	return PlannedCommand{Type: t, Payload: json.RawMessage(payload), SuccessCriteria: criteria}
}

func TestHandle_NoActionRequired(t *testing.T) {
	planner := &stubPlanner{}
	enq := &recordingEnqueuer{}
	o := New(stubReasoner{out: &ReasonerOutput{ActionRequired: false, Response: "Paris."}}, planner, enq)

	resp, err := o.Handle(context.Background(), Intent{DeviceID: "dev-1", Message: "capital of France?"})
	require.NoError(t, err)
	assert.False(t, resp.ActionRequired)
	assert.Equal(t, "Paris.", resp.Response)
	assert.Empty(t, resp.CommandIDs)
	assert.Zero(t, planner.calls)
	assert.Empty(t, enq.params)
}

func TestHandle_EnqueuesInPlanOrder(t *testing.T) {
	planner := &stubPlanner{out: &PlannerOutput{Commands: []PlannedCommand{
		step(v1.CommandTypeNavigate, `{"url":"https://docs.example.com/d/1"}`, "url_changed == true"),
		step(v1.CommandTypeInsertContent, `{"selector":".editor","value":"hello world"}`, "content_length >= 11", "editor_detected == true"),
		step(v1.CommandTypeScanPage, `{}`),
	}}}
	enq := &recordingEnqueuer{}
	o := New(stubReasoner{out: &ReasonerOutput{ActionRequired: true, Response: "On it."}}, planner, enq)

	resp, err := o.Handle(context.Background(), Intent{UserID: "u1", DeviceID: "dev-1", Message: "write hello world"})
	require.NoError(t, err)
	assert.True(t, resp.ActionRequired)
	assert.Equal(t, []string{"navigate", "insert_content", "scan_page"}, resp.CommandIDs)

	require.Len(t, enq.params, 3)
	for _, p := range enq.params {
		assert.Equal(t, "u1", p.UserID)
		assert.Equal(t, "dev-1", p.DeviceID)
	}
	assert.Equal(t, []string{"content_length >= 11", "editor_detected == true"}, enq.params[1].SuccessCriteria)
}

func TestHandle_InvalidPlanEnqueuesNothing(t *testing.T) {
	tests := []struct {
		name string
		plan *PlannerOutput
	}{
		{"empty", &PlannerOutput{}},
		{"unknown type", &PlannerOutput{Commands: []PlannedCommand{step("teleport", `{}`)}}},
		{"bad payload in later step", &PlannerOutput{Commands: []PlannedCommand{
			step(v1.CommandTypeNavigate, `{"url":"https://example.com"}`),
			step(v1.CommandTypeClick, `{}`),
		}}},
		{"bad criterion", &PlannerOutput{Commands: []PlannedCommand{
			step(v1.CommandTypeNavigate, `{"url":"https://example.com"}`, "looks good"),
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enq := &recordingEnqueuer{}
			o := New(stubReasoner{out: &ReasonerOutput{ActionRequired: true}}, &stubPlanner{out: tt.plan}, enq)

			_, err := o.Handle(context.Background(), Intent{DeviceID: "dev-1", Message: "do it"})
			require.Error(t, err)
			assert.ErrorIs(t, err, util.ErrValidation)
			assert.Empty(t, enq.params)
		})
	}
}

func TestHandle_EnqueueFailureReportsPartialProgress(t *testing.T) {
	planner := &stubPlanner{out: &PlannerOutput{Commands: []PlannedCommand{
		step(v1.CommandTypeNavigate, `{"url":"https://example.com"}`),
		step(v1.CommandTypeScanPage, `{}`),
	}}}
	enq := &recordingEnqueuer{failAt: 2}
	o := New(stubReasoner{out: &ReasonerOutput{ActionRequired: true}}, planner, enq)

	resp, err := o.Handle(context.Background(), Intent{DeviceID: "dev-1", Message: "go"})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, []string{"navigate"}, resp.CommandIDs)
}

func TestHandle_RequiresMessageAndDevice(t *testing.T) {
	o := New(stubReasoner{}, &stubPlanner{}, &recordingEnqueuer{})

	_, err := o.Handle(context.Background(), Intent{DeviceID: "dev-1"})
	assert.ErrorIs(t, err, util.ErrValidation)

	_, err = o.Handle(context.Background(), Intent{Message: "hi"})
	assert.ErrorIs(t, err, util.ErrValidation)
}

func TestHandle_ReasonerError(t *testing.T) {
	boom := errors.New("model unavailable")
	o := New(stubReasoner{err: boom}, &stubPlanner{}, &recordingEnqueuer{})

	_, err := o.Handle(context.Background(), Intent{DeviceID: "dev-1", Message: "hi"})
	assert.ErrorIs(t, err, boom)
}
