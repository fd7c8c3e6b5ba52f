package v1

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionResultWireShape(t *testing.T) {
	r := ExecutionResult{
		Success:     true,
		Status:      ResultStatusSuccess,
		CommandID:   "c1",
		CommandType: CommandTypeInsertContent,
		URLBefore:   "https://docs.example.com/d/1",
		URLAfter:    "https://docs.example.com/d/1",
		TitleAfter:  "Doc",
		DomSignals:  DomSignals{EditorDetected: true, ContentLength: 65, LastLinePresent: true},
		Timestamp:   time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"success": true,
		"status": "SUCCESS",
		"command_id": "c1",
		"command_type": "insert_content",
		"url_before": "https://docs.example.com/d/1",
		"url_after": "https://docs.example.com/d/1",
		"title_after": "Doc",
		"dom_signals": {"editor_detected": true, "content_length": 65, "last_line_present": true},
		"timestamp": "2025-01-02T03:04:05Z"
	}`, string(b))

	r.Success, r.Status, r.Retryable, r.Reason = false, ResultStatusFailed, true, "editor not found"
	b, err = json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"reason":"editor not found"`)
	assert.Contains(t, string(b), `"retryable":true`)
}

func TestExecutionResultValidate(t *testing.T) {
	cmd := &Command{ID: "c1", Type: CommandTypeClick}

	ok := NewExecutionResult(cmd, ResultStatusSuccess, "a", "b", "t", DomSignals{}, "")
	require.NoError(t, ok.Validate())
	assert.True(t, ok.Success)
	assert.Equal(t, CommandStatusDone, ok.CompletionStatus())

	retry := NewExecutionResult(cmd, ResultStatusRetry, "a", "a", "t", DomSignals{}, "timeout")
	assert.False(t, retry.Success)
	assert.True(t, retry.Retryable)
	assert.Equal(t, CommandStatusFailed, retry.CompletionStatus())

	lying := *ok
	lying.Status = ResultStatusFailed
	assert.ErrorContains(t, lying.Validate(), "contradicts")

	unknown := *ok
	unknown.Status = "MAYBE"
	assert.Error(t, unknown.Validate())

	var nilResult *ExecutionResult
	assert.Error(t, nilResult.Validate())
}
