package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/domrelay/domrelay/internal/pkg/util"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

var fastBackoff = wait.Backoff{Duration: time.Millisecond, Factor: 1, Steps: 3}

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, append([]Option{WithBackoff(fastBackoff), WithToken("secret")}, opts...)...)
	require.NoError(t, err)
	return c
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v1.ErrorResponse{Code: code, Message: "boom"})
}

func TestClaimConflictIsNil(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req v1.UpdateCommandRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, v1.CommandStatusClaimed, req.Status)
		assert.Equal(t, "agent-1", req.AgentID)
		writeError(w, http.StatusConflict, v1.CodeClaimConflict)
	})

	cmd, err := c.Claim(context.Background(), "cmd-1", "agent-1")
	assert.NoError(t, err)
	assert.Nil(t, cmd)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		code   string
		want   error
	}{
		{http.StatusBadRequest, v1.CodeValidation, util.ErrValidation},
		{http.StatusNotFound, v1.CodeNotFound, util.ErrNotFound},
		{http.StatusConflict, v1.CodeInvalidState, util.ErrInvalidState},
		{http.StatusUnauthorized, v1.CodeUnauthenticated, util.ErrUnauthenticated},
		{http.StatusServiceUnavailable, v1.CodeUnavailable, util.ErrUnavailable},
		{http.StatusInternalServerError, v1.CodeInternal, util.ErrTransport},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) { writeError(w, tt.status, tt.code) })
			_, err := c.Get(context.Background(), "cmd-1")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
		})
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			writeError(w, http.StatusBadGateway, "")
			return
		}
		_ = json.NewEncoder(w).Encode(v1.CommandList{Items: []v1.Command{{ID: "a"}, {ID: "b"}}})
	})

	items, err := c.ListPending(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.EqualValues(t, 3, calls.Load())
}

func TestDoesNotRetryValidationOrEnqueue(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeError(w, http.StatusInternalServerError, v1.CodeInternal)
	})

	_, err := c.Enqueue(context.Background(), &v1.EnqueueRequest{DeviceID: "dev-1", Type: v1.CommandTypeScanPage})
	assert.ErrorIs(t, err, util.ErrTransport)
	assert.EqualValues(t, 1, calls.Load())

	calls.Store(0)
	c = newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeError(w, http.StatusBadRequest, v1.CodeValidation)
	})
	_, err = c.Get(context.Background(), "x")
	assert.ErrorIs(t, err, util.ErrValidation)
	assert.EqualValues(t, 1, calls.Load())
}

func TestTimeoutIsDistinct(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, WithTimeout(50*time.Millisecond), WithBackoff(wait.Backoff{Duration: time.Millisecond, Steps: 1}))

	err := c.Heartbeat(context.Background(), "dev-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrTimeout)
	assert.NotErrorIs(t, err, util.ErrTransport)
}

func TestVerdictPending(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) })

	out, decided, err := c.Verdict(context.Background(), "cmd-1")
	require.NoError(t, err)
	assert.False(t, decided)
	assert.Nil(t, out)
}

type rotatingToken struct{ n atomic.Int32 }

func (r *rotatingToken) Token() string {
	if r.n.Add(1) == 1 {
		return "old"
	}
	return "new"
}

func TestTokenSourcePerRequest(t *testing.T) {
	var seen []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}, WithTokenSource(&rotatingToken{}))

	require.NoError(t, c.Heartbeat(context.Background(), "dev-1"))
	require.NoError(t, c.Heartbeat(context.Background(), "dev-1"))
	assert.Equal(t, []string{"Bearer old", "Bearer new"}, seen)
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := New("localhost:8443")
	assert.Error(t, err)
}
