package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domrelay/domrelay/internal/orchestrator"
	"github.com/domrelay/domrelay/internal/pkg/auth"
	"github.com/domrelay/domrelay/internal/relayserver/core/service"
	"github.com/domrelay/domrelay/internal/relayserver/store"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	"github.com/domrelay/domrelay/pkg/log"
	"github.com/domrelay/domrelay/pkg/options"
)

type stubIntents struct{ got orchestrator.Intent }

func (s *stubIntents) Handle(_ context.Context, intent orchestrator.Intent) (*v1.IntentResponse, error) {
	s.got = intent
	return &v1.IntentResponse{ActionRequired: false, Response: "nothing to do"}, nil
}

type apiFixture struct {
	srv       *httptest.Server
	signer    *auth.Signer
	userToken string
	intents   *stubIntents
}

func newAPI(t *testing.T, httpOpts *options.HttpOptions) *apiFixture {
	t.Helper()

	dbOpts := options.NewDBOptions()
	dbOpts.SQLitePath = filepath.Join(t.TempDir(), "relay.db")
	dbOpts.LogLevel = "silent"
	db, err := store.Open(dbOpts)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	jwtOpts := options.NewJWTOptions()
	jwtOpts.Secret = "0123456789abcdef0123456789abcdef"
	signer := auth.NewSigner(jwtOpts)

	svc := service.New(store.NewRepository(db), nil, nil, signer)
	intents := &stubIntents{}
	if httpOpts == nil {
		httpOpts = options.NewHttpOptions()
	}
	h := NewHandler(&Config{Options: httpOpts, Service: svc, Auth: signer, Intents: intents}, log.NewNopLogger())

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	token, _, err := signer.SignUser("user-1", time.Hour)
	require.NoError(t, err)
	return &apiFixture{srv: srv, signer: signer, userToken: token, intents: intents}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (f *apiFixture) register(t *testing.T, deviceID string) v1.RegisterDeviceResponse {
	resp := f.do(t, http.MethodPost, "/v1/devices/register", f.userToken,
		v1.RegisterDeviceRequest{DeviceID: deviceID, BrowserInfo: "chrome 130", Version: "1.2.0", Capabilities: []string{"insert_via_api"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeBody[v1.RegisterDeviceResponse](t, resp)
}

func insertRequest(deviceID, value string, criteria ...string) v1.EnqueueRequest {
	raw, _ := json.Marshal(v1.InsertContentPayload{Selector: ".doc", Value: value})
	return v1.EnqueueRequest{DeviceID: deviceID, Type: v1.CommandTypeInsertContent, Payload: raw, SuccessCriteria: criteria}
}

func TestUnauthenticated(t *testing.T) {
	f := newAPI(t, nil)

	resp := f.do(t, http.MethodGet, "/v1/commands", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decodeBody[v1.ErrorResponse](t, resp)
	assert.Equal(t, v1.CodeUnauthenticated, body.Code)

	resp = f.do(t, http.MethodGet, "/v1/commands", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCommandLifecycle(t *testing.T) {
	f := newAPI(t, nil)
	reg := f.register(t, "dev-1")
	assert.Equal(t, v1.RegistrationOnline, reg.Status)
	require.NotEmpty(t, reg.Token)
	deviceToken := reg.Token

	resp := f.do(t, http.MethodPost, "/v1/commands", f.userToken, insertRequest("dev-1", strings.Repeat("X", 65), "content_length > 50"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	cmd := decodeBody[v1.Command](t, resp)
	assert.Equal(t, v1.CommandStatusPending, cmd.Status)

	resp = f.do(t, http.MethodGet, "/v1/commands?device_id=dev-1&status=pending", deviceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[v1.CommandList](t, resp)
	require.Len(t, list.Items, 1)
	assert.Equal(t, cmd.ID, list.Items[0].ID)

	resp = f.do(t, http.MethodPatch, "/v1/commands/"+cmd.ID, deviceToken, v1.UpdateCommandRequest{Status: v1.CommandStatusClaimed, AgentID: "agent-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	claimed := decodeBody[v1.Command](t, resp)
	assert.Equal(t, v1.CommandStatusClaimed, claimed.Status)

	resp = f.do(t, http.MethodPatch, "/v1/commands/"+cmd.ID, deviceToken, v1.UpdateCommandRequest{Status: v1.CommandStatusClaimed, AgentID: "agent-2"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, v1.CodeClaimConflict, decodeBody[v1.ErrorResponse](t, resp).Code)

	result := v1.NewExecutionResult(&claimed, v1.ResultStatusSuccess, "https://docs.example.com/d/1", "https://docs.example.com/d/1", "Doc",
		v1.DomSignals{EditorDetected: true, ContentLength: 65}, "")
	// The device clock is informational; the server stamps completion itself.
	skewed := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	resp = f.do(t, http.MethodPatch, "/v1/commands/"+cmd.ID, deviceToken, v1.UpdateCommandRequest{Status: v1.CommandStatusDone, Result: result, CompletedAt: &skewed})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	done := decodeBody[v1.Command](t, resp)
	assert.Equal(t, v1.CommandStatusDone, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.WithinDuration(t, time.Now(), *done.CompletedAt, time.Minute)

	// A replay of the same completion is answered with the stored command.
	resp = f.do(t, http.MethodPatch, "/v1/commands/"+cmd.ID, deviceToken, v1.UpdateCommandRequest{Status: v1.CommandStatusDone, Result: result})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, v1.CommandStatusDone, decodeBody[v1.Command](t, resp).Status)

	other := *result
	other.Timestamp = result.Timestamp.Add(time.Second)
	resp = f.do(t, http.MethodPatch, "/v1/commands/"+cmd.ID, deviceToken, v1.UpdateCommandRequest{Status: v1.CommandStatusDone, Result: &other})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, v1.CodeInvalidState, decodeBody[v1.ErrorResponse](t, resp).Code)

	resp = f.do(t, http.MethodGet, "/v1/commands/"+cmd.ID+"/verdict", f.userToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	verdict := decodeBody[v1.VerifierOutput](t, resp)
	assert.Equal(t, v1.VerdictSuccess, verdict.Status)
	assert.Equal(t, 100, verdict.VerificationScore)
}

func TestEnqueueErrors(t *testing.T) {
	f := newAPI(t, nil)
	f.register(t, "dev-1")

	tests := []struct {
		name string
		body any
		code int
		want string
	}{
		{"unknown device", insertRequest("ghost", "hi"), http.StatusNotFound, v1.CodeNotFound},
		{"bad payload", v1.EnqueueRequest{DeviceID: "dev-1", Type: v1.CommandTypeNavigate, Payload: json.RawMessage(`{"url":"nope"}`)}, http.StatusBadRequest, v1.CodeValidation},
		{"bad criterion", insertRequest("dev-1", "hi", "looks right"), http.StatusBadRequest, v1.CodeValidation},
		{"unknown body field", map[string]any{"device_id": "dev-1", "kind": "click"}, http.StatusBadRequest, v1.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/v1/commands", f.userToken, tt.body)
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.Equal(t, tt.want, decodeBody[v1.ErrorResponse](t, resp).Code)
		})
	}
}

func TestDeviceTokenScope(t *testing.T) {
	f := newAPI(t, nil)
	one := f.register(t, "dev-1")
	f.register(t, "dev-2")

	resp := f.do(t, http.MethodPost, "/v1/commands", f.userToken, insertRequest("dev-2", "hi"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	other := decodeBody[v1.Command](t, resp)

	resp = f.do(t, http.MethodGet, "/v1/commands/"+other.ID, one.Token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/v1/commands?device_id=dev-2", one.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[v1.CommandList](t, resp).Items)

	resp = f.do(t, http.MethodPost, "/v1/devices/dev-1/heartbeat", one.Token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/devices/dev-2/heartbeat", one.Token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/devices/dev-1/token", one.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tok := decodeBody[v1.TokenResponse](t, resp)
	claims, err := f.signer.Parse(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", claims.DeviceID)
	assert.Equal(t, "user-1", claims.UserID())
}

func TestCancelAndArtifactUnavailable(t *testing.T) {
	f := newAPI(t, nil)
	f.register(t, "dev-1")

	resp := f.do(t, http.MethodPost, "/v1/commands", f.userToken, insertRequest("dev-1", "hi"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	cmd := decodeBody[v1.Command](t, resp)

	resp = f.do(t, http.MethodPost, "/v1/commands/"+cmd.ID+"/artifact", f.userToken, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/v1/commands/"+cmd.ID+"/verdict", f.userToken, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/commands/"+cmd.ID+"/cancel", f.userToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, v1.CommandStatusCancelled, decodeBody[v1.Command](t, resp).Status)

	resp = f.do(t, http.MethodPost, "/v1/commands/"+cmd.ID+"/cancel", f.userToken, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestIntentCarriesDeviceCapabilities(t *testing.T) {
	f := newAPI(t, nil)
	f.register(t, "dev-1")

	resp := f.do(t, http.MethodPost, "/v1/intents", f.userToken, v1.IntentRequest{DeviceID: "dev-1", Message: "what time is it?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[v1.IntentResponse](t, resp)
	assert.False(t, body.ActionRequired)
	assert.Equal(t, "user-1", f.intents.got.UserID)
	assert.Equal(t, []string{"insert_via_api"}, f.intents.got.Capabilities)

	resp = f.do(t, http.MethodPost, "/v1/intents", f.userToken, v1.IntentRequest{DeviceID: "ghost", Message: "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	opts := options.NewHttpOptions()
	opts.RateLimit = 0.001
	opts.RateBurst = 2
	f := newAPI(t, opts)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, f.do(t, http.MethodGet, "/v1/devices", f.userToken, nil).StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestStatusFor(t *testing.T) {
	code, reason := statusFor(context.DeadlineExceeded)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, v1.CodeUnavailable, reason)

	code, _ = statusFor(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, code)
}
