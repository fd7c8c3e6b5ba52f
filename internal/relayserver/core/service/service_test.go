package service

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/domrelay/domrelay/internal/pkg/util"
	"github.com/domrelay/domrelay/internal/relayserver/store"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	"github.com/domrelay/domrelay/pkg/options"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (n *fakeNotifier) Name() string { return "fake" }

func (n *fakeNotifier) Notify(_ context.Context, cmd *v1.Command) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, cmd.ID)
	return n.err
}

type fakeStorage struct{}

func (fakeStorage) PresignUpload(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://s3.local/evidence/" + key + "?sig=put", nil
}

func (fakeStorage) PresignDownload(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://s3.local/evidence/" + key + "?sig=get", nil
}

type fakeTokens struct{}

func (fakeTokens) IssueDeviceToken(userID, deviceID string) (string, time.Time, error) {
	return "token-" + userID + "-" + deviceID, time.Now().Add(time.Hour), nil
}

type fixture struct {
	svc      *Service
	notifier *fakeNotifier
	clock    *clocktesting.FakeClock
}

func newFixture(t *testing.T, storage bool) *fixture {
	t.Helper()
	opts := options.NewDBOptions()
	opts.SQLitePath = filepath.Join(t.TempDir(), "relay.db")
	opts.LogLevel = "silent"
	db, err := store.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	f := &fixture{
		notifier: &fakeNotifier{},
		clock:    clocktesting.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)),
	}
	var st fakeStorage
	if storage {
		f.svc = New(store.NewRepository(db), f.notifier, st, fakeTokens{}, WithClock(f.clock))
	} else {
		f.svc = New(store.NewRepository(db), f.notifier, nil, fakeTokens{}, WithClock(f.clock))
	}

	_, err = f.svc.RegisterDevice(context.Background(), "user-1", &v1.RegisterDeviceRequest{DeviceID: "d1", BrowserInfo: "chrome", Version: "1.0"})
	require.NoError(t, err)
	return f
}

func insertParams(value string, criteria ...string) EnqueueParams {
	raw, _ := json.Marshal(v1.InsertContentPayload{Selector: ".doc", Value: value})
	return EnqueueParams{UserID: "user-1", DeviceID: "d1", Type: v1.CommandTypeInsertContent, Payload: raw, SuccessCriteria: criteria}
}

func evidence(cmd *v1.Command, status v1.ResultStatus, length int) *v1.ExecutionResult {
	r := v1.NewExecutionResult(cmd, status, "https://docs.example.com/d/1", "https://docs.example.com/d/1", "Doc",
		v1.DomSignals{EditorDetected: true, ContentLength: length}, "")
	return r
}

func TestEnqueueValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	tests := []struct {
		name     string
		params   EnqueueParams
		notFound bool
	}{
		{name: "unknown device", params: func() EnqueueParams { p := insertParams("x"); p.DeviceID = "ghost"; return p }(), notFound: true},
		{name: "other user's device", params: func() EnqueueParams { p := insertParams("x"); p.UserID = "user-2"; return p }(), notFound: true},
		{name: "unknown type", params: EnqueueParams{DeviceID: "d1", Type: "teleport", Payload: json.RawMessage(`{}`)}},
		{name: "bad payload", params: EnqueueParams{DeviceID: "d1", Type: v1.CommandTypeNavigate, Payload: json.RawMessage(`{"url":"ftp://x"}`)}},
		{name: "unknown field", params: EnqueueParams{DeviceID: "d1", Type: v1.CommandTypeClick, Payload: json.RawMessage(`{"selector":"a","force":true}`)}},
		{name: "bad criterion", params: insertParams("x", "content_length is big")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Enqueue(ctx, tt.params)
			require.ErrorIs(t, err, util.ErrValidation)
			assert.Equal(t, tt.notFound, errors.Is(err, util.ErrNotFound))
		})
	}

	pending, err := f.svc.ListPending(ctx, "d1")
	require.NoError(t, err)
	assert.Empty(t, pending, "rejected enqueues write nothing")
	assert.Empty(t, f.notifier.sent)
}

func TestEnqueueNotifiesBestEffort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.notifier.err = errors.New("broker down")

	cmd, err := f.svc.Enqueue(ctx, insertParams("hello"))
	require.NoError(t, err)
	assert.Equal(t, v1.CommandStatusPending, cmd.Status)
	assert.Equal(t, []string{cmd.ID}, f.notifier.sent)

	pending, err := f.svc.ListPending(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, cmd.ID, pending[0].ID)
}

func TestClaimExclusivity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	cmd, err := f.svc.Enqueue(ctx, insertParams("hello"))
	require.NoError(t, err)

	const n = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.svc.Claim(ctx, cmd.ID, "agent")
			assert.NoError(t, err)
			if got != nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestCompleteGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	cmd, err := f.svc.Enqueue(ctx, insertParams("hello"))
	require.NoError(t, err)
	_, err = f.svc.Claim(ctx, cmd.ID, "agent")
	require.NoError(t, err)

	wrong := evidence(cmd, v1.ResultStatusSuccess, 5)
	wrong.CommandID = "someone-else"
	_, err = f.svc.Complete(ctx, cmd.ID, wrong)
	assert.ErrorIs(t, err, util.ErrValidation)

	res := evidence(cmd, v1.ResultStatusSuccess, 5)
	done, err := f.svc.Complete(ctx, cmd.ID, res)
	require.NoError(t, err)
	assert.Equal(t, v1.CommandStatusDone, done.Status)

	_, err = f.svc.Complete(ctx, cmd.ID, res)
	assert.ErrorIs(t, err, util.ErrInvalidState)
}

func TestEndToEndVerifiedSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	cmd, err := f.svc.Enqueue(ctx, insertParams(strings.Repeat("X", 65), "content_length > 50"))
	require.NoError(t, err)
	claimed, err := f.svc.Claim(ctx, cmd.ID, "agent")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	_, err = f.svc.Complete(ctx, cmd.ID, evidence(claimed, v1.ResultStatusSuccess, 65))
	require.NoError(t, err)

	out, decided, err := f.svc.Verdict(ctx, cmd.ID)
	require.NoError(t, err)
	require.True(t, decided)
	assert.Equal(t, v1.VerdictSuccess, out.Status)
	assert.Equal(t, 100, out.VerificationScore)

	again, _, err := f.svc.Verdict(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Status, again.Status)
}

func TestEndToEndRetryWithHint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	cmd, err := f.svc.Enqueue(ctx, insertParams(strings.Repeat("X", 65), "content_length > 50"))
	require.NoError(t, err)
	claimed, err := f.svc.Claim(ctx, cmd.ID, "agent")
	require.NoError(t, err)

	res := evidence(claimed, v1.ResultStatusFailed, 0)
	res.Retryable = true
	failed, err := f.svc.Complete(ctx, cmd.ID, res)
	require.NoError(t, err)
	assert.Equal(t, v1.CommandStatusFailed, failed.Status)

	out, decided, err := f.svc.Verdict(ctx, cmd.ID)
	require.NoError(t, err)
	require.True(t, decided)
	assert.Equal(t, v1.VerdictRetry, out.Status)
	assert.NotEmpty(t, out.NewStrategyHint)
}

func TestVerdictWaitsForEvidence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	cmd, err := f.svc.Enqueue(ctx, insertParams("hello"))
	require.NoError(t, err)
	_, err = f.svc.Claim(ctx, cmd.ID, "agent")
	require.NoError(t, err)

	_, decided, err := f.svc.Verdict(ctx, cmd.ID)
	require.NoError(t, err)
	assert.False(t, decided)

	f.clock.Step(61 * time.Second)
	decidedCmds, err := f.svc.VerifyPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, decidedCmds, 1)
	assert.Equal(t, v1.VerdictRetry, decidedCmds[0].Verification.Status)
	assert.Equal(t, "no evidence received", decidedCmds[0].Verification.Reason)
}

func TestExpireStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	old, err := f.svc.Enqueue(ctx, insertParams("old"))
	require.NoError(t, err)
	f.clock.Step(11 * time.Minute)
	fresh, err := f.svc.Enqueue(ctx, insertParams("fresh"))
	require.NoError(t, err)

	pending, claimed, err := f.svc.ExpireStale(ctx, 10*time.Minute, 5*time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)
	assert.EqualValues(t, 0, claimed)

	got, err := f.svc.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.CommandStatusFailed, got.Status)
	assert.Equal(t, v1.ReasonExpired, got.StatusReason)

	got, err = f.svc.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.CommandStatusPending, got.Status)

	// A late completion of the expired command is stale.
	_, err = f.svc.Complete(ctx, old.ID, evidence(old, v1.ResultStatusSuccess, 3))
	assert.ErrorIs(t, err, util.ErrInvalidState)
}

func TestRegisterDevice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	resp, err := f.svc.RegisterDevice(ctx, "user-1", &v1.RegisterDeviceRequest{DeviceID: "d2", Version: "1.0"})
	require.NoError(t, err)
	assert.Equal(t, v1.RegistrationOnline, resp.Status)
	assert.Equal(t, "token-user-1-d2", resp.Token)

	resp, err = f.svc.RegisterDevice(ctx, "user-1", &v1.RegisterDeviceRequest{DeviceID: "d2", Version: "1.1"})
	require.NoError(t, err)
	assert.Equal(t, v1.RegistrationUpdated, resp.Status)
	assert.Equal(t, "1.1", resp.Device.Version)

	_, err = f.svc.RegisterDevice(ctx, "user-2", &v1.RegisterDeviceRequest{DeviceID: "d2"})
	assert.ErrorIs(t, err, util.ErrValidation)

	_, err = f.svc.RefreshToken(ctx, "user-2", "d2")
	assert.ErrorIs(t, err, util.ErrNotFound)

	f.clock.Step(time.Hour)
	n, err := f.svc.MarkOfflineDevices(ctx, 2*time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestCancelAndSupersede(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	cmd, err := f.svc.Enqueue(ctx, insertParams("hello"))
	require.NoError(t, err)

	fix, err := f.svc.Reissue(ctx, cmd, v1.InsertContentPayload{Selector: ".doc", Value: "hello", Mode: v1.InsertModeReplace})
	require.NoError(t, err)
	assert.Equal(t, cmd.ID, fix.ParentID)
	assert.Equal(t, 1, fix.Attempt)

	require.NoError(t, f.svc.Supersede(ctx, cmd))
	require.NoError(t, f.svc.Supersede(ctx, cmd), "already terminal")

	got, err := f.svc.Get(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.CommandStatusCancelled, got.Status)
	assert.Equal(t, v1.ReasonSuperseded, got.StatusReason)

	_, err = f.svc.Cancel(ctx, cmd.ID)
	assert.ErrorIs(t, err, util.ErrInvalidState)

	verdict, ok, err := f.svc.Verdict(ctx, cmd.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v1.VerdictFailure, verdict.Status, "a cancelled command is not queued for another attempt")
	assert.Empty(t, verdict.NewStrategyHint)
}

func TestArtifactUploadURL(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, false)
	cmd, err := f.svc.Enqueue(ctx, insertParams("hello"))
	require.NoError(t, err)
	_, err = f.svc.ArtifactUploadURL(ctx, cmd.ID)
	assert.ErrorIs(t, err, util.ErrUnavailable)

	f = newFixture(t, true)
	cmd, err = f.svc.Enqueue(ctx, insertParams("hello"))
	require.NoError(t, err)
	up, err := f.svc.ArtifactUploadURL(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, "d1/"+cmd.ID+".png", up.Key)
	assert.Contains(t, up.URL, "sig=put")

	down, err := f.svc.ArtifactDownloadURL(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Contains(t, down.URL, "sig=get")
}
