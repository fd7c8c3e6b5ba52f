package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domrelay/domrelay/internal/relayserver/core"
	"github.com/domrelay/domrelay/internal/pkg/util"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	"github.com/domrelay/domrelay/pkg/options"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	opts := options.NewDBOptions()
	opts.SQLitePath = filepath.Join(t.TempDir(), "relay.db")
	opts.LogLevel = "silent"

	db, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewRepository(db)
}

func newPending(t *testing.T, repo *Repository, deviceID string, createdAt time.Time) *v1.Command {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)
	cmd := &v1.Command{
		ID:        id.String(),
		DeviceID:  deviceID,
		UserID:    "user-1",
		Type:      v1.CommandTypeNavigate,
		Payload:   json.RawMessage(`{"url":"https://example.com"}`),
		Status:    v1.CommandStatusPending,
		CreatedAt: createdAt,
	}
	require.NoError(t, repo.Command().Create(context.Background(), cmd))
	return cmd
}

func successResult(id string) *v1.ExecutionResult {
	return &v1.ExecutionResult{
		Success:     true,
		Status:      v1.ResultStatusSuccess,
		CommandID:   id,
		CommandType: v1.CommandTypeNavigate,
		URLBefore:   "about:blank",
		URLAfter:    "https://example.com/",
		Timestamp:   time.Now().UTC(),
	}
}

func TestDeviceUpsert(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Now().UTC()

	dev := &v1.Device{ID: "d1", UserID: "user-1", BrowserInfo: "chrome", Version: "1.0", Capabilities: []string{"insert_via_api"}, Status: v1.DeviceStatusOnline, LastSeenAt: now, CreatedAt: now}
	created, err := repo.Device().Upsert(ctx, dev)
	require.NoError(t, err)
	assert.True(t, created)

	dev.Version = "1.1"
	created, err = repo.Device().Upsert(ctx, dev)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := repo.Device().Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "1.1", got.Version)
	assert.Equal(t, []string{"insert_via_api"}, got.Capabilities)

	_, err = repo.Device().Get(ctx, "missing")
	assert.ErrorIs(t, err, util.ErrNotFound)
}

func TestDeviceMarkOffline(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Now().UTC()

	for i, seen := range []time.Time{now.Add(-time.Hour), now} {
		_, err := repo.Device().Upsert(ctx, &v1.Device{ID: fmt.Sprintf("d%d", i), Status: v1.DeviceStatusOnline, LastSeenAt: seen, CreatedAt: seen})
		require.NoError(t, err)
	}

	n, err := repo.Device().MarkOffline(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	online, err := repo.Device().CountOnline(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, online)

	assert.ErrorIs(t, repo.Device().Touch(ctx, "nope", now), util.ErrNotFound)
}

func TestClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	cmd := newPending(t, repo, "d1", time.Now().UTC())

	const executors = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < executors; i++ {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			got, err := repo.Command().Claim(ctx, cmd.ID, agent, time.Now().UTC())
			assert.NoError(t, err)
			if got != nil {
				mu.Lock()
				winners = append(winners, agent)
				mu.Unlock()
			}
		}(fmt.Sprintf("agent-%d", i))
	}
	wg.Wait()

	require.Len(t, winners, 1)
	got, err := repo.Command().Get(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.CommandStatusClaimed, got.Status)
	assert.Equal(t, winners[0], got.ClaimedBy)
	assert.NotNil(t, got.ClaimedAt)
}

func TestClaimRetriedByHolder(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	cmd := newPending(t, repo, "d1", time.Now().UTC())

	first, err := repo.Command().Claim(ctx, cmd.ID, "agent-1", time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, first)

	again, err := repo.Command().Claim(ctx, cmd.ID, "agent-1", time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, again, "the holder's retry keeps its claim")
	assert.Equal(t, "agent-1", again.ClaimedBy)
	assert.Equal(t, first.ClaimedAt, again.ClaimedAt)

	other, err := repo.Command().Claim(ctx, cmd.ID, "agent-2", time.Now().UTC())
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestCompleteReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	cmd := newPending(t, repo, "d1", time.Now().UTC())
	_, err := repo.Command().Claim(ctx, cmd.ID, "agent", time.Now().UTC())
	require.NoError(t, err)

	res := successResult(cmd.ID)
	_, err = repo.Command().Complete(ctx, cmd.ID, res, time.Now().UTC())
	require.NoError(t, err)

	replayed, err := repo.Command().Complete(ctx, cmd.ID, res, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, v1.CommandStatusDone, replayed.Status)

	later := successResult(cmd.ID)
	later.Timestamp = res.Timestamp.Add(time.Second)
	_, err = repo.Command().Complete(ctx, cmd.ID, later, time.Now().UTC())
	assert.ErrorIs(t, err, util.ErrInvalidState, "a different result is still stale")
}

func TestClaimUnknownCommand(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.Command().Claim(context.Background(), "missing", "agent", time.Now())
	assert.ErrorIs(t, err, util.ErrNotFound)
}

func TestCompleteOnlyOnce(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	cmd := newPending(t, repo, "d1", time.Now().UTC())

	_, err := repo.Command().Complete(ctx, cmd.ID, successResult(cmd.ID), time.Now().UTC())
	assert.ErrorIs(t, err, util.ErrInvalidState, "completing a pending command")

	_, err = repo.Command().Claim(ctx, cmd.ID, "agent", time.Now().UTC())
	require.NoError(t, err)

	done, err := repo.Command().Complete(ctx, cmd.ID, successResult(cmd.ID), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, v1.CommandStatusDone, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, "https://example.com/", done.Result.URLAfter)

	failed := successResult(cmd.ID)
	failed.Success, failed.Status = false, v1.ResultStatusFailed
	_, err = repo.Command().Complete(ctx, cmd.ID, failed, time.Now().UTC())
	assert.ErrorIs(t, err, util.ErrInvalidState)

	got, err := repo.Command().Get(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.CommandStatusDone, got.Status, "first completion wins")
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	cmd := newPending(t, repo, "d1", time.Now().UTC())

	got, err := repo.Command().Cancel(ctx, cmd.ID, v1.ReasonCancelled, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, v1.CommandStatusCancelled, got.Status)

	_, err = repo.Command().Cancel(ctx, cmd.ID, v1.ReasonCancelled, time.Now().UTC())
	assert.ErrorIs(t, err, util.ErrInvalidState)

	claimed, err := repo.Command().Claim(ctx, cmd.ID, "agent", time.Now().UTC())
	require.NoError(t, err)
	assert.Nil(t, claimed, "cancelled commands cannot be claimed")
}

func TestExpire(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Now().UTC()

	stale := newPending(t, repo, "d1", now.Add(-11*time.Minute))
	fresh := newPending(t, repo, "d1", now)
	lease := newPending(t, repo, "d1", now.Add(-7*time.Minute))
	_, err := repo.Command().Claim(ctx, lease.ID, "agent", now.Add(-6*time.Minute))
	require.NoError(t, err)

	n, err := repo.Command().ExpirePending(ctx, now.Add(-10*time.Minute), now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = repo.Command().ExpireClaimed(ctx, now.Add(-5*time.Minute), now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := repo.Command().Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.CommandStatusFailed, got.Status)
	assert.Equal(t, v1.ReasonExpired, got.StatusReason)

	got, err = repo.Command().Get(ctx, lease.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.ReasonClaimExpired, got.StatusReason)

	got, err = repo.Command().Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.CommandStatusPending, got.Status)
}

func TestListOrder(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	at := time.Now().UTC()

	var want []string
	for i := 0; i < 5; i++ {
		want = append(want, newPending(t, repo, "d1", at).ID)
	}
	newPending(t, repo, "d2", at)

	got, err := repo.Command().List(ctx, core.ListFilter{DeviceID: "d1", Status: v1.CommandStatusPending})
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, want, ids)
}

func TestRecordVerdictOnce(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Now().UTC()
	cmd := newPending(t, repo, "d1", now)

	_, err := repo.Command().Claim(ctx, cmd.ID, "agent", now)
	require.NoError(t, err)
	_, err = repo.Command().Complete(ctx, cmd.ID, successResult(cmd.ID), now)
	require.NoError(t, err)

	unverified, err := repo.Command().ListUnverified(ctx, now.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, unverified, 1)

	first := &v1.VerifierOutput{Status: v1.VerdictSuccess, VerificationScore: 100}
	ok, err := repo.Command().RecordVerdict(ctx, cmd.ID, first)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Command().RecordVerdict(ctx, cmd.ID, &v1.VerifierOutput{Status: v1.VerdictFailure})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.Command().Get(ctx, cmd.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Verification)
	assert.Equal(t, v1.VerdictSuccess, got.Verification.Status)

	unverified, err = repo.Command().ListUnverified(ctx, now.Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, unverified)

	_, err = repo.Command().RecordVerdict(ctx, "missing", first)
	assert.ErrorIs(t, err, util.ErrNotFound)
}

func TestSetArtifact(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	cmd := newPending(t, repo, "d1", time.Now().UTC())

	require.NoError(t, repo.Command().SetArtifact(ctx, cmd.ID, "d1/x.png"))
	got, err := repo.Command().Get(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, "d1/x.png", got.ArtifactKey)

	assert.ErrorIs(t, repo.Command().SetArtifact(ctx, "missing", "k"), util.ErrNotFound)
}
