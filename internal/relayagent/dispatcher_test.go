package relayagent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/domrelay/domrelay/internal/relayagent/executor"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

type blockingExecutor struct {
	mu      sync.Mutex
	started chan string
	release chan struct{}
	runs    []string
	state   string
	err     error
}

func (b *blockingExecutor) Execute(_ context.Context, cmd v1.Command) (string, error) {
	b.started <- cmd.ID
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runs = append(b.runs, cmd.ID)
	return b.state, b.err
}

func (b *blockingExecutor) executed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.runs...)
}

func pending(id string) v1.Command {
	return v1.Command{ID: id, DeviceID: "laptop", Status: v1.CommandStatusPending}
}

func TestDispatcherDedupesWakeups(t *testing.T) {
	defer goleak.VerifyNone(t)

	exec := &blockingExecutor{started: make(chan string, 4), release: make(chan struct{}), state: executor.StateDone}
	d := NewDispatcher(exec)

	// Push and poll both report a and b before the worker starts.
	for _, id := range []string{"a", "b", "a", "a", "b"} {
		d.Offer(pending(id))
	}
	d.Offer(v1.Command{ID: "c", Status: v1.CommandStatusClaimed})
	assert.Equal(t, 2, d.Len())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	assert.Equal(t, "a", <-exec.started)
	// Executed ids are not queued again by a late poll.
	close(exec.release)
	assert.Equal(t, "b", <-exec.started)
	require.Eventually(t, func() bool { return len(exec.executed()) == 2 }, time.Second, time.Millisecond)

	d.Offer(pending("a"))
	assert.Zero(t, d.Len())

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"a", "b"}, exec.executed())
}

func TestDispatcherRequeuesAfterTransportAbandon(t *testing.T) {
	defer goleak.VerifyNone(t)

	exec := &blockingExecutor{started: make(chan string, 4), release: make(chan struct{}), state: executor.StateAbandoned, err: context.DeadlineExceeded}
	close(exec.release)
	d := NewDispatcher(exec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	d.Offer(pending("a"))
	assert.Equal(t, "a", <-exec.started)
	require.Eventually(t, func() bool { return len(exec.executed()) == 1 }, time.Second, time.Millisecond)

	d.Offer(pending("a"))
	assert.Equal(t, "a", <-exec.started)

	cancel()
	require.NoError(t, <-done)
}
