package relayagent

import (
	"context"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/cache"
	"k8s.io/client-go/util/workqueue"

	"github.com/domrelay/domrelay/internal/relayagent/executor"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	"github.com/domrelay/domrelay/pkg/log"
)

const (
	// finishedTTL keeps an executed id from being re-queued by a poll that
	// raced the claim.
	finishedTTL  = 2 * time.Minute
	finishedSize = 1024
)

// Executor runs one command to a terminal state.
type Executor interface {
	Execute(ctx context.Context, cmd v1.Command) (string, error)
}

// Dispatcher funnels push and poll wakeups into one queue keyed by command
// id and executes them on a single worker.
type Dispatcher struct {
	queue    workqueue.TypedInterface[string]
	exec     Executor
	finished *cache.LRUExpireCache
	logger   log.Logger

	mu   sync.Mutex
	cmds map[string]v1.Command
}

func NewDispatcher(exec Executor) *Dispatcher {
	return &Dispatcher{
		queue:    workqueue.NewTypedWithConfig(workqueue.TypedQueueConfig[string]{Name: "commands"}),
		exec:     exec,
		finished: cache.NewLRUExpireCache(finishedSize),
		logger:   log.WithName("dispatcher"),
		cmds:     map[string]v1.Command{},
	}
}

// Offer queues a pending command. An id already queued is not queued twice.
func (d *Dispatcher) Offer(cmd v1.Command) {
	if cmd.Status != v1.CommandStatusPending {
		return
	}
	if _, done := d.finished.Get(cmd.ID); done {
		return
	}

	d.mu.Lock()
	d.cmds[cmd.ID] = cmd
	d.mu.Unlock()
	d.queue.Add(cmd.ID)
}

// Len returns the number of queued ids.
func (d *Dispatcher) Len() int { return d.queue.Len() }

// Start runs the worker until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		d.queue.ShutDown()
	}()

	for d.processNext(ctx) {
	}
	return nil
}

func (d *Dispatcher) processNext(ctx context.Context) bool {
	id, shutdown := d.queue.Get()
	if shutdown {
		return false
	}
	defer d.queue.Done(id)

	d.mu.Lock()
	cmd, ok := d.cmds[id]
	delete(d.cmds, id)
	d.mu.Unlock()
	if !ok || ctx.Err() != nil {
		return true
	}

	state, err := d.exec.Execute(ctx, cmd)
	if err != nil {
		d.logger.Warn("Command execution incomplete", "command", id, "state", state, "err", err)
	}
	// A transport failure on claim leaves the command pending for the next poll.
	if state == executor.StateAbandoned && err != nil {
		return true
	}
	d.finished.Add(id, state, finishedTTL)
	return true
}
