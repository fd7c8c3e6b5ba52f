// Package reaper expires commands and devices that stopped making progress.
package reaper

import (
	"context"
	"time"

	"k8s.io/utils/clock"

	"github.com/domrelay/domrelay/pkg/log"
	"github.com/domrelay/domrelay/pkg/options"
)

// Expirer is the part of the relay service the reaper drives.
type Expirer interface {
	ExpireStale(ctx context.Context, pendingTTL, claimTTL time.Duration) (int64, int64, error)
	MarkOfflineDevices(ctx context.Context, timeout time.Duration) (int64, error)
}

// Reaper periodically fails stale commands and marks silent devices offline.
type Reaper struct {
	svc    Expirer
	opts   *options.ReaperOptions
	clock  clock.WithTicker
	logger log.Logger
}

func New(svc Expirer, opts *options.ReaperOptions, c clock.WithTicker) *Reaper {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Reaper{
		svc:    svc,
		opts:   opts,
		clock:  c,
		logger: log.WithName("reaper"),
	}
}

// Start runs the reap loop until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) error {
	r.logger.Info("Starting reaper",
		"interval", r.opts.Interval,
		"pendingTTL", r.opts.PendingTTL,
		"claimTTL", r.opts.ClaimTTL)

	ticker := r.clock.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			r.reap(ctx)
		case <-ctx.Done():
			r.logger.Info("Stopping reaper")
			return nil
		}
	}
}

// reap logs failures and carries on; the next tick retries.
func (r *Reaper) reap(ctx context.Context) {
	if _, _, err := r.svc.ExpireStale(ctx, r.opts.PendingTTL, r.opts.ClaimTTL); err != nil {
		r.logger.Error(err, "Failed to expire stale commands")
	}
	if _, err := r.svc.MarkOfflineDevices(ctx, r.opts.HeartbeatTimeout); err != nil {
		r.logger.Error(err, "Failed to mark silent devices offline")
	}
}
