package credentials

import (
	"context"
	"time"

	"k8s.io/utils/clock"

	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	"github.com/domrelay/domrelay/pkg/log"
)

const (
	// recheckInterval bounds how long the refresher sleeps, so rotations
	// from the file watcher are picked up.
	recheckInterval = time.Minute
	retryInterval   = 15 * time.Second
)

// Renewer issues a fresh device token.
type Renewer interface {
	RefreshToken(ctx context.Context, deviceID string) (*v1.TokenResponse, error)
}

// Refresher renews the device token before it expires.
type Refresher struct {
	store     *Store
	api       Renewer
	before    time.Duration
	onRefresh func(Credentials)
	clock     clock.Clock
	logger    log.Logger
}

// NewRefresher renews the token in store before-expiry ahead of time and
// calls onRefresh with every new token.
func NewRefresher(store *Store, api Renewer, before time.Duration, onRefresh func(Credentials), c clock.Clock) *Refresher {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Refresher{
		store:     store,
		api:       api,
		before:    before,
		onRefresh: onRefresh,
		clock:     c,
		logger:    log.WithName("token-refresher"),
	}
}

// Start runs until ctx is cancelled.
func (r *Refresher) Start(ctx context.Context) error {
	delay := r.next()
	for {
		t := r.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C():
		}

		if r.next() > 0 {
			delay = r.next()
			continue
		}
		if err := r.refresh(ctx); err != nil {
			r.logger.Warn("Token refresh failed", "err", err, "retryIn", retryInterval)
			delay = retryInterval
			continue
		}
		// A token issued with less lifetime than before must not spin.
		delay = max(r.next(), retryInterval)
	}
}

// next returns how long to sleep before the token is due for renewal.
func (r *Refresher) next() time.Duration {
	c := r.store.Current()
	if c.ExpiresAt.IsZero() {
		return recheckInterval
	}
	d := c.ExpiresAt.Add(-r.before).Sub(r.clock.Now())
	return max(0, min(d, recheckInterval))
}

func (r *Refresher) refresh(ctx context.Context) error {
	cur := r.store.Current()
	resp, err := r.api.RefreshToken(ctx, cur.DeviceID)
	if err != nil {
		return err
	}

	next := Credentials{DeviceID: cur.DeviceID, Token: resp.Token, ExpiresAt: resp.ExpiresAt}
	if err := r.store.Save(next); err != nil {
		return err
	}
	r.logger.Info("Device token refreshed", "device", next.DeviceID, "expiresAt", next.ExpiresAt)
	if r.onRefresh != nil {
		r.onRefresh(next)
	}
	return nil
}
