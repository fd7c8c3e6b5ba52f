// Package poller re-queries pending commands so delivery never depends on push.
package poller

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	"github.com/domrelay/domrelay/pkg/log"
)

// Lister returns a device's pending commands in creation order.
type Lister interface {
	ListPending(ctx context.Context, deviceID string) ([]v1.Command, error)
}

// Poller lists pending commands every interval and hands each to sink.
type Poller struct {
	lister   Lister
	deviceID string
	interval time.Duration
	sink     func(v1.Command)
	logger   log.Logger
}

func New(lister Lister, deviceID string, interval time.Duration, sink func(v1.Command)) *Poller {
	return &Poller{
		lister:   lister,
		deviceID: deviceID,
		interval: interval,
		sink:     sink,
		logger:   log.WithName("poller").WithValues("device", deviceID),
	}
}

// Start polls immediately and then every interval until ctx is cancelled.
func (p *Poller) Start(ctx context.Context) error {
	p.logger.Info("Starting pending-command poller", "interval", p.interval)
	wait.UntilWithContext(ctx, p.poll, p.interval)
	p.logger.Info("Stopping poller")
	return nil
}

func (p *Poller) poll(ctx context.Context) {
	cmds, err := p.lister.ListPending(ctx, p.deviceID)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("Polling pending commands failed", "err", err)
		}
		return
	}
	for _, cmd := range cmds {
		p.sink(cmd)
	}
}
