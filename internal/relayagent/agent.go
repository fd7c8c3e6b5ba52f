// Package relayagent runs commands from relay-server against a browser page.
package relayagent

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/domrelay/domrelay/internal/relayagent/browser"
	"github.com/domrelay/domrelay/internal/relayagent/connection"
	"github.com/domrelay/domrelay/internal/relayagent/credentials"
	"github.com/domrelay/domrelay/internal/relayagent/poller"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	"github.com/domrelay/domrelay/pkg/log"
)

// API is the relay-server surface used outside the executor.
type API interface {
	RegisterDevice(ctx context.Context, req *v1.RegisterDeviceRequest) (*v1.RegisterDeviceResponse, error)
	Heartbeat(ctx context.Context, deviceID string) error
	RefreshToken(ctx context.Context, deviceID string) (*v1.TokenResponse, error)
	ListPending(ctx context.Context, deviceID string) ([]v1.Command, error)
}

// Agent wires delivery, execution and credential upkeep for one device.
type Agent struct {
	registration v1.RegisterDeviceRequest
	api          API
	// bootstrap registers the device with a user token when no device
	// credentials exist. It may be nil.
	bootstrap API

	store      *credentials.Store
	dispatcher *Dispatcher
	poller     *poller.Poller
	conn       *connection.Manager
	refresher  *credentials.Refresher
	driver     browser.Driver
	heartbeat  time.Duration
	logger     log.Logger
}

func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Starting relay-agent", "device", a.registration.DeviceID, "push", a.conn != nil)
	defer func() {
		if err := a.driver.Close(); err != nil {
			a.logger.Warn("Closing browser", "err", err)
		}
	}()

	creds, err := a.register(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.dispatcher.Start(ctx) })
	g.Go(func() error { return a.poller.Start(ctx) })
	g.Go(func() error { return a.refresher.Start(ctx) })
	g.Go(func() error { return a.store.Watch(ctx, a.credentialsChanged) })
	g.Go(func() error {
		wait.UntilWithContext(ctx, a.beat, a.heartbeat)
		return nil
	})
	if a.conn != nil {
		g.Go(func() error { return a.conn.Start(ctx, creds) })
	}

	err = g.Wait()
	a.logger.Info("Agent shutting down...")
	return err
}

// register announces the device and stores the device token it receives.
// Existing device credentials are used when valid; otherwise the bootstrap
// client registers with the user token.
func (a *Agent) register(ctx context.Context) (credentials.Credentials, error) {
	api := a.api
	cur, err := a.store.Load()
	switch {
	case err == nil && cur.DeviceID == a.registration.DeviceID && cur.Valid(time.Now()):
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return credentials.Credentials{}, err
	case a.bootstrap == nil:
		return credentials.Credentials{}, fmt.Errorf("no valid credentials for device %s and no user token to register with", a.registration.DeviceID)
	default:
		api = a.bootstrap
	}

	resp, err := api.RegisterDevice(ctx, &a.registration)
	if err != nil {
		return credentials.Credentials{}, fmt.Errorf("register device %s: %w", a.registration.DeviceID, err)
	}

	next := credentials.Credentials{DeviceID: resp.Device.ID, Token: resp.Token, ExpiresAt: resp.ExpiresAt}
	if next.Token == "" {
		next = cur
	}
	if err := a.store.Save(next); err != nil {
		return credentials.Credentials{}, err
	}
	a.logger.Info("Device registered", "device", resp.Device.ID, "status", resp.Status, "expiresAt", next.ExpiresAt)
	return next, nil
}

func (a *Agent) credentialsChanged(c credentials.Credentials) {
	if a.conn != nil {
		a.conn.Update(c)
	}
}

func (a *Agent) beat(ctx context.Context) {
	if err := a.api.Heartbeat(ctx, a.registration.DeviceID); err != nil && ctx.Err() == nil {
		a.logger.Warn("Heartbeat failed", "err", err)
	}
}
