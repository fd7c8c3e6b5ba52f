// Package connection owns the agent's push subscription and rebuilds it when
// credentials rotate or the transport breaks.
package connection

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/domrelay/domrelay/internal/relayagent/credentials"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	"github.com/domrelay/domrelay/pkg/log"
)

// Subscriber opens push subscriptions on one backend.
type Subscriber interface {
	Name() string

	// Subscribe starts delivering raw INSERT events for deviceID to deliver.
	Subscribe(ctx context.Context, deviceID string, creds credentials.Credentials, deliver func(payload []byte)) (Subscription, error)
}

// Subscription is one live push subscription.
type Subscription interface {
	// Err yields once when the transport fails and the subscription is unusable.
	Err() <-chan error

	Close(ctx context.Context) error
}

// DefaultBackoff paces resubscription after transport errors.
var DefaultBackoff = wait.Backoff{
	Duration: time.Second,
	Factor:   2,
	Jitter:   0.2,
	Steps:    8,
	Cap:      time.Minute,
}

// Manager keeps at most one live subscription. Every rebuild starts a new
// generation, and deliveries from older generations are dropped.
type Manager struct {
	sub      Subscriber
	deviceID string
	handler  func(v1.Command)
	backoff  wait.Backoff
	logger   log.Logger

	// mu serializes rebuilds. generation is read without it on delivery.
	mu         sync.Mutex
	generation atomic.Uint64
	current    Subscription

	updates chan credentials.Credentials
}

func NewManager(sub Subscriber, deviceID string, handler func(v1.Command)) *Manager {
	return &Manager{
		sub:      sub,
		deviceID: deviceID,
		handler:  handler,
		backoff:  DefaultBackoff,
		logger:   log.WithName("connection").WithValues("backend", sub.Name(), "device", deviceID),
		updates:  make(chan credentials.Credentials, 1),
	}
}

// Generation returns the number of rebuilds so far.
func (m *Manager) Generation() uint64 {
	return m.generation.Load()
}

// Rebuild closes the current subscription and opens a new one with creds.
// Concurrent calls are serialized; after each returns, at most one
// subscription is live.
func (m *Manager) Rebuild(ctx context.Context, creds credentials.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeLocked(ctx)
	gen := m.generation.Add(1)

	sub, err := m.sub.Subscribe(ctx, m.deviceID, creds, func(payload []byte) { m.deliver(gen, payload) })
	if err != nil {
		return err
	}
	m.current = sub
	m.logger.Info("Push subscription established", "generation", gen)
	return nil
}

// Update asks the running manager to rebuild with creds. The latest pending
// update wins.
func (m *Manager) Update(creds credentials.Credentials) {
	for {
		select {
		case m.updates <- creds:
			return
		default:
		}
		select {
		case <-m.updates:
		default:
		}
	}
}

// Start subscribes with creds and keeps the subscription alive until ctx is
// cancelled.
func (m *Manager) Start(ctx context.Context, creds credentials.Credentials) error {
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		m.mu.Lock()
		m.closeLocked(cctx)
		m.mu.Unlock()
	}()

	backoff := m.backoff
	for {
		errs, retry := m.rebuild(ctx, creds, &backoff)
		if !m.await(ctx, errs, retry, &creds, &backoff) {
			return nil
		}
	}
}

// await blocks until the next rebuild is due. It returns false once ctx is
// cancelled.
func (m *Manager) await(ctx context.Context, errs <-chan error, retry time.Duration, creds *credentials.Credentials, backoff *wait.Backoff) bool {
	var delay <-chan time.Time
	if retry > 0 {
		t := time.NewTimer(retry)
		defer t.Stop()
		delay = t.C
	}

	select {
	case <-ctx.Done():
		return false
	case *creds = <-m.updates:
		m.logger.Info("Credentials changed, rebuilding subscription")
		*backoff = m.backoff
		return true
	case err := <-errs:
		m.logger.Warn("Push transport failed, rebuilding subscription", "err", err)
		return sleep(ctx, backoff.Step())
	case <-delay:
		return true
	}
}

// rebuild returns the error channel of the new subscription, or the delay
// before the next attempt when subscribing failed.
func (m *Manager) rebuild(ctx context.Context, creds credentials.Credentials, backoff *wait.Backoff) (<-chan error, time.Duration) {
	if err := m.Rebuild(ctx, creds); err != nil {
		d := backoff.Step()
		m.logger.Warn("Push subscription failed, polling continues", "err", err, "retryIn", d)
		return nil, d
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Err(), 0
}

func (m *Manager) closeLocked(ctx context.Context) {
	if m.current == nil {
		return
	}
	if err := m.current.Close(ctx); err != nil {
		m.logger.Debug("Closing previous subscription", "generation", m.generation.Load(), "err", err)
	}
	m.current = nil
}

func (m *Manager) deliver(gen uint64, payload []byte) {
	if cur := m.Generation(); gen != cur {
		m.logger.Debug("Dropped delivery from superseded subscription", "generation", gen, "current", cur)
		return
	}

	var ev v1.InsertEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		m.logger.Warn("Malformed push event", "err", err)
		return
	}
	if ev.Event != "INSERT" || ev.Record.ID == "" {
		return
	}
	if ev.Record.DeviceID != m.deviceID {
		m.logger.Warn("Push event for another device ignored", "command", ev.Record.ID, "target", ev.Record.DeviceID)
		return
	}
	m.handler(ev.Record)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
