package server

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/domrelay/domrelay/pkg/log"
)

// Server is a long-running component stopped by cancelling ctx: the HTTP
// API, the MQTT ingress, the reaper and the supervisor.
type Server interface {
	Start(ctx context.Context) error
}

// Manager manages the lifecycle of all relay components.
type Manager struct {
	servers []Server
}

func NewManager(servers ...Server) *Manager {
	return &Manager{servers: servers}
}

// Start launches all servers in parallel. The first failure cancels the rest.
func (m *Manager) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range m.servers {
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	log.Info("All servers starting...", "count", len(m.servers))
	return g.Wait()
}
