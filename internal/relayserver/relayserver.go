// Package relayserver assembles relay-server: the command store, the push
// notifiers, the HTTP API, the expiry reaper and the verification supervisor.
package relayserver

import (
	"context"
	"errors"

	"github.com/domrelay/domrelay/internal/relayserver/server"
	"github.com/domrelay/domrelay/pkg/log"
)

type RelayServer struct {
	manager *server.Manager
	closers []func() error
}

// Run blocks until ctx is cancelled or a component fails, then releases
// the store and broker connections.
func (s *RelayServer) Run(ctx context.Context) error {
	log.Info("Starting relay server...")
	err := s.manager.Start(ctx)

	var errs []error
	for _, c := range s.closers {
		if cerr := c(); cerr != nil {
			errs = append(errs, cerr)
		}
	}
	if cerr := errors.Join(errs...); cerr != nil {
		log.Error(cerr, "Failed to release resources")
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
