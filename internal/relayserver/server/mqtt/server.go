package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/domrelay/domrelay/internal/pkg/util"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	"github.com/domrelay/domrelay/pkg/log"
	pkgmqtt "github.com/domrelay/domrelay/pkg/mqtt"
	"github.com/domrelay/domrelay/pkg/mqtt/topic"
)

// sharedGroup load-balances presence messages across relay-server replicas.
const sharedGroup = "relay-server"

// PresenceSink applies presence announcements.
type PresenceSink interface {
	SetPresence(ctx context.Context, deviceID string, online bool) error
}

// Server is the MQTT ingress of the relay server. It shares the client used
// by the command notifier and consumes device presence.
type Server struct {
	client pkgmqtt.Client
	topics *topic.Builder
	sink   PresenceSink
	logger log.Logger
}

func NewServer(client pkgmqtt.Client, builder *topic.Builder, sink PresenceSink) *Server {
	return &Server{
		client: client,
		topics: builder,
		sink:   sink,
		logger: log.WithName("mqtt-server"),
	}
}

// Start connects to the broker, subscribes to presence and blocks until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	if err := s.client.Start(ctx); err != nil {
		return err
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.client.Disconnect(shutdownCtx)
	}()

	s.logger.Info("Waiting for MQTT connection...")
	if err := s.client.AwaitConnection(ctx); err != nil {
		return err
	}

	filter := fmt.Sprintf("$share/%s/%s", sharedGroup, s.topics.PresenceWildcard())
	if err := s.client.Subscribe(ctx, filter, 1, s.handlePresence); err != nil {
		return fmt.Errorf("failed to subscribe to topic: %s, err: %w", filter, err)
	}

	<-ctx.Done()
	return nil
}

func (s *Server) handlePresence(ctx context.Context, t string, payload []byte) {
	if err := s.applyPresence(ctx, t, payload); err != nil {
		s.logger.Error(err, "Handler execution failed", "topic", t)
	}
}

// applyPresence trusts the topic over the body for the device id; a body
// may only repeat it.
func (s *Server) applyPresence(ctx context.Context, t string, payload []byte) error {
	deviceID, ok := topic.DeviceFromChannel(t)
	if !ok {
		return fmt.Errorf("presence topic %q carries no device", t)
	}

	var msg v1.PresenceMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode presence: %w", err)
	}
	if msg.DeviceID != "" && msg.DeviceID != deviceID {
		return fmt.Errorf("presence for %q published on %q", msg.DeviceID, t)
	}

	err := s.sink.SetPresence(ctx, deviceID, msg.Online)
	if errors.Is(err, util.ErrNotFound) {
		s.logger.Debug("Presence from unregistered device ignored", "device", deviceID)
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Debug("Presence updated", "device", deviceID, "online", msg.Online, "reason", msg.Reason)
	return nil
}
