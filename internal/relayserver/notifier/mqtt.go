package notifier

import (
	"context"
	"encoding/json"

	"github.com/domrelay/domrelay/internal/relayserver/core"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	pkgmqtt "github.com/domrelay/domrelay/pkg/mqtt"
	"github.com/domrelay/domrelay/pkg/mqtt/topic"
)

var _ core.CommandNotifier = (*MQTTNotifier)(nil)

type MQTTNotifier struct {
	client pkgmqtt.Client
	topics *topic.Builder
}

func NewMQTTNotifier(client pkgmqtt.Client, builder *topic.Builder) *MQTTNotifier {
	return &MQTTNotifier{
		client: client,
		topics: builder,
	}
}

func (n *MQTTNotifier) Name() string { return "mqtt" }

// Notify publishes the INSERT event at QoS 1 without retain: a retained
// message would replay an already-handled command on every reconnect.
func (n *MQTTNotifier) Notify(ctx context.Context, cmd *v1.Command) error {
	payload, err := json.Marshal(v1.NewInsertEvent(*cmd))
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.topics.Command(cmd.DeviceID), 1, false, payload)
}
