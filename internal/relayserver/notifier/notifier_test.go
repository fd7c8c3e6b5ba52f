package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	pkgmqtt "github.com/domrelay/domrelay/pkg/mqtt"
	"github.com/domrelay/domrelay/pkg/mqtt/topic"
)

type publish struct {
	topic   string
	qos     int
	retain  bool
	payload []byte
}

type fakeMQTT struct {
	pkgmqtt.Client

	mu        sync.Mutex
	published []publish
}

func (f *fakeMQTT) Publish(_ context.Context, t string, qos int, retain bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publish{t, qos, retain, payload})
	return nil
}

func TestMQTTNotifier(t *testing.T) {
	client := &fakeMQTT{}
	n := NewMQTTNotifier(client, topic.NewBuilder("domrelay/v1"))

	cmd := &v1.Command{ID: "c1", DeviceID: "d1", Type: v1.CommandTypeScanPage, Payload: json.RawMessage(`{}`), Status: v1.CommandStatusPending}
	require.NoError(t, n.Notify(context.Background(), cmd))

	require.Len(t, client.published, 1)
	p := client.published[0]
	assert.Equal(t, "domrelay/v1/command/device_d1", p.topic)
	assert.Equal(t, 1, p.qos)
	assert.False(t, p.retain)

	var ev v1.InsertEvent
	require.NoError(t, json.Unmarshal(p.payload, &ev))
	assert.Equal(t, "INSERT", ev.Event)
	assert.Equal(t, "commands", ev.Table)
	assert.Equal(t, "c1", ev.Record.ID)
}

type stubNotifier struct {
	name string
	err  error
	hits int
}

func (s *stubNotifier) Name() string { return s.name }

func (s *stubNotifier) Notify(context.Context, *v1.Command) error {
	s.hits++
	return s.err
}

func TestMultiTriesEveryBackend(t *testing.T) {
	boom := errors.New("boom")
	a, b := &stubNotifier{name: "mqtt", err: boom}, &stubNotifier{name: "redis"}
	m := Multi{a, b}

	err := m.Notify(context.Background(), &v1.Command{ID: "c1"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.hits)
	assert.Equal(t, 1, b.hits)
	assert.Equal(t, "mqtt+redis", m.Name())
}
