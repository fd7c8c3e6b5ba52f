package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/domrelay/domrelay/internal/relayagent/credentials"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

type fakeSub struct {
	errs   chan error
	closed bool
	owner  *fakeSubscriber
}

func (s *fakeSub) Err() <-chan error { return s.errs }

func (s *fakeSub) Close(context.Context) error {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.owner.live--
	}
	return nil
}

type fakeSubscriber struct {
	mu       sync.Mutex
	live     int
	tokens   []string
	delivers []func([]byte)
	subs     []*fakeSub
	fail     int
}

func (f *fakeSubscriber) Name() string { return "fake" }

func (f *fakeSubscriber) Subscribe(_ context.Context, _ string, creds credentials.Credentials, deliver func([]byte)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, creds.Token)
	if f.fail > 0 {
		f.fail--
		return nil, errors.New("broker unreachable")
	}
	s := &fakeSub{errs: make(chan error, 1), owner: f}
	f.live++
	f.subs = append(f.subs, s)
	f.delivers = append(f.delivers, deliver)
	return s, nil
}

func (f *fakeSubscriber) snapshot() (live int, tokens []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live, append([]string(nil), f.tokens...)
}

func (f *fakeSubscriber) deliver(i int, payload []byte) {
	f.mu.Lock()
	fn := f.delivers[i]
	f.mu.Unlock()
	fn(payload)
}

type collector struct {
	mu  sync.Mutex
	ids []string
}

func (c *collector) add(cmd v1.Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, cmd.ID)
}

func (c *collector) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func insert(t *testing.T, id, device string) []byte {
	t.Helper()
	b, err := json.Marshal(v1.NewInsertEvent(v1.Command{ID: id, DeviceID: device, Status: v1.CommandStatusPending}))
	require.NoError(t, err)
	return b
}

func TestRebuildKeepsOneSubscription(t *testing.T) {
	fs := &fakeSubscriber{}
	c := &collector{}
	m := NewManager(fs, "laptop", c.add)
	ctx := context.Background()

	for _, tok := range []string{"t1", "t2", "t3"} {
		require.NoError(t, m.Rebuild(ctx, credentials.Credentials{Token: tok}))
		live, _ := fs.snapshot()
		assert.Equal(t, 1, live)
	}
	assert.Equal(t, uint64(3), m.Generation())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Rebuild(ctx, credentials.Credentials{Token: "concurrent"}))
		}()
	}
	wg.Wait()
	live, _ := fs.snapshot()
	assert.Equal(t, 1, live)
}

func TestDeliveriesFromSupersededGenerationAreDropped(t *testing.T) {
	fs := &fakeSubscriber{}
	c := &collector{}
	m := NewManager(fs, "laptop", c.add)
	ctx := context.Background()

	require.NoError(t, m.Rebuild(ctx, credentials.Credentials{Token: "t1"}))
	require.NoError(t, m.Rebuild(ctx, credentials.Credentials{Token: "t2"}))

	fs.deliver(0, insert(t, "stale", "laptop"))
	fs.deliver(1, insert(t, "fresh", "laptop"))
	fs.deliver(1, insert(t, "foreign", "desktop"))
	fs.deliver(1, []byte("{not json"))
	fs.deliver(1, []byte(`{"event":"UPDATE","table":"commands","record":{"id":"x","device_id":"laptop"}}`))

	assert.Equal(t, []string{"fresh"}, c.got())
}

func TestStartRebuildsOnTransportErrorAndUpdate(t *testing.T) {
	defer goleak.VerifyNone(t)

	fs := &fakeSubscriber{fail: 1}
	m := NewManager(fs, "laptop", (&collector{}).add)
	m.backoff = wait.Backoff{Duration: time.Millisecond, Factor: 1, Steps: 1}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx, credentials.Credentials{Token: "t1"}) }()

	// The first attempt fails and is retried.
	require.Eventually(t, func() bool { live, _ := fs.snapshot(); return live == 1 }, 2*time.Second, time.Millisecond)

	fs.mu.Lock()
	fs.subs[0].errs <- errors.New("connection reset")
	fs.mu.Unlock()
	require.Eventually(t, func() bool { _, tokens := fs.snapshot(); return len(tokens) == 3 }, 2*time.Second, time.Millisecond)

	m.Update(credentials.Credentials{Token: "t2"})
	require.Eventually(t, func() bool { _, tokens := fs.snapshot(); return len(tokens) == 4 }, 2*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	live, tokens := fs.snapshot()
	assert.Zero(t, live)
	assert.Equal(t, []string{"t1", "t1", "t1", "t2"}, tokens)
}

func TestUpdateKeepsLatest(t *testing.T) {
	m := NewManager(&fakeSubscriber{}, "laptop", func(v1.Command) {})
	m.Update(credentials.Credentials{Token: "a"})
	m.Update(credentials.Credentials{Token: "b"})
	assert.Equal(t, "b", (<-m.updates).Token)
}
